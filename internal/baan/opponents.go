package baan

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/reservations"
)

// The owner occupies the first participant slot on the form.
const firstOpponentSlot = 2

func playerSlot(i int) int { return firstOpponentSlot + i }

type OpponentResolver struct {
	KeyDelay time.Duration
}

// FillOpponents enters each opponent through the participant search. If any
// opponent cannot be selected, the form is reset to a single guest instead of
// a partial list. Other failures are returned as they are.
func (o *OpponentResolver) FillOpponents(ctx context.Context, s *Session, opponents []reservations.Opponent) error {
	if len(opponents) > reservations.MaxOpponents {
		return fmt.Errorf("at most %d opponents, got %d", reservations.MaxOpponents, len(opponents))
	}

	err := o.fill(ctx, s, opponents)
	if err == nil {
		return nil
	}
	if step, _ := StepOf(err); step != StepOpponentSelect {
		return err
	}

	log.Ctx(ctx).Warn().Err(err).Int("opponents", len(opponents)).Msg("Opponent selection failed, falling back to guest")
	return o.fallbackToGuest(ctx, s, len(opponents))
}

func (o *OpponentResolver) fill(ctx context.Context, s *Session, opponents []reservations.Opponent) error {
	for i, opp := range opponents {
		slot := playerSlot(i)
		if err := s.Page.Type(ctx, fmt.Sprintf(selPlayerSearch, slot), opp.Name, o.KeyDelay); err != nil {
			return stepErr(StepOpponentInput, err)
		}
		if err := s.Page.WaitIdle(ctx); err != nil {
			return stepErr(StepOpponentInput, err)
		}

		found, err := s.Page.Exists(ctx, fmt.Sprintf(selPlayerOption, slot, opp.ID))
		if err != nil {
			return stepErr(StepOpponentSelect, err)
		}
		if !found {
			return stepErr(StepOpponentSelect, fmt.Errorf("%w: %s (%s)", ErrOpponentNotFound, opp.Name, opp.ID))
		}
		if err := s.Page.SetValue(ctx, fmt.Sprintf(selPlayerSelect, slot), opp.ID); err != nil {
			return stepErr(StepOpponentSelect, err)
		}
	}
	return nil
}

func (o *OpponentResolver) fallbackToGuest(ctx context.Context, s *Session, n int) error {
	for i := 0; i < n; i++ {
		if err := s.Page.SetValue(ctx, fmt.Sprintf(selPlayerSelect, playerSlot(i)), ""); err != nil {
			return stepErr(StepGuestFallback, err)
		}
	}
	if err := s.Page.SetValue(ctx, fmt.Sprintf(selPlayerSelect, playerSlot(0)), GuestID); err != nil {
		return stepErr(StepGuestFallback, err)
	}
	return nil
}

// Confirm submits the reservation form and its confirmation page.
func (o *OpponentResolver) Confirm(ctx context.Context, s *Session) error {
	for _, sel := range []string{selConfirm, selConfirmFinal} {
		if err := s.Page.Click(ctx, sel); err != nil {
			return stepErr(StepConfirm, err)
		}
		if err := s.Page.WaitIdle(ctx); err != nil {
			return stepErr(StepConfirm, err)
		}
	}
	rejected, err := s.Page.Exists(ctx, selBookingError)
	if err != nil {
		return stepErr(StepConfirm, err)
	}
	if rejected {
		msg, _ := s.Page.Texts(ctx, selBookingError)
		return stepErr(StepConfirm, fmt.Errorf("%w: %v", ErrBookingRejected, msg))
	}
	return nil
}
