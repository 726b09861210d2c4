package baan

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/reservations"
)

const (
	// WaitlistEntryLength is what the site's waiting list form accepts as the
	// end time, whatever the reservation's own length.
	WaitlistEntryLength  = 45 * time.Minute
	DefaultDialogTimeout = 10 * time.Second
)

type WaitlistRegistrar struct {
	Site          Site
	DialogTimeout time.Duration
}

// Register puts r on the site's waiting list and returns the entry id the site
// assigned. The site does not report the id, so it is the one id that shows up
// in the list after submitting and was not there before.
func (w *WaitlistRegistrar) Register(ctx context.Context, s *Session, r reservations.Reservation) (int64, error) {
	before, err := w.EntryIDs(ctx, s)
	if err != nil {
		return 0, err
	}

	if err := s.Page.Click(ctx, selWaitlistAdd); err != nil {
		return 0, stepErr(StepOpenWaitlistForm, err)
	}
	if err := s.Page.WaitIdle(ctx); err != nil {
		return 0, stepErr(StepOpenWaitlistForm, err)
	}

	start := w.Site.local(r.Start)
	end := start.Add(WaitlistEntryLength)
	fields := []struct{ sel, value string }{
		{selWaitlistStart, start.Format(formDateFmt)},
		{selWaitlistEnd, end.Format(formDateFmt)},
		{selWaitlistFrom, start.Format(timeLayout)},
		{selWaitlistTo, end.Format(timeLayout)},
	}
	for _, f := range fields {
		if err := s.Page.SetValue(ctx, f.sel, f.value); err != nil {
			return 0, stepErr(StepFillWaitlistForm, err)
		}
	}

	if err := s.Page.Click(ctx, selWaitlistSubmit); err != nil {
		return 0, stepErr(StepWaitlistSubmit, err)
	}
	if err := s.Page.WaitIdle(ctx); err != nil {
		return 0, stepErr(StepWaitlistSubmit, err)
	}

	after, err := w.EntryIDs(ctx, s)
	if err != nil {
		return 0, err
	}
	id, err := NewEntryID(before, after)
	if err != nil {
		return 0, fmt.Errorf("register waitlist for %s: %w", r.ID, err)
	}
	log.Ctx(ctx).Info().Str("reservation_id", r.ID).Int64("entry_id", id).Msg("Registered on waiting list")
	return id, nil
}

// NewEntryID returns the id present in after but not in before. With several
// new ids the highest wins, since the site numbers entries ascending.
func NewEntryID(before, after []int64) (int64, error) {
	var found []int64
	for _, id := range after {
		if !slices.Contains(before, id) {
			found = append(found, id)
		}
	}
	if len(found) == 0 {
		return 0, ErrNoNewWaitlistEntry
	}
	return slices.Max(found), nil
}

// EntryIDs opens the waiting list and reads the ids of its entries.
func (w *WaitlistRegistrar) EntryIDs(ctx context.Context, s *Session) ([]int64, error) {
	if err := s.Page.Navigate(ctx, w.Site.URL(pathWaitlist)); err != nil {
		return nil, stepErr(StepOpenWaitlist, err)
	}
	if err := s.Page.WaitIdle(ctx); err != nil {
		return nil, stepErr(StepOpenWaitlist, err)
	}
	cells, err := s.Page.Texts(ctx, selWaitlistIDs)
	if err != nil {
		return nil, stepErr(StepReadWaitlist, err)
	}
	ids := make([]int64, 0, len(cells))
	for _, c := range cells {
		// the empty list renders a single placeholder row
		id, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Remove deletes r's waiting list entry. It is a no-op unless r is waitlisted.
func (w *WaitlistRegistrar) Remove(ctx context.Context, s *Session, r reservations.Reservation) error {
	if !r.Waitlisted() {
		return nil
	}
	entry := *r.WaitingListEntryID
	logger := log.Ctx(ctx).With().Str("reservation_id", r.ID).Int64("entry_id", entry).Logger()

	if err := s.Page.Navigate(ctx, w.Site.URL(pathWaitlist)); err != nil {
		return stepErr(StepOpenWaitlist, err)
	}
	if err := s.Page.WaitIdle(ctx); err != nil {
		return stepErr(StepOpenWaitlist, err)
	}
	cells, err := s.Page.Texts(ctx, selWaitlistIDs)
	if err != nil {
		return stepErr(StepReadWaitlist, err)
	}
	row := slices.Index(cells, strconv.FormatInt(entry, 10))
	if row < 0 {
		logger.Warn().Msg("Waiting list entry already gone")
		return nil
	}

	timeout := w.DialogTimeout
	if timeout <= 0 {
		timeout = DefaultDialogTimeout
	}
	if err := s.Page.ClickAndAcceptDialog(ctx, fmt.Sprintf(selWaitlistDelete, row+1), timeout); err != nil {
		return stepErr(StepWaitlistRemove, err)
	}
	if err := s.Page.WaitIdle(ctx); err != nil {
		return stepErr(StepWaitlistRemove, err)
	}
	logger.Info().Msg("Removed from waiting list")
	return nil
}
