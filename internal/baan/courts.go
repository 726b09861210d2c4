package baan

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/reservations"
)

// CourtRanks maps a court id to its desirability; lower is better.
type CourtRanks map[int]int

// DefaultCourtRanks prefers the show courts, then the rest in hall order.
func DefaultCourtRanks() CourtRanks {
	return CourtRanks{
		51: 0, 52: 1, 53: 2, 54: 3, 55: 4,
		56: 5, 57: 6, 58: 7, 59: 8, 60: 9,
		61: 10, 62: 11, 63: 12, 64: 13,
	}
}

// Rank of an unknown court sorts after every known one.
func (r CourtRanks) Rank(court int) int {
	if v, ok := r[court]; ok {
		return v
	}
	return math.MaxInt
}

// Best picks the lowest ranked court; ties keep the earlier entry.
func (r CourtRanks) Best(courts []int) (int, bool) {
	if len(courts) == 0 {
		return 0, false
	}
	best := courts[0]
	for _, c := range courts[1:] {
		if r.Rank(c) < r.Rank(best) {
			best = c
		}
	}
	return best, true
}

// Slot is a court at a start time.
type Slot struct {
	Time  time.Time
	Court int
}

// Selection is the outcome of SelectSlot: either a clicked slot or no court
// available at any of the reservation's times.
type Selection struct {
	slot  Slot
	found bool
}

func Selected(s Slot) Selection { return Selection{slot: s, found: true} }

func NoCourtAvailable() Selection { return Selection{} }

func (s Selection) Slot() (Slot, bool) { return s.slot, s.found }

func (s Selection) Available() bool { return s.found }

type CourtSelector struct {
	Site  Site
	Ranks CourtRanks
}

// SelectSlot opens the reservation's day and clicks the best free court at
// the earliest possible time that has one.
func (c *CourtSelector) SelectSlot(ctx context.Context, s *Session, r reservations.Reservation) (Selection, error) {
	if r.End.Before(r.Start) {
		return Selection{}, reservations.ErrEndBeforeStart
	}
	if !reservations.OnGrid(r.Start) || !reservations.OnGrid(r.End) {
		return Selection{}, reservations.ErrOffGrid
	}
	logger := log.Ctx(ctx).With().Str("reservation_id", r.ID).Logger()

	if err := c.OpenDay(ctx, s, r.Start); err != nil {
		return Selection{}, err
	}

	for _, t := range r.PossibleTimes() {
		hhmm := c.Site.local(t).Format(timeLayout)
		courts, err := c.freeCourts(ctx, s, hhmm)
		if err != nil {
			return Selection{}, stepErr(StepReadCourts, err)
		}
		court, ok := c.Ranks.Best(courts)
		if !ok {
			logger.Debug().Str("time", hhmm).Msg("No free court")
			continue
		}
		if err := s.Page.Click(ctx, fmt.Sprintf(selCourtAt, hhmm, court)); err != nil {
			return Selection{}, stepErr(StepSelectCourt, err)
		}
		if err := s.Page.WaitIdle(ctx); err != nil {
			return Selection{}, stepErr(StepSelectCourt, err)
		}
		logger.Info().Str("time", hhmm).Int("court", court).Msg("Selected court")
		return Selected(Slot{Time: t, Court: court}), nil
	}

	logger.Info().Msg("No court available at any possible time")
	return NoCourtAvailable(), nil
}

// OpenDay shows the calendar for day, paging to the next month when day lies
// past the last date in the current view.
func (c *CourtSelector) OpenDay(ctx context.Context, s *Session, day time.Time) error {
	if err := s.Page.Navigate(ctx, c.Site.URL(pathOverview)); err != nil {
		return stepErr(StepOpenCalendar, err)
	}
	if err := s.Page.WaitIdle(ctx); err != nil {
		return stepErr(StepOpenCalendar, err)
	}

	target := c.Site.local(day).Format(dateLayout)
	visible, err := s.Page.Attrs(ctx, selCalendarDays, "data-date")
	if err != nil {
		return stepErr(StepOpenCalendar, err)
	}

	if !slices.Contains(visible, target) && len(visible) > 0 && target > slices.Max(visible) {
		if err := s.Page.Click(ctx, selNextMonth); err != nil {
			return stepErr(StepNextMonth, err)
		}
		if err := s.Page.WaitIdle(ctx); err != nil {
			return stepErr(StepNextMonth, err)
		}
		if visible, err = s.Page.Attrs(ctx, selCalendarDays, "data-date"); err != nil {
			return stepErr(StepNextMonth, err)
		}
	}
	if !slices.Contains(visible, target) {
		return stepErr(StepSelectDay, fmt.Errorf("%w: %s", ErrDayNotVisible, target))
	}

	if err := s.Page.Click(ctx, fmt.Sprintf(selCalendarDay, target)); err != nil {
		return stepErr(StepSelectDay, err)
	}
	if err := s.Page.WaitIdle(ctx); err != nil {
		return stepErr(StepSelectDay, err)
	}
	return nil
}

// CourtSnapshot holds the free courts per start time ("15:04") of one day.
type CourtSnapshot map[string][]int

// Snapshot reads every free court of day without clicking any.
func (c *CourtSelector) Snapshot(ctx context.Context, s *Session, day time.Time) (CourtSnapshot, error) {
	if err := c.OpenDay(ctx, s, day); err != nil {
		return nil, err
	}
	times, err := s.Page.Attrs(ctx, selTimeRows, "data-time")
	if err != nil {
		return nil, stepErr(StepReadCourts, err)
	}
	snap := make(CourtSnapshot, len(times))
	for _, hhmm := range times {
		courts, err := c.freeCourts(ctx, s, hhmm)
		if err != nil {
			return nil, stepErr(StepReadCourts, err)
		}
		if len(courts) > 0 {
			snap[hhmm] = courts
		}
	}
	return snap, nil
}

// Freed returns the courts free in next that were not free in prev.
func (prev CourtSnapshot) Freed(next CourtSnapshot) CourtSnapshot {
	out := CourtSnapshot{}
	for hhmm, courts := range next {
		for _, court := range courts {
			if !slices.Contains(prev[hhmm], court) {
				out[hhmm] = append(out[hhmm], court)
			}
		}
	}
	return out
}

func (c *CourtSelector) freeCourts(ctx context.Context, s *Session, hhmm string) ([]int, error) {
	raw, err := s.Page.Attrs(ctx, fmt.Sprintf(selFreeCourts, hhmm), "slot")
	if err != nil {
		return nil, err
	}
	courts := make([]int, 0, len(raw))
	for _, v := range raw {
		court, err := strconv.Atoi(v)
		if err != nil {
			log.Ctx(ctx).Debug().Str("slot", v).Msg("Skipping court with unparseable id")
			continue
		}
		courts = append(courts, court)
	}
	return courts, nil
}
