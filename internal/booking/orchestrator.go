// Package booking runs a reservation against the site: book it directly, or
// put it on the waiting list when that fails.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/baan"
	"github.com/cgduncan7/autobaan/internal/notify"
	"github.com/cgduncan7/autobaan/internal/reservations"
)

// ErrAlreadyWaitlisted is returned when a reservation that is already on the
// waiting list fails again. Registering it a second time would duplicate the
// entry.
var ErrAlreadyWaitlisted = errors.New("reservation already on the waiting list")

type Sessions interface {
	EnsureSession(ctx context.Context, s *baan.Session, ownerID string) error
}

type Courts interface {
	SelectSlot(ctx context.Context, s *baan.Session, r reservations.Reservation) (baan.Selection, error)
	Snapshot(ctx context.Context, s *baan.Session, day time.Time) (baan.CourtSnapshot, error)
}

// Form fills and submits the booking form once a court is selected.
type Form interface {
	FillOpponents(ctx context.Context, s *baan.Session, opponents []reservations.Opponent) error
	Confirm(ctx context.Context, s *baan.Session) error
}

type Waitlist interface {
	Register(ctx context.Context, s *baan.Session, r reservations.Reservation) (int64, error)
	Remove(ctx context.Context, s *baan.Session, r reservations.Reservation) error
}

type Store interface {
	UpdateStatus(ctx context.Context, id string, status reservations.Status, entryID *int64) error
	Delete(ctx context.Context, id string) error
}

type Outcome int

const (
	OutcomeBooked Outcome = iota + 1
	OutcomeWaitlisted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBooked:
		return "booked"
	case OutcomeWaitlisted:
		return "waitlisted"
	default:
		return "unknown"
	}
}

// Request is one execution attempt. Attempt counts from 1.
type Request struct {
	Reservation reservations.Reservation
	Attempt     int
	MaxAttempts int
	// Promoted marks a retry triggered by a freed waiting list slot.
	Promoted bool
}

func (r Request) lastAttempt() bool { return r.Attempt >= r.MaxAttempts }

type Result struct {
	Outcome Outcome
	Slot    baan.Slot
	EntryID int64
}

// Orchestrator owns one browser session. Every sequence it runs holds the
// session for its whole duration, so callers sharing an Orchestrator are
// serialised.
type Orchestrator struct {
	sessions Sessions
	courts   Courts
	form     Form
	waitlist Waitlist
	store    Store
	notifier notify.Notifier

	mu      sync.Mutex
	session *baan.Session
}

func New(session *baan.Session, sessions Sessions, courts Courts, form Form, waitlist Waitlist, store Store, n notify.Notifier) *Orchestrator {
	if n == nil {
		n = notify.Log{}
	}
	return &Orchestrator{
		sessions: sessions,
		courts:   courts,
		form:     form,
		waitlist: waitlist,
		store:    store,
		notifier: n,
		session:  session,
	}
}

// Execute tries to book req's reservation. No free court, or a failed last
// attempt, moves the reservation to the waiting list instead of failing. A
// step error before the last attempt is returned so the caller can retry.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	r := req.Reservation
	logger := log.Ctx(ctx).With().
		Str("reservation_id", r.ID).
		Int("attempt", req.Attempt).
		Int("max_attempts", req.MaxAttempts).
		Bool("promoted", req.Promoted).
		Logger()
	ctx = logger.WithContext(ctx)

	if req.Attempt <= 1 && !req.Promoted {
		o.notifier.Notify(ctx, event(notify.KindPerforming, r, ""))
	}

	sel, err := o.book(ctx, r)
	if err == nil {
		if slot, ok := sel.Slot(); ok {
			return o.booked(ctx, r, slot), nil
		}
		logger.Info().Msg("No court available")
		return o.fallback(ctx, req, errors.New("no court available"))
	}

	logStepError(logger, err)
	if req.Promoted || r.Waitlisted() || !req.lastAttempt() {
		return Result{}, err
	}
	return o.fallback(ctx, req, err)
}

func (o *Orchestrator) book(ctx context.Context, r reservations.Reservation) (baan.Selection, error) {
	if err := o.sessions.EnsureSession(ctx, o.session, r.OwnerID); err != nil {
		return baan.Selection{}, err
	}
	sel, err := o.courts.SelectSlot(ctx, o.session, r)
	if err != nil || !sel.Available() {
		return sel, err
	}
	if err := o.form.FillOpponents(ctx, o.session, r.Opponents); err != nil {
		return baan.Selection{}, err
	}
	if err := o.form.Confirm(ctx, o.session); err != nil {
		return baan.Selection{}, err
	}
	return sel, nil
}

func (o *Orchestrator) booked(ctx context.Context, r reservations.Reservation, slot baan.Slot) Result {
	logger := log.Ctx(ctx)
	logger.Info().Time("slot", slot.Time).Int("court", slot.Court).Msg("Reservation booked")

	if r.Waitlisted() {
		if err := o.waitlist.Remove(ctx, o.session, r); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove booked reservation from waiting list")
		}
	}
	// The booking exists remotely; a failed delete must not make the caller
	// retry and book twice.
	if err := o.store.Delete(ctx, r.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to delete booked reservation")
	}
	o.notifier.Notify(ctx, event(notify.KindBooked, r,
		fmt.Sprintf("Court %d at %s", slot.Court, slot.Time.Format("15:04"))))
	return Result{Outcome: OutcomeBooked, Slot: slot}
}

func (o *Orchestrator) fallback(ctx context.Context, req Request, cause error) (Result, error) {
	r := req.Reservation
	if req.Promoted || r.Waitlisted() {
		return Result{}, fmt.Errorf("%w: %w", ErrAlreadyWaitlisted, cause)
	}

	id, err := o.waitlist.Register(ctx, o.session, r)
	if err != nil {
		logStepError(*log.Ctx(ctx), err)
		return Result{}, fmt.Errorf("waitlist %s: %w", r.ID, err)
	}
	r.MarkWaitlisted(id)
	detail := fmt.Sprintf("Waiting list entry %d", id)
	// The entry exists remotely; a failed write must not make the caller
	// retry and register a second one.
	if err := o.store.UpdateStatus(ctx, r.ID, r.Status, r.WaitingListEntryID); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("entry_id", id).Msg("Failed to store waiting list entry")
		detail += " (not saved locally)"
	}

	log.Ctx(ctx).Info().Int64("entry_id", id).Msg("Reservation waitlisted")
	o.notifier.Notify(ctx, event(notify.KindWaitlisted, r, detail))
	return Result{Outcome: OutcomeWaitlisted, EntryID: id}, nil
}

// RemoveFromWaitlist deletes r's remote waiting list entry, if it has one.
func (o *Orchestrator) RemoveFromWaitlist(ctx context.Context, r reservations.Reservation) error {
	if !r.Waitlisted() {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.sessions.EnsureSession(ctx, o.session, r.OwnerID); err != nil {
		return err
	}
	return o.waitlist.Remove(ctx, o.session, r)
}

// Snapshot reads the free courts of day while logged in as ownerID.
func (o *Orchestrator) Snapshot(ctx context.Context, ownerID string, day time.Time) (baan.CourtSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.sessions.EnsureSession(ctx, o.session, ownerID); err != nil {
		return nil, err
	}
	return o.courts.Snapshot(ctx, o.session, day)
}

// Screenshot captures the page as it is now, for diagnosing a failed attempt.
func (o *Orchestrator) Screenshot(ctx context.Context) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.Page.Screenshot(ctx)
}

func event(kind notify.Kind, r reservations.Reservation, detail string) notify.Event {
	return notify.Event{
		Kind:          kind,
		ReservationID: r.ID,
		OwnerID:       r.OwnerID,
		Start:         r.Start,
		End:           r.End,
		Detail:        detail,
	}
}

func logStepError(logger zerolog.Logger, err error) {
	ev := logger.Error().Err(err)
	if step, ok := baan.StepOf(err); ok {
		ev = ev.Str("step", step.String())
	}
	ev.Msg("Reservation attempt failed")
}
