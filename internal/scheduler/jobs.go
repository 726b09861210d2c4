package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/queue"
	"github.com/cgduncan7/autobaan/internal/reservations"
	"github.com/cgduncan7/autobaan/internal/waitlist"
)

const (
	JobExecuteDue    = "execute_due_reservations"
	JobPollMailbox   = "poll_waitlist_mailbox"
	JobCourtSnapshot = "court_snapshot"
)

type Reservations interface {
	DeletePast(ctx context.Context, now time.Time) error
	ListDue(ctx context.Context, now, horizon time.Time) ([]reservations.Reservation, error)
	ListWaitlistedBetween(ctx context.Context, from, to time.Time) ([]reservations.Reservation, error)
}

type Specs struct {
	ExecuteDue    string
	PollMailbox   string
	CourtSnapshot string
}

// Jobs holds what the periodic tasks work on. A nil Mailbox or Promoter
// leaves the mailbox job unregistered.
type Jobs struct {
	Reservations Reservations
	Queue        queue.Queue
	Mailbox      waitlist.Mailbox
	Promoter     *waitlist.Promoter
	MaxAttempts  int
	Horizon      time.Duration
	Location     *time.Location
	Timeout      time.Duration
	Now          func() time.Time
}

// Register adds every job with a non-empty spec to s. ctx is the parent of
// each run.
func (j *Jobs) Register(ctx context.Context, s *Service, specs Specs) error {
	var errs []error
	add := func(name, spec string, task func(context.Context) error) {
		if spec == "" {
			return
		}
		_, err := s.AddJob(name, spec, func() { j.run(ctx, name, task) })
		errs = append(errs, err)
	}
	add(JobExecuteDue, specs.ExecuteDue, j.ExecuteDue)
	if j.Mailbox != nil && j.Promoter != nil {
		add(JobPollMailbox, specs.PollMailbox, j.PollMailbox)
	}
	add(JobCourtSnapshot, specs.CourtSnapshot, j.CourtSnapshots)
	return errors.Join(errs...)
}

func (j *Jobs) run(parent context.Context, name string, task func(context.Context) error) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	logger := log.With().Str("job_name", name).Logger()
	if err := task(logger.WithContext(ctx)); err != nil {
		logger.Error().Err(err).Msg("Scheduler job failed")
	}
}

// ExecuteDue drops reservations that have started and enqueues a time
// sensitive attempt for every pending reservation within the booking horizon.
func (j *Jobs) ExecuteDue(ctx context.Context) error {
	now := j.now()
	if err := j.Reservations.DeletePast(ctx, now); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to delete past reservations")
	}
	due, err := j.Reservations.ListDue(ctx, now, now.Add(j.Horizon))
	if err != nil {
		return fmt.Errorf("list due reservations: %w", err)
	}
	var errs []error
	for _, r := range due {
		if err := j.Queue.Enqueue(ctx, queue.ExecuteJob(r.ID, j.MaxAttempts, true)); err != nil {
			errs = append(errs, err)
		}
	}
	log.Ctx(ctx).Info().Int("due", len(due)).Msg("Enqueued due reservations")
	return errors.Join(errs...)
}

func (j *Jobs) PollMailbox(ctx context.Context) error {
	n, err := waitlist.Poll(ctx, j.Mailbox, j.Promoter)
	if n > 0 {
		log.Ctx(ctx).Info().Int("promoted", n).Msg("Promoted from mailbox")
	}
	return err
}

// CourtSnapshots enqueues one snapshot job per day that has waitlisted
// reservations within the horizon.
func (j *Jobs) CourtSnapshots(ctx context.Context) error {
	now := j.now()
	waiting, err := j.Reservations.ListWaitlistedBetween(ctx, now, now.Add(j.Horizon))
	if err != nil {
		return fmt.Errorf("list waitlisted: %w", err)
	}

	loc := j.Location
	if loc == nil {
		loc = time.UTC
	}
	days := map[string]bool{}
	var errs []error
	for _, r := range waiting {
		day := r.Start.In(loc)
		key := day.Format("2006-01-02")
		if days[key] {
			continue
		}
		days[key] = true
		if err := j.Queue.Enqueue(ctx, queue.SnapshotJob(day)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (j *Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}
