package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cgduncan7/autobaan/internal/baan"
	"github.com/cgduncan7/autobaan/internal/booking"
	"github.com/cgduncan7/autobaan/internal/db"
	"github.com/cgduncan7/autobaan/internal/notify"
	"github.com/cgduncan7/autobaan/internal/reservations"
)

const (
	defaultBackoff = 30 * time.Second
	dequeueWait    = 5 * time.Second
)

type Executor interface {
	Execute(ctx context.Context, req booking.Request) (booking.Result, error)
	Snapshot(ctx context.Context, ownerID string, day time.Time) (baan.CourtSnapshot, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

type Reservations interface {
	Get(ctx context.Context, id string) (reservations.Reservation, error)
	ListWaitlistedBetween(ctx context.Context, from, to time.Time) ([]reservations.Reservation, error)
}

type Promoter interface {
	OnFreedSlots(ctx context.Context, day time.Time, freed baan.CourtSnapshot) ([]reservations.Reservation, error)
}

// Worker runs queued jobs one at a time against a single Executor.
type Worker struct {
	Queue        Queue
	Snapshots    Snapshots
	Executor     Executor
	Reservations Reservations
	Promoter     Promoter
	Notifier     notify.Notifier
	// Limiter spaces out jobs that are not time sensitive, so retries and
	// snapshots do not hammer the site. Nil means unlimited.
	Limiter *rate.Limiter
	// Backoff is the delay before the second attempt; it doubles after that.
	Backoff       time.Duration
	ScreenshotDir string
	Location      *time.Location
	Now           func() time.Time
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.Ctx(ctx)
	logger.Info().Msg("Worker started")
	for {
		if err := ctx.Err(); err != nil {
			logger.Info().Msg("Worker stopped")
			return nil
		}
		j, ok, err := w.Queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("Dequeue failed")
			sleep(ctx, time.Second)
			continue
		}
		if !ok {
			continue
		}
		if err := w.Handle(ctx, j); err != nil {
			logger.Error().Err(err).Str("job_id", j.ID).Str("job_type", string(j.Kind)).Msg("Job failed")
		}
	}
}

func (w *Worker) Handle(ctx context.Context, j Job) error {
	logger := log.Ctx(ctx).With().Str("job_id", j.ID).Str("job_type", string(j.Kind)).Logger()
	ctx = logger.WithContext(ctx)

	if !j.TimeSensitive && w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	switch j.Kind {
	case KindExecute:
		return w.execute(ctx, j)
	case KindSnapshot:
		return w.snapshot(ctx, j)
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

func (w *Worker) execute(ctx context.Context, j Job) error {
	logger := log.Ctx(ctx).With().Str("reservation_id", j.ReservationID).Int("attempt", j.Attempt).Logger()

	r, err := w.Reservations.Get(ctx, j.ReservationID)
	if db.IsNotFound(err) {
		logger.Info().Msg("Reservation gone, dropping job")
		return nil
	}
	if err != nil {
		return err
	}

	res, err := w.Executor.Execute(ctx, booking.Request{
		Reservation: r,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		Promoted:    j.Promoted,
	})
	if err == nil {
		logger.Info().Str("outcome", res.Outcome.String()).Msg("Reservation executed")
		return nil
	}

	if !j.TimeSensitive {
		w.screenshot(ctx, j)
	}

	if j.Attempt < j.MaxAttempts && !errors.Is(err, booking.ErrAlreadyWaitlisted) {
		next := j.Retry()
		at := w.now().Add(w.backoff(j.Attempt))
		if qerr := w.Queue.EnqueueAt(ctx, next, at); qerr != nil {
			return errors.Join(err, qerr)
		}
		logger.Warn().Err(err).Time("retry_at", at).Msg("Attempt failed, retrying")
		return nil
	}

	if w.Notifier != nil {
		w.Notifier.Notify(ctx, notify.Event{
			Kind:          notify.KindError,
			ReservationID: r.ID,
			OwnerID:       r.OwnerID,
			Start:         r.Start,
			End:           r.End,
			Detail:        err.Error(),
		})
	}
	return fmt.Errorf("reservation %s failed after %d attempts: %w", r.ID, j.Attempt, err)
}

// snapshot reads the day's free courts and promotes waitlisted reservations
// for any court freed since the previous snapshot. The first snapshot of a
// day only sets the baseline.
func (w *Worker) snapshot(ctx context.Context, j Job) error {
	day, err := j.Day(w.Location)
	if err != nil {
		return err
	}
	waiting, err := w.Reservations.ListWaitlistedBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	if len(waiting) == 0 {
		return nil
	}

	snap, err := w.Executor.Snapshot(ctx, waiting[0].OwnerID, day)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", j.Date, err)
	}
	prev, seen, err := w.Snapshots.LoadSnapshot(ctx, j.Date)
	if err != nil {
		return err
	}
	if err := w.Snapshots.SaveSnapshot(ctx, j.Date, snap); err != nil {
		return err
	}
	if !seen {
		return nil
	}

	freed := prev.Freed(snap)
	if len(freed) == 0 {
		return nil
	}
	promoted, err := w.Promoter.OnFreedSlots(ctx, day, freed)
	log.Ctx(ctx).Info().Int("promoted", len(promoted)).Str("date", j.Date).Msg("Courts freed")
	return err
}

func (w *Worker) screenshot(ctx context.Context, j Job) {
	if w.ScreenshotDir == "" {
		return
	}
	logger := log.Ctx(ctx)
	img, err := w.Executor.Screenshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Screenshot failed")
		return
	}
	name := fmt.Sprintf("%s-%d-%d.jpg", j.ReservationID, j.Attempt, w.now().Unix())
	path := filepath.Join(w.ScreenshotDir, name)
	if err := os.MkdirAll(w.ScreenshotDir, 0o755); err != nil {
		logger.Warn().Err(err).Msg("Screenshot dir")
		return
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		logger.Warn().Err(err).Msg("Screenshot write")
		return
	}
	logger.Info().Str("path", path).Msg("Saved failure screenshot")
}

func (w *Worker) backoff(attempt int) time.Duration {
	base := w.Backoff
	if base <= 0 {
		base = defaultBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
