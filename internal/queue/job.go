// Package queue carries booking work between the scheduler, the web API and
// the browser workers.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cgduncan7/autobaan/internal/baan"
	"github.com/cgduncan7/autobaan/internal/reservations"
)

type Kind string

const (
	KindExecute  Kind = "reservation.execute"
	KindSnapshot Kind = "court.snapshot"
)

const dateLayout = "2006-01-02"

type Job struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	ReservationID string `json:"reservation_id,omitempty"`
	Attempt       int    `json:"attempt,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	// TimeSensitive jobs run the contested first attempt: no throttling and
	// no screenshot on failure.
	TimeSensitive bool `json:"time_sensitive,omitempty"`
	Promoted      bool `json:"promoted,omitempty"`

	// Date is the day a snapshot job reads, as 2006-01-02.
	Date string `json:"date,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

func ExecuteJob(reservationID string, maxAttempts int, timeSensitive bool) Job {
	return Job{
		ID:            uuid.NewString(),
		Kind:          KindExecute,
		ReservationID: reservationID,
		Attempt:       1,
		MaxAttempts:   maxAttempts,
		TimeSensitive: timeSensitive,
	}
}

func SnapshotJob(day time.Time) Job {
	return Job{ID: uuid.NewString(), Kind: KindSnapshot, Date: day.Format(dateLayout)}
}

// Retry is the job's next attempt. Retries are never time sensitive.
func (j Job) Retry() Job {
	next := j
	next.ID = uuid.NewString()
	next.Attempt++
	next.TimeSensitive = false
	return next
}

func (j Job) Day(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(dateLayout, j.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("job %s: bad date %q: %w", j.ID, j.Date, err)
	}
	return d, nil
}

type Queue interface {
	Enqueue(ctx context.Context, j Job) error
	// EnqueueAt makes j available no earlier than at.
	EnqueueAt(ctx context.Context, j Job, at time.Time) error
	// Dequeue waits up to wait for a job; ok is false when none arrived.
	Dequeue(ctx context.Context, wait time.Duration) (j Job, ok bool, err error)
}

// Snapshots remembers the last court snapshot per day.
type Snapshots interface {
	LoadSnapshot(ctx context.Context, day string) (baan.CourtSnapshot, bool, error)
	SaveSnapshot(ctx context.Context, day string, snap baan.CourtSnapshot) error
}

// Submitter enqueues reservations for execution.
type Submitter struct {
	Queue       Queue
	MaxAttempts int
}

// Submit enqueues r's first, time sensitive attempt.
func (s *Submitter) Submit(ctx context.Context, r reservations.Reservation) error {
	return s.Queue.Enqueue(ctx, ExecuteJob(r.ID, s.MaxAttempts, true))
}

// Resubmit enqueues a promoted reservation with its own attempt budget.
func (s *Submitter) Resubmit(ctx context.Context, r reservations.Reservation, maxAttempts int) error {
	j := ExecuteJob(r.ID, maxAttempts, true)
	j.Promoted = true
	return s.Queue.Enqueue(ctx, j)
}
