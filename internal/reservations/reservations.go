package reservations

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// SlotInterval is the site's calendar grid.
	SlotInterval = 15 * time.Minute
	// DefaultDuration is the length of a court booking on the site.
	DefaultDuration = 45 * time.Minute
	MaxOpponents    = 4
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusWaitlisted Status = "waitlisted"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusWaitlisted
}

type Opponent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Reservation struct {
	ID        string
	OwnerID   string
	Start     time.Time
	End       time.Time
	Opponents []Opponent
	Status    Status

	// WaitingListEntryID is set exactly when Status is StatusWaitlisted.
	WaitingListEntryID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	ErrOffGrid        = errors.New("time is not on the 15 minute grid")
	ErrEndBeforeStart = errors.New("end must not be before start")
)

// New builds a pending reservation. A zero end defaults to start+DefaultDuration.
func New(ownerID string, start, end time.Time, opponents []Opponent) Reservation {
	if end.IsZero() {
		end = start.Add(DefaultDuration)
	}
	return Reservation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Start:     start,
		End:       end,
		Opponents: opponents,
		Status:    StatusPending,
	}
}

func OnGrid(t time.Time) bool {
	return t.Second() == 0 && t.Nanosecond() == 0 && t.Minute()%15 == 0
}

func (r Reservation) Validate() error {
	if r.OwnerID == "" {
		return fmt.Errorf("owner_id required")
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("start and end required")
	}
	if r.End.Before(r.Start) {
		return ErrEndBeforeStart
	}
	if !OnGrid(r.Start) || !OnGrid(r.End) {
		return ErrOffGrid
	}
	if len(r.Opponents) > MaxOpponents {
		return fmt.Errorf("at most %d opponents", MaxOpponents)
	}
	for i, o := range r.Opponents {
		if o.ID == "" || o.Name == "" {
			return fmt.Errorf("opponent %d: id and name required", i)
		}
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if (r.WaitingListEntryID != nil) != (r.Status == StatusWaitlisted) {
		return fmt.Errorf("waiting list entry id must be set exactly when waitlisted")
	}
	return nil
}

// PossibleTimes expands [Start, End] into the ascending start times on the
// 15 minute grid, both ends included.
func (r Reservation) PossibleTimes() []time.Time {
	var out []time.Time
	for t := r.Start; !t.After(r.End); t = t.Add(SlotInterval) {
		out = append(out, t)
	}
	return out
}

func (r Reservation) Waitlisted() bool {
	return r.Status == StatusWaitlisted && r.WaitingListEntryID != nil
}

func (r *Reservation) MarkWaitlisted(entryID int64) {
	r.Status = StatusWaitlisted
	r.WaitingListEntryID = &entryID
}

func (r *Reservation) MarkPending() {
	r.Status = StatusPending
	r.WaitingListEntryID = nil
}
