package reservations

import (
	"errors"
	"testing"
	"time"
)

func at(hh, mm int) time.Time {
	return time.Date(2024, 6, 10, hh, mm, 0, 0, time.UTC)
}

func TestPossibleTimesIncludesBothEnds(t *testing.T) {
	r := New("owner", at(18, 0), at(18, 45), nil)

	got := r.PossibleTimes()
	want := []time.Time{at(18, 0), at(18, 15), at(18, 30), at(18, 45)}
	if len(got) != len(want) {
		t.Fatalf("expected %d times, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("time %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestPossibleTimesSingle(t *testing.T) {
	r := New("owner", at(9, 15), at(9, 15), nil)
	if got := r.PossibleTimes(); len(got) != 1 || !got[0].Equal(at(9, 15)) {
		t.Fatalf("expected single time, got %v", got)
	}
}

func TestNewDefaultsEnd(t *testing.T) {
	r := New("owner", at(18, 0), time.Time{}, nil)
	if !r.End.Equal(at(18, 45)) {
		t.Fatalf("expected end 18:45, got %s", r.End)
	}
	if r.ID == "" {
		t.Fatal("expected generated id")
	}
	if r.Status != StatusPending {
		t.Fatalf("expected pending, got %s", r.Status)
	}
}

func TestValidate(t *testing.T) {
	entry := int64(7)
	tests := []struct {
		name    string
		mutate  func(*Reservation)
		wantErr error
		ok      bool
	}{
		{name: "valid", mutate: func(*Reservation) {}, ok: true},
		{name: "end before start", mutate: func(r *Reservation) { r.End = at(17, 0) }, wantErr: ErrEndBeforeStart},
		{name: "start off grid", mutate: func(r *Reservation) { r.Start = at(18, 5) }, wantErr: ErrOffGrid},
		{name: "end off grid", mutate: func(r *Reservation) { r.End = at(18, 50) }, wantErr: ErrOffGrid},
		{name: "seconds off grid", mutate: func(r *Reservation) { r.Start = r.Start.Add(time.Second) }, wantErr: ErrOffGrid},
		{name: "too many opponents", mutate: func(r *Reservation) {
			r.Opponents = make([]Opponent, 5)
			for i := range r.Opponents {
				r.Opponents[i] = Opponent{ID: "x", Name: "y"}
			}
		}},
		{name: "opponent without id", mutate: func(r *Reservation) { r.Opponents = []Opponent{{Name: "Ann"}} }},
		{name: "waitlisted without entry", mutate: func(r *Reservation) { r.Status = StatusWaitlisted }},
		{name: "pending with entry", mutate: func(r *Reservation) { r.WaitingListEntryID = &entry }},
		{name: "waitlisted with entry", mutate: func(r *Reservation) { r.MarkWaitlisted(entry) }, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("owner", at(18, 0), at(18, 45), nil)
			tt.mutate(&r)
			err := r.Validate()
			if tt.ok {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMarkWaitlistedAndPending(t *testing.T) {
	r := New("owner", at(18, 0), at(18, 45), nil)
	r.MarkWaitlisted(42)
	if !r.Waitlisted() || *r.WaitingListEntryID != 42 {
		t.Fatalf("expected waitlisted with 42, got %+v", r)
	}
	r.MarkPending()
	if r.Waitlisted() || r.WaitingListEntryID != nil {
		t.Fatalf("expected pending without entry, got %+v", r)
	}
}
