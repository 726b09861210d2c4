package baan

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cgduncan7/autobaan/internal/reservations"
)

func TestNewEntryID(t *testing.T) {
	tests := []struct {
		name          string
		before, after []int64
		want          int64
		wantErr       bool
	}{
		{"one new", []int64{4, 7}, []int64{4, 7, 9}, 9, false},
		{"first entry", nil, []int64{12}, 12, false},
		{"several new takes highest", []int64{1}, []int64{1, 5, 3}, 5, false},
		{"nothing new", []int64{4, 7}, []int64{4, 7}, 0, true},
		{"entry vanished", []int64{4, 7}, []int64{4}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEntryID(tt.before, tt.after)
			if tt.wantErr {
				if !errors.Is(err, ErrNoNewWaitlistEntry) {
					t.Fatalf("err = %v, want ErrNoNewWaitlistEntry", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("NewEntryID = %d, %v; want %d", got, err, tt.want)
			}
		})
	}
}

func TestRegisterFillsFormAndDiffsIDs(t *testing.T) {
	page := newFakePage()
	page.texts[selWaitlistIDs] = []string{"4", "7"}
	page.onClick[selWaitlistSubmit] = func() {
		page.texts[selWaitlistIDs] = []string{"4", "7", "11"}
	}

	w := &WaitlistRegistrar{Site: testSite()}
	start := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	r := reservations.New("alice", start, start.Add(90*time.Minute), nil)

	id, err := w.Register(context.Background(), NewSession(page), r)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != 11 {
		t.Fatalf("id = %d, want 11", id)
	}
	want := map[string]string{
		selWaitlistStart: "14-03-2026",
		selWaitlistEnd:   "14-03-2026",
		selWaitlistFrom:  "18:00",
		selWaitlistTo:    "18:45",
	}
	for sel, v := range want {
		if page.values[sel] != v {
			t.Fatalf("%s = %q, want %q", sel, page.values[sel], v)
		}
	}
}

func TestRegisterLateSlotEndsNextDay(t *testing.T) {
	page := newFakePage()
	page.texts[selWaitlistIDs] = []string{"4"}
	page.onClick[selWaitlistSubmit] = func() {
		page.texts[selWaitlistIDs] = []string{"4", "5"}
	}

	w := &WaitlistRegistrar{Site: testSite()}
	start := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	r := reservations.New("alice", start, start, nil)

	if _, err := w.Register(context.Background(), NewSession(page), r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	want := map[string]string{
		selWaitlistStart: "14-03-2026",
		selWaitlistEnd:   "15-03-2026",
		selWaitlistFrom:  "23:30",
		selWaitlistTo:    "00:15",
	}
	for sel, v := range want {
		if page.values[sel] != v {
			t.Fatalf("%s = %q, want %q", sel, page.values[sel], v)
		}
	}
}

func TestRegisterWithoutNewEntryFails(t *testing.T) {
	page := newFakePage()
	page.texts[selWaitlistIDs] = []string{"Geen inschrijvingen"}

	w := &WaitlistRegistrar{Site: testSite()}
	start := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	_, err := w.Register(context.Background(), NewSession(page), reservations.New("alice", start, time.Time{}, nil))
	if !errors.Is(err, ErrNoNewWaitlistEntry) {
		t.Fatalf("err = %v, want ErrNoNewWaitlistEntry", err)
	}
}

func TestRemoveAcceptsDialogOnEntryRow(t *testing.T) {
	page := newFakePage()
	page.texts[selWaitlistIDs] = []string{"4", "7", "11"}

	start := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	r := reservations.New("alice", start, time.Time{}, nil)
	r.MarkWaitlisted(7)

	w := &WaitlistRegistrar{Site: testSite(), DialogTimeout: time.Second}
	if err := w.Remove(context.Background(), NewSession(page), r); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(page.dialogs) != 1 || page.dialogs[0] != fmt.Sprintf(selWaitlistDelete, 2) {
		t.Fatalf("dialogs = %v", page.dialogs)
	}
}

func TestRemoveDialogTimeout(t *testing.T) {
	page := newFakePage()
	page.texts[selWaitlistIDs] = []string{"7"}
	page.fail[fmt.Sprintf(selWaitlistDelete, 1)] = ErrDialogTimeout

	r := reservations.New("alice", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), time.Time{}, nil)
	r.MarkWaitlisted(7)

	err := (&WaitlistRegistrar{Site: testSite()}).Remove(context.Background(), NewSession(page), r)
	if !errors.Is(err, ErrDialogTimeout) {
		t.Fatalf("err = %v, want ErrDialogTimeout", err)
	}
	if step, _ := StepOf(err); step != StepWaitlistRemove {
		t.Fatalf("step = %s, want %s", step, StepWaitlistRemove)
	}
}

func TestRemoveNotWaitlistedIsNoop(t *testing.T) {
	page := newFakePage()
	r := reservations.New("alice", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), time.Time{}, nil)
	if err := (&WaitlistRegistrar{Site: testSite()}).Remove(context.Background(), NewSession(page), r); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(page.calls) != 0 {
		t.Fatalf("unexpected page calls: %v", page.calls)
	}
}

func TestRemoveMissingEntryIsNoop(t *testing.T) {
	page := newFakePage()
	page.texts[selWaitlistIDs] = []string{"4"}
	r := reservations.New("alice", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), time.Time{}, nil)
	r.MarkWaitlisted(7)

	if err := (&WaitlistRegistrar{Site: testSite()}).Remove(context.Background(), NewSession(page), r); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(page.dialogs) != 0 {
		t.Fatalf("dialog accepted for missing entry")
	}
}
