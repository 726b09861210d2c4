package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/cgduncan7/autobaan/internal/auth"
	"github.com/cgduncan7/autobaan/internal/db"
	"github.com/cgduncan7/autobaan/internal/reservations"
)

type fakeOperators struct{ hash string }

func (f fakeOperators) PasswordHash(_ context.Context, username string) (int64, string, error) {
	if username != "ops" {
		return 0, "", db.ErrNotFound
	}
	return 1, f.hash, nil
}

type fakeRepo struct {
	byID    map[string]reservations.Reservation
	deleted []string
}

func (f *fakeRepo) Create(_ context.Context, r reservations.Reservation) error {
	f.byID[r.ID] = r
	return nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (reservations.Reservation, error) {
	r, ok := f.byID[id]
	if !ok {
		return reservations.Reservation{}, db.ErrNotFound
	}
	return r, nil
}

func (f *fakeRepo) List(context.Context) ([]reservations.Reservation, error) {
	var out []reservations.Reservation
	for _, r := range f.byID {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRepo) ListByOwner(_ context.Context, owner string) ([]reservations.Reservation, error) {
	var out []reservations.Reservation
	for _, r := range f.byID {
		if r.OwnerID == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeIdentities map[string]bool

func (f fakeIdentities) Exists(_ context.Context, owner string) (bool, error) { return f[owner], nil }

type fakeSubmitter struct{ submitted []string }

func (f *fakeSubmitter) Submit(_ context.Context, r reservations.Reservation) error {
	f.submitted = append(f.submitted, r.ID)
	return nil
}

type fakeRemover struct {
	removed []string
	err     error
}

func (f *fakeRemover) RemoveFromWaitlist(_ context.Context, r reservations.Reservation) error {
	f.removed = append(f.removed, r.ID)
	return f.err
}

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	srv     *Server
	h       http.Handler
	repo    *fakeRepo
	sub     *fakeSubmitter
	remover *fakeRemover
	cookie  *http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	hs := &harness{
		repo:    &fakeRepo{byID: map[string]reservations.Reservation{}},
		sub:     &fakeSubmitter{},
		remover: &fakeRemover{},
	}
	hs.srv = &Server{
		Auth:         auth.NewStore(fakeOperators{hash: hash}, securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32)),
		Reservations: hs.repo,
		Identities:   fakeIdentities{"alice": true},
		Submitter:    hs.sub,
		Waitlist:     hs.remover,
		Horizon:      7 * 24 * time.Hour,
		Now:          func() time.Time { return now },
	}
	hs.h = hs.srv.Routes()

	rec := hs.do(t, http.MethodPost, "/login", `{"username":"ops","password":"secret"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("login code = %d: %s", rec.Code, rec.Body)
	}
	hs.cookie = rec.Result().Cookies()[0]
	return hs
}

func (hs *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if hs.cookie != nil {
		req.AddCookie(hs.cookie)
	}
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	return rec
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hs := newHarness(t)
	hs.cookie = nil
	if rec := hs.do(t, http.MethodPost, "/login", `{"username":"ops","password":"nope"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", rec.Code)
	}
	if rec := hs.do(t, http.MethodGet, "/api/reservations", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list code = %d", rec.Code)
	}
}

func TestCreateWithinHorizonSubmits(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodPost, "/api/reservations",
		`{"owner_id":"alice","start":"2026-03-14T18:00:00Z","end":"2026-03-14T19:00:00Z","opponents":[{"id":"123","name":"Bob"}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	var got reservationJSON
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "pending" || got.OwnerID != "alice" || len(got.Opponents) != 1 {
		t.Fatalf("got %+v", got)
	}
	if len(hs.sub.submitted) != 1 || hs.sub.submitted[0] != got.ID {
		t.Fatalf("submitted %v", hs.sub.submitted)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestCreateBeyondHorizonIsOnlyStored(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(t, http.MethodPost, "/api/reservations", `{"owner_id":"alice","start":"2026-04-01T18:00:00Z"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	if len(hs.sub.submitted) != 0 || len(hs.repo.byID) != 1 {
		t.Fatalf("submitted %v, stored %d", hs.sub.submitted, len(hs.repo.byID))
	}
	for _, r := range hs.repo.byID {
		if !r.End.Equal(r.Start.Add(reservations.DefaultDuration)) {
			t.Fatalf("end = %s", r.End)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	hs := newHarness(t)
	cases := []struct {
		name string
		body string
	}{
		{"off grid", `{"owner_id":"alice","start":"2026-03-14T18:10:00Z"}`},
		{"end before start", `{"owner_id":"alice","start":"2026-03-14T18:00:00Z","end":"2026-03-14T17:00:00Z"}`},
		{"unknown owner", `{"owner_id":"mallory","start":"2026-03-14T18:00:00Z"}`},
		{"in the past", `{"owner_id":"alice","start":"2026-03-01T18:00:00Z"}`},
		{"too many opponents", `{"owner_id":"alice","start":"2026-03-14T18:00:00Z","opponents":[{"id":"1","name":"a"},{"id":"2","name":"b"},{"id":"3","name":"c"},{"id":"4","name":"d"},{"id":"5","name":"e"}]}`},
		{"unknown field", `{"owner_id":"alice","start":"2026-03-14T18:00:00Z","court":5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := hs.do(t, http.MethodPost, "/api/reservations", tc.body); rec.Code != http.StatusBadRequest {
				t.Fatalf("code = %d: %s", rec.Code, rec.Body)
			}
		})
	}
	if len(hs.repo.byID) != 0 {
		t.Fatalf("stored %d invalid reservations", len(hs.repo.byID))
	}
}

func TestListFiltersByOwner(t *testing.T) {
	hs := newHarness(t)
	a := reservations.New("alice", now.Add(48*time.Hour), time.Time{}, nil)
	b := reservations.New("bob", now.Add(48*time.Hour), time.Time{}, nil)
	hs.repo.byID[a.ID] = a
	hs.repo.byID[b.ID] = b

	rec := hs.do(t, http.MethodGet, "/api/reservations?owner=alice", "")
	var got []reservationJSON
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("got %+v", got)
	}
}

func TestDeleteWaitlistedRemovesRemoteEntry(t *testing.T) {
	hs := newHarness(t)
	r := reservations.New("alice", now.Add(48*time.Hour), time.Time{}, nil)
	r.MarkWaitlisted(9)
	hs.repo.byID[r.ID] = r

	if rec := hs.do(t, http.MethodDelete, "/api/reservations/"+r.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	if len(hs.remover.removed) != 1 || len(hs.repo.deleted) != 1 {
		t.Fatalf("removed %v, deleted %v", hs.remover.removed, hs.repo.deleted)
	}
}

func TestDeleteKeepsReservationWhenRemoteRemovalFails(t *testing.T) {
	hs := newHarness(t)
	hs.remover.err = errors.New("browser gone")
	r := reservations.New("alice", now.Add(48*time.Hour), time.Time{}, nil)
	r.MarkWaitlisted(9)
	hs.repo.byID[r.ID] = r

	if rec := hs.do(t, http.MethodDelete, "/api/reservations/"+r.ID, ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("code = %d", rec.Code)
	}
	if _, ok := hs.repo.byID[r.ID]; !ok {
		t.Fatalf("reservation deleted despite remote failure")
	}
}

func TestDeletePendingSkipsRemote(t *testing.T) {
	hs := newHarness(t)
	r := reservations.New("alice", now.Add(48*time.Hour), time.Time{}, nil)
	hs.repo.byID[r.ID] = r

	if rec := hs.do(t, http.MethodDelete, "/api/reservations/"+r.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(hs.remover.removed) != 0 {
		t.Fatalf("removed %v", hs.remover.removed)
	}
	if rec := hs.do(t, http.MethodDelete, "/api/reservations/"+r.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete code = %d", rec.Code)
	}
}
