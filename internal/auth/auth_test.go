package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/securecookie"

	"github.com/cgduncan7/autobaan/internal/db"
)

type fakeOperators map[string]string

func (f fakeOperators) PasswordHash(_ context.Context, username string) (int64, string, error) {
	h, ok := f[username]
	if !ok {
		return 0, "", db.ErrNotFound
	}
	return 1, h, nil
}

func newStore(t *testing.T) *Store {
	t.Helper()
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return NewStore(fakeOperators{"ops": hash}, securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32))
}

func TestAuthenticate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if id, err := s.Authenticate(ctx, "ops", "hunter2"); err != nil || id != 1 {
		t.Fatalf("Authenticate = %d, %v", id, err)
	}
	if _, err := s.Authenticate(ctx, "ops", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := s.Authenticate(ctx, "nobody", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestSessionCookieRoundTrip(t *testing.T) {
	s := newStore(t)

	rec := httptest.NewRecorder()
	if err := s.SetSession(rec, httptest.NewRequest(http.MethodPost, "/login", nil), 42); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %v", cookies)
	}

	var seen int64
	h := s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OperatorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/reservations", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != 42 {
		t.Fatalf("code = %d, operator = %d", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reservations", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code without cookie = %d", rec.Code)
	}
}

func TestTamperedCookieRejected(t *testing.T) {
	s := newStore(t)
	other := newStore(t)

	rec := httptest.NewRecorder()
	_ = other.SetSession(rec, httptest.NewRequest(http.MethodPost, "/login", nil), 7)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	if _, ok := s.operator(req); ok {
		t.Fatalf("accepted a cookie signed with another key")
	}
}
