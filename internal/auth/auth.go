// Package auth handles operator accounts and their signed session cookies.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/cgduncan7/autobaan/internal/db"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	cookieName = "autobaan_session"
	sessionAge = 14 * 24 * time.Hour
)

type ctxKey string

const operatorKey ctxKey = "operatorID"

// Operators looks up operator password hashes.
type Operators interface {
	PasswordHash(ctx context.Context, username string) (id int64, hash string, err error)
}

type Store struct {
	sc  *securecookie.SecureCookie
	ops Operators
}

func NewStore(ops Operators, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionAge.Seconds()))
	return &Store{sc: sc, ops: ops}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (int64, error) {
	id, hash, err := s.ops.PasswordHash(ctx, username)
	if db.IsNotFound(err) {
		return 0, ErrInvalidCredentials
	}
	if err != nil {
		return 0, err
	}
	if !CheckPassword(hash, password) {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}

type session struct {
	OperatorID int64
	V          int
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, operatorID int64) error {
	encoded, err := s.sc.Encode(cookieName, session{OperatorID: operatorID, V: 1})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionAge.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) operator(r *http.Request) (int64, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return 0, false
	}
	var sess session
	if err := s.sc.Decode(cookieName, c.Value, &sess); err != nil {
		return 0, false
	}
	return sess.OperatorID, sess.OperatorID > 0
}

// RequireAuth rejects requests without a valid session cookie with 401.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.operator(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey, id)))
	})
}

func OperatorFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(operatorKey).(int64)
	return id, ok
}

// Repo stores operators in Postgres.
type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) Create(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return r.db.Exec(ctx, `INSERT INTO operators(username, password_bcrypt) VALUES ($1,$2)`, username, hash)
}

func (r *Repo) PasswordHash(ctx context.Context, username string) (int64, string, error) {
	var id int64
	var hash string
	err := r.db.QueryRow(ctx, `SELECT id, password_bcrypt FROM operators WHERE username=$1`, username).Scan(&id, &hash)
	if err != nil {
		return 0, "", db.WrapNotFound(err)
	}
	return id, hash, nil
}
