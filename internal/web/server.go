// Package web serves the operator API for managing reservations.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/auth"
	"github.com/cgduncan7/autobaan/internal/db"
	"github.com/cgduncan7/autobaan/internal/reservations"
)

type Reservations interface {
	Create(ctx context.Context, r reservations.Reservation) error
	Get(ctx context.Context, id string) (reservations.Reservation, error)
	List(ctx context.Context) ([]reservations.Reservation, error)
	ListByOwner(ctx context.Context, ownerID string) ([]reservations.Reservation, error)
	Delete(ctx context.Context, id string) error
}

type Identities interface {
	Exists(ctx context.Context, ownerID string) (bool, error)
}

type Submitter interface {
	Submit(ctx context.Context, r reservations.Reservation) error
}

// WaitlistRemover withdraws a reservation's entry on the site's waiting list.
type WaitlistRemover interface {
	RemoveFromWaitlist(ctx context.Context, r reservations.Reservation) error
}

type Server struct {
	Auth         *auth.Store
	Reservations Reservations
	Identities   Identities
	Submitter    Submitter
	// Waitlist is nil when this process has no browser; waitlisted
	// reservations are then only deleted locally.
	Waitlist WaitlistRemover
	// Horizon is how far ahead the site accepts bookings. Reservations
	// inside it are submitted right away.
	Horizon time.Duration
	Now     func() time.Time
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.Handle("GET /api/reservations", s.Auth.RequireAuth(http.HandlerFunc(s.handleList)))
	mux.Handle("POST /api/reservations", s.Auth.RequireAuth(http.HandlerFunc(s.handleCreate)))
	mux.Handle("GET /api/reservations/{id}", s.Auth.RequireAuth(http.HandlerFunc(s.handleGet)))
	mux.Handle("DELETE /api/reservations/{id}", s.Auth.RequireAuth(http.HandlerFunc(s.handleDelete)))

	return ChainMiddleware(mux, WithLogging, WithRecovery, WithRequestID)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.Auth.Authenticate(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid username/password")
		return
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to authenticate operator")
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	if err := s.Auth.SetSession(w, r, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

type opponentJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type reservationRequest struct {
	OwnerID   string         `json:"owner_id"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Opponents []opponentJSON `json:"opponents"`
}

type reservationJSON struct {
	ID                 string         `json:"id"`
	OwnerID            string         `json:"owner_id"`
	Start              time.Time      `json:"start"`
	End                time.Time      `json:"end"`
	Opponents          []opponentJSON `json:"opponents"`
	Status             string         `json:"status"`
	WaitingListEntryID *int64         `json:"waiting_list_entry_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at,omitzero"`
}

func toJSON(r reservations.Reservation) reservationJSON {
	opps := make([]opponentJSON, 0, len(r.Opponents))
	for _, o := range r.Opponents {
		opps = append(opps, opponentJSON(o))
	}
	return reservationJSON{
		ID:                 r.ID,
		OwnerID:            r.OwnerID,
		Start:              r.Start,
		End:                r.End,
		Opponents:          opps,
		Status:             string(r.Status),
		WaitingListEntryID: r.WaitingListEntryID,
		CreatedAt:          r.CreatedAt,
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		list []reservations.Reservation
		err  error
	)
	if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
		list, err = s.Reservations.ListByOwner(r.Context(), owner)
	} else {
		list, err = s.Reservations.List(r.Context())
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to list reservations")
		writeError(w, http.StatusInternalServerError, "failed to list reservations")
		return
	}
	out := make([]reservationJSON, 0, len(list))
	for _, res := range list {
		out = append(out, toJSON(res))
	}
	_ = writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.Reservations.Get(r.Context(), r.PathValue("id"))
	if db.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "reservation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = writeJSON(w, http.StatusOK, toJSON(res))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opps := make([]reservations.Opponent, 0, len(req.Opponents))
	for _, o := range req.Opponents {
		opps = append(opps, reservations.Opponent(o))
	}
	res := reservations.New(strings.TrimSpace(req.OwnerID), req.Start, req.End, opps)
	if err := res.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !res.Start.After(s.now()) {
		writeError(w, http.StatusBadRequest, "start must be in the future")
		return
	}

	ok, err := s.Identities.Exists(ctx, res.OwnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown owner_id "+res.OwnerID)
		return
	}

	if err := s.Reservations.Create(ctx, res); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to create reservation")
		writeError(w, http.StatusInternalServerError, "failed to create reservation")
		return
	}
	logger := log.Ctx(ctx).With().Str("reservation_id", res.ID).Logger()

	// Outside the horizon the daily scheduler job picks it up once it opens.
	if s.Submitter != nil && res.Start.Sub(s.now()) <= s.Horizon {
		if err := s.Submitter.Submit(ctx, res); err != nil {
			logger.Warn().Err(err).Msg("Failed to submit reservation, leaving it for the scheduler")
		} else {
			logger.Info().Msg("Reservation submitted for immediate execution")
		}
	}
	_ = writeJSON(w, http.StatusCreated, toJSON(res))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.Reservations.Get(ctx, r.PathValue("id"))
	if db.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "reservation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if res.Waitlisted() && s.Waitlist != nil {
		if err := s.Waitlist.RemoveFromWaitlist(ctx, res); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("reservation_id", res.ID).Msg("Failed to remove waiting list entry")
			writeError(w, http.StatusBadGateway, "failed to remove waiting list entry")
			return
		}
	}
	if err := s.Reservations.Delete(ctx, res.ID); err != nil && !db.IsNotFound(err) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = writeJSON(w, status, map[string]string{"error": msg})
}

func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("Listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
