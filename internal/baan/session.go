package baan

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/identity"
)

// Session is one browser page and the identity it is logged in as.
type Session struct {
	Page Page

	identity      string
	establishedAt time.Time
}

func NewSession(p Page) *Session { return &Session{Page: p} }

// Identity returns the owner id the page is logged in as, or "" if none.
func (s *Session) Identity() string { return s.identity }

func (s *Session) EstablishedAt() time.Time { return s.establishedAt }

func (s *Session) record(ownerID string, at time.Time) {
	s.identity = ownerID
	s.establishedAt = at
}

func (s *Session) clear() {
	s.identity = ""
	s.establishedAt = time.Time{}
}

type Credentials interface {
	Lookup(ctx context.Context, ownerID string) (identity.Identity, error)
}

// SessionController logs sessions in and out of the site.
type SessionController struct {
	Site        Site
	Credentials Credentials
	// KeyDelay spaces keystrokes when typing credentials.
	KeyDelay time.Duration
	Now      func() time.Time
}

// EnsureSession leaves s authenticated as ownerID on the reservations
// overview. It logs in when the site asks for it, switches identity with a
// logout first, and does nothing when ownerID is already active.
func (c *SessionController) EnsureSession(ctx context.Context, s *Session, ownerID string) error {
	logger := log.Ctx(ctx).With().Str("identity", ownerID).Logger()

	if err := s.Page.Navigate(ctx, c.Site.URL(pathOverview)); err != nil {
		return stepErr(StepOpenOverview, err)
	}
	loc, err := s.Page.Location(ctx)
	if err != nil {
		return stepErr(StepOpenOverview, err)
	}

	switch {
	case requiresLogin(loc):
		if s.identity != "" {
			logger.Info().Str("previous", s.identity).Msg("Site session expired")
			s.clear()
		}
		return c.Login(ctx, s, ownerID)
	case s.identity == ownerID:
		logger.Debug().Msg("Session already active")
		return nil
	default:
		logger.Info().Str("previous", s.identity).Msg("Switching site identity")
		if err := c.Logout(ctx, s); err != nil {
			return err
		}
		if err := s.Page.Navigate(ctx, c.Site.URL(pathOverview)); err != nil {
			return stepErr(StepOpenOverview, err)
		}
		return c.Login(ctx, s, ownerID)
	}
}

func (c *SessionController) Login(ctx context.Context, s *Session, ownerID string) error {
	id, err := c.Credentials.Lookup(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("credentials for %s: %w", ownerID, err)
	}

	if err := s.Page.Type(ctx, selUsername, id.Username, c.KeyDelay); err != nil {
		return stepErr(StepLoginUsername, err)
	}
	if err := s.Page.Type(ctx, selPassword, id.Password, c.KeyDelay); err != nil {
		return stepErr(StepLoginPassword, err)
	}
	if err := s.Page.Click(ctx, selLoginSubmit); err != nil {
		return stepErr(StepLoginSubmit, err)
	}
	if err := s.Page.WaitIdle(ctx); err != nil {
		return stepErr(StepLoginSubmit, err)
	}
	loc, err := s.Page.Location(ctx)
	if err != nil {
		return stepErr(StepLoginSubmit, err)
	}
	if requiresLogin(loc) {
		return stepErr(StepLoginSubmit, ErrLoginRejected)
	}

	s.record(ownerID, c.now())
	log.Ctx(ctx).Info().Str("identity", ownerID).Msg("Logged in to site")
	return nil
}

func (c *SessionController) Logout(ctx context.Context, s *Session) error {
	if err := s.Page.Navigate(ctx, c.Site.URL(pathLogout)); err != nil {
		return stepErr(StepLogout, err)
	}
	if err := s.Page.WaitIdle(ctx); err != nil {
		return stepErr(StepLogout, err)
	}
	s.clear()
	return nil
}

func (c *SessionController) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
