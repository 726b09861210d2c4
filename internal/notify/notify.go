// Package notify delivers fire-and-forget messages about reservation progress.
// Delivery failures are logged and never returned to the booking flow.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindPerforming        Kind = "performing"
	KindBooked            Kind = "booked"
	KindWaitlisted        Kind = "waitlisted"
	KindError             Kind = "error"
	KindWaitlistAvailable Kind = "waitlist_available"
)

type Event struct {
	Kind          Kind
	ReservationID string
	OwnerID       string
	Start         time.Time
	End           time.Time
	// Detail is free text: the booked court, the waiting list entry, or the
	// failure that ended the attempts.
	Detail string
}

func (e Event) Subject() string {
	when := e.Start.Format("Mon 02-01-2006 15:04")
	switch e.Kind {
	case KindPerforming:
		return "Booking court for " + when
	case KindBooked:
		return "Court booked for " + when
	case KindWaitlisted:
		return "On the waiting list for " + when
	case KindWaitlistAvailable:
		return "Waiting list slot available for " + when
	case KindError:
		return "Booking failed for " + when
	default:
		return fmt.Sprintf("%s: %s", e.Kind, when)
	}
}

func (e Event) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reservation: %s\n", e.ReservationID)
	fmt.Fprintf(&b, "Owner: %s\n", e.OwnerID)
	fmt.Fprintf(&b, "Start: %s\n", e.Start.Format(time.RFC3339))
	if !e.End.IsZero() {
		fmt.Fprintf(&b, "End: %s\n", e.End.Format(time.RFC3339))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, "\n%s\n", e.Detail)
	}
	return b.String()
}

type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Log writes events to the structured log. It is the notifier of last resort.
type Log struct{}

func (Log) Notify(ctx context.Context, e Event) {
	log.Ctx(ctx).Info().
		Str("event", string(e.Kind)).
		Str("reservation_id", e.ReservationID).
		Str("owner_id", e.OwnerID).
		Time("start", e.Start).
		Str("detail", e.Detail).
		Msg("Reservation event")
}

// Multi fans an event out to every notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}

// Sender delivers a single plain-text email.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

const mailTimeout = 10 * time.Second

// Mail emails events to a fixed recipient in the background.
type Mail struct {
	Sender    Sender
	Recipient string
	// Kinds limits which events are mailed; empty means all.
	Kinds []Kind

	wg sync.WaitGroup
}

func (m *Mail) Notify(ctx context.Context, e Event) {
	if m.Sender == nil || m.Recipient == "" || !m.wants(e.Kind) {
		return
	}
	logger := log.Ctx(ctx).With().Str("event", string(e.Kind)).Str("reservation_id", e.ReservationID).Logger()
	subject, body := e.Subject(), e.Body()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailTimeout)
		defer cancel()
		if err := m.Sender.Send(sendCtx, m.Recipient, subject, body); err != nil {
			logger.Warn().Err(err).Str("recipient", m.Recipient).Msg("Failed to send notification email")
		}
	}()
}

// Wait blocks until every background send has finished.
func (m *Mail) Wait() { m.wg.Wait() }

func (m *Mail) wants(k Kind) bool {
	if len(m.Kinds) == 0 {
		return true
	}
	for _, want := range m.Kinds {
		if want == k {
			return true
		}
	}
	return false
}
