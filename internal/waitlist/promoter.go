// Package waitlist turns "a waiting list slot is free" signals into new booking
// attempts for the reservations waiting on it.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/baan"
	"github.com/cgduncan7/autobaan/internal/notify"
	"github.com/cgduncan7/autobaan/internal/reservations"
)

// PromotedAttempts is the attempt budget of a promoted reservation. Freed
// slots are contested, so there is no point retrying.
const PromotedAttempts = 1

var (
	ErrNotNotification = errors.New("not a waiting list notification")
	ErrEmailDetails    = errors.New("waiting list notification lacks date or times")
)

// Email is an inbound message. From holds the bare sender address.
type Email struct {
	UID        uint32
	Subject    string
	From       string
	Body       string
	ReceivedAt time.Time
}

var (
	subjectRe = regexp.MustCompile(`(?i)(persoonlijke wachtlijst reservering vrij|personal waiting ?list reservation (available|free))`)
	dateRe    = regexp.MustCompile(`(?im)^\s*(?:datum|date)\s*:\s*(\d{2}-\d{2}-\d{4})`)
	startRe   = regexp.MustCompile(`(?im)^\s*(?:begintijd|start time)\s*:\s*(\d{1,2}:\d{2})`)
	endRe     = regexp.MustCompile(`(?im)^\s*(?:eindtijd|end time)\s*:\s*(\d{1,2}:\d{2})`)
)

// Details is what a notification says became free.
type Details struct {
	Start time.Time
	End   time.Time
}

type Reservations interface {
	ListWaitlistedByStart(ctx context.Context, start time.Time) ([]reservations.Reservation, error)
	ListWaitlistedBetween(ctx context.Context, from, to time.Time) ([]reservations.Reservation, error)
}

// Resubmitter puts a reservation back into the execution pipeline.
type Resubmitter interface {
	Resubmit(ctx context.Context, r reservations.Reservation, maxAttempts int) error
}

type Promoter struct {
	// Sender is the only address notifications are accepted from.
	Sender       string
	Location     *time.Location
	Reservations Reservations
	Resubmitter  Resubmitter
	Notifier     notify.Notifier
}

// Parse checks that e is a notification from the site and extracts the slot
// it announces.
func (p *Promoter) Parse(e Email) (Details, error) {
	if p.Sender == "" || e.From != p.Sender || !subjectRe.MatchString(e.Subject) {
		return Details{}, ErrNotNotification
	}

	date, start, end := match(dateRe, e.Body), match(startRe, e.Body), match(endRe, e.Body)
	if date == "" || start == "" || end == "" {
		return Details{}, fmt.Errorf("%w: subject %q", ErrEmailDetails, e.Subject)
	}

	loc := p.location()
	s, err := time.ParseInLocation("02-01-2006 15:04", date+" "+start, loc)
	if err != nil {
		return Details{}, fmt.Errorf("%w: %v", ErrEmailDetails, err)
	}
	en, err := time.ParseInLocation("02-01-2006 15:04", date+" "+end, loc)
	if err != nil {
		return Details{}, fmt.Errorf("%w: %v", ErrEmailDetails, err)
	}
	return Details{Start: s, End: en}, nil
}

// OnNotificationEmail resubmits every waitlisted reservation starting exactly
// at the announced time and returns them.
func (p *Promoter) OnNotificationEmail(ctx context.Context, e Email) ([]reservations.Reservation, error) {
	logger := log.Ctx(ctx).With().Uint32("uid", e.UID).Str("subject", e.Subject).Logger()

	d, err := p.Parse(e)
	if err != nil {
		return nil, err
	}

	matches, err := p.Reservations.ListWaitlistedByStart(ctx, d.Start)
	if err != nil {
		return nil, fmt.Errorf("list waitlisted at %s: %w", d.Start, err)
	}
	if len(matches) == 0 {
		logger.Info().Time("start", d.Start).Msg("No tracked reservation for freed waiting list slot")
		return nil, nil
	}
	return p.promote(ctx, matches, "Freed slot announced by email")
}

// OnFreedSlots resubmits the waitlisted reservations on day whose possible
// times gained a free court. freed is keyed by site-local "15:04".
func (p *Promoter) OnFreedSlots(ctx context.Context, day time.Time, freed baan.CourtSnapshot) ([]reservations.Reservation, error) {
	if len(freed) == 0 {
		return nil, nil
	}
	loc := p.location()
	y, m, d := day.In(loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)

	waiting, err := p.Reservations.ListWaitlistedBetween(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list waitlisted on %s: %w", from.Format("2006-01-02"), err)
	}

	var matches []reservations.Reservation
	for _, r := range waiting {
		for _, t := range r.PossibleTimes() {
			if len(freed[t.In(loc).Format("15:04")]) > 0 {
				matches = append(matches, r)
				break
			}
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return p.promote(ctx, matches, "Freed court seen in calendar")
}

func (p *Promoter) promote(ctx context.Context, matches []reservations.Reservation, detail string) ([]reservations.Reservation, error) {
	var promoted []reservations.Reservation
	var errs []error
	for _, r := range matches {
		if err := p.Resubmitter.Resubmit(ctx, r, PromotedAttempts); err != nil {
			errs = append(errs, fmt.Errorf("resubmit %s: %w", r.ID, err))
			continue
		}
		log.Ctx(ctx).Info().Str("reservation_id", r.ID).Time("start", r.Start).Msg("Promoted waitlisted reservation")
		if p.Notifier != nil {
			p.Notifier.Notify(ctx, notify.Event{
				Kind:          notify.KindWaitlistAvailable,
				ReservationID: r.ID,
				OwnerID:       r.OwnerID,
				Start:         r.Start,
				End:           r.End,
				Detail:        detail,
			})
		}
		promoted = append(promoted, r)
	}
	return promoted, errors.Join(errs...)
}

func (p *Promoter) location() *time.Location {
	if p.Location != nil {
		return p.Location
	}
	return baan.DefaultLocation()
}

func match(re *regexp.Regexp, body string) string {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
