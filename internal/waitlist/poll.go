package waitlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Mailbox is a source of unread notification emails.
type Mailbox interface {
	Unseen(ctx context.Context) ([]Email, error)
	MarkRead(ctx context.Context, uids ...uint32) error
}

// Poll runs every unread email through the promoter and marks it read. Emails
// that fail to parse are discarded, not retried. It returns the number of
// reservations promoted.
func Poll(ctx context.Context, box Mailbox, p *Promoter) (int, error) {
	emails, err := box.Unseen(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch unseen: %w", err)
	}

	promoted := 0
	var consumed []uint32
	var errs []error
	for _, e := range emails {
		logger := log.Ctx(ctx).With().Uint32("uid", e.UID).Logger()
		got, err := p.OnNotificationEmail(ctx, e)
		promoted += len(got)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotNotification):
			logger.Debug().Str("from", e.From).Str("subject", e.Subject).Msg("Ignoring email")
		case errors.Is(err, ErrEmailDetails):
			logger.Warn().Err(err).Msg("Discarding malformed waiting list notification")
		default:
			errs = append(errs, err)
			// Unless something was promoted already, leave it unread so the
			// next poll sees it again.
			if len(got) == 0 {
				continue
			}
		}
		consumed = append(consumed, e.UID)
	}

	if len(consumed) > 0 {
		if err := box.MarkRead(ctx, consumed...); err != nil {
			errs = append(errs, fmt.Errorf("mark read: %w", err))
		}
	}
	return promoted, errors.Join(errs...)
}
