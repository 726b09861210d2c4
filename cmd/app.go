package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cgduncan7/autobaan/internal/baan"
	"github.com/cgduncan7/autobaan/internal/booking"
	"github.com/cgduncan7/autobaan/internal/browser"
	"github.com/cgduncan7/autobaan/internal/config"
	"github.com/cgduncan7/autobaan/internal/db"
	"github.com/cgduncan7/autobaan/internal/identity"
	"github.com/cgduncan7/autobaan/internal/mailbox"
	"github.com/cgduncan7/autobaan/internal/migrate"
	"github.com/cgduncan7/autobaan/internal/notify"
	"github.com/cgduncan7/autobaan/internal/queue"
	"github.com/cgduncan7/autobaan/internal/reservations"
	"github.com/cgduncan7/autobaan/internal/scheduler"
	"github.com/cgduncan7/autobaan/internal/waitlist"
)

const typingDelay = 50 * time.Millisecond

// app holds the stores every command works with.
type app struct {
	cfg          config.Config
	db           *db.DB
	reservations *reservations.Repo
	identities   *identity.Store
}

func openApp(ctx context.Context, cfg config.Config, migrateUp bool) (*app, error) {
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if migrateUp {
		if err := migrate.Up(ctx, d); err != nil {
			d.Close()
			return nil, err
		}
	}
	cipher, err := identity.NewCipher(cfg.CredEncKey)
	if err != nil {
		d.Close()
		return nil, err
	}
	return &app{
		cfg:          cfg,
		db:           d,
		reservations: reservations.NewRepo(d),
		identities:   identity.NewStore(d, cipher),
	}, nil
}

func (a *app) Close() { a.db.Close() }

// notifier logs every event and, when SES is configured, mails it too. The
// returned func waits for mails still being sent.
func (a *app) notifier(ctx context.Context) (notify.Notifier, func(), error) {
	if !a.cfg.SES.Enabled() {
		return notify.Log{}, func() {}, nil
	}
	ses, err := notify.NewSES(ctx, a.cfg.SES.Region, a.cfg.SES.AccessKeyID, a.cfg.SES.SecretAccessKey, a.cfg.SES.Sender)
	if err != nil {
		return nil, nil, err
	}
	mail := &notify.Mail{Sender: ses, Recipient: a.cfg.SES.Recipient}
	return notify.Multi{notify.Log{}, mail}, mail.Wait, nil
}

func (a *app) submitter(q queue.Queue) *queue.Submitter {
	return &queue.Submitter{Queue: q, MaxAttempts: a.cfg.MaxAttempts}
}

func (a *app) promoter(q queue.Queue, n notify.Notifier) *waitlist.Promoter {
	return &waitlist.Promoter{
		Sender:       a.cfg.IMAP.Sender,
		Location:     a.cfg.Location,
		Reservations: a.reservations,
		Resubmitter:  a.submitter(q),
		Notifier:     n,
	}
}

// mailbox returns nil when IMAP is not configured.
func (a *app) mailbox() (waitlist.Mailbox, error) {
	if !a.cfg.IMAP.Enabled() {
		return nil, nil
	}
	return mailbox.New(mailbox.Config{
		Addr:     a.cfg.IMAP.Addr,
		Username: a.cfg.IMAP.Username,
		Password: a.cfg.IMAP.Password,
		Mailbox:  a.cfg.IMAP.Mailbox,
		Sender:   a.cfg.IMAP.Sender,
	})
}

// pipeline is a browser with the orchestrator that owns its session.
type pipeline struct {
	browser      *browser.Browser
	orchestrator *booking.Orchestrator
}

func (a *app) openPipeline(ctx context.Context, n notify.Notifier) (*pipeline, error) {
	b, err := browser.New(ctx, browser.Options{RemoteURL: a.cfg.ChromeURL, Headless: a.cfg.Headless})
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	site := baan.NewSite(a.cfg.BaseURL, a.cfg.Location)
	ranks := baan.CourtRanks{}
	for i, court := range a.cfg.CourtRanks {
		ranks[court] = i
	}
	o := booking.New(
		baan.NewSession(b),
		&baan.SessionController{Site: site, Credentials: a.identities, KeyDelay: typingDelay},
		&baan.CourtSelector{Site: site, Ranks: ranks},
		&baan.OpponentResolver{KeyDelay: typingDelay},
		&baan.WaitlistRegistrar{Site: site},
		a.reservations,
		n,
	)
	return &pipeline{browser: b, orchestrator: o}, nil
}

func (p *pipeline) Close() { p.browser.Close() }

func (a *app) worker(q *queue.Redis, p *pipeline, n notify.Notifier) *queue.Worker {
	return &queue.Worker{
		Queue:         q,
		Snapshots:     q,
		Executor:      p.orchestrator,
		Reservations:  a.reservations,
		Promoter:      a.promoter(q, n),
		Notifier:      n,
		Limiter:       rate.NewLimiter(rate.Every(a.cfg.SiteInterval), 1),
		Backoff:       a.cfg.RetryBackoff,
		ScreenshotDir: a.cfg.ScreenshotDir,
		Location:      a.cfg.Location,
	}
}

// runScheduler registers the periodic jobs and runs them until ctx is done.
func (a *app) runScheduler(ctx context.Context, q queue.Queue, n notify.Notifier) error {
	svc, err := scheduler.New()
	if err != nil {
		return err
	}
	jobs := &scheduler.Jobs{
		Reservations: a.reservations,
		Queue:        q,
		MaxAttempts:  a.cfg.MaxAttempts,
		Horizon:      a.cfg.Horizon,
		Location:     a.cfg.Location,
	}
	box, err := a.mailbox()
	if err != nil {
		return err
	}
	if box != nil {
		jobs.Mailbox = box
		jobs.Promoter = a.promoter(q, n)
	} else {
		log.Info().Msg("IMAP not configured, waiting list mailbox is not polled")
	}
	err = jobs.Register(ctx, svc, scheduler.Specs{
		ExecuteDue:    a.cfg.Cron.ExecuteDue,
		PollMailbox:   a.cfg.Cron.PollMailbox,
		CourtSnapshot: a.cfg.Cron.CourtSnapshot,
	})
	if err != nil {
		return err
	}

	svc.Start()
	<-ctx.Done()
	return svc.Stop()
}
