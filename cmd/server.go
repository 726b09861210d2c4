package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cgduncan7/autobaan/internal/auth"
	"github.com/cgduncan7/autobaan/internal/queue"
	"github.com/cgduncan7/autobaan/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the operator API, the queue worker and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireCookieKeys(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, cfg, migrateUp)
			if err != nil {
				return err
			}
			defer a.Close()

			q, err := queue.OpenRedis(ctx, cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer q.Close()

			n, waitMail, err := a.notifier(ctx)
			if err != nil {
				return err
			}
			defer waitMail()

			p, err := a.openPipeline(ctx, n)
			if err != nil {
				return err
			}
			defer p.Close()

			ws := &web.Server{
				Auth:         auth.NewStore(auth.NewRepo(a.db), cfg.CookieHashKey, cfg.CookieBlockKey),
				Reservations: a.reservations,
				Identities:   a.identities,
				Submitter:    a.submitter(q),
				Waitlist:     p.orchestrator,
				Horizon:      cfg.Horizon,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return web.Start(gctx, cfg.ListenAddr, ws.Routes()) })
			g.Go(func() error { return a.worker(q, p, n).Run(gctx) })
			g.Go(func() error { return a.runScheduler(gctx, q, n) })

			err = g.Wait()
			log.Info().Err(err).Msg("Server stopped")
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
