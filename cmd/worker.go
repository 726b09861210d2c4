package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cgduncan7/autobaan/internal/queue"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the queue worker against its own browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, cfg, false)
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

			return a.worker(q, p, n).Run(ctx)
		},
	}
}
