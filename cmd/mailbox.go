package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cgduncan7/autobaan/internal/queue"
	"github.com/cgduncan7/autobaan/internal/waitlist"
)

func newMailboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailbox",
		Short: "Work with the waiting list mailbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "poll",
		Short: "Read unseen waiting list notifications once and promote matching reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			box, err := a.mailbox()
			if err != nil {
				return err
			}
			if box == nil {
				return errors.New("IMAP_ADDR and IMAP_USER are required")
			}

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

			promoted, err := waitlist.Poll(ctx, box, a.promoter(q, n))
			fmt.Fprintf(os.Stdout, "promoted %d reservation(s)\n", promoted)
			return err
		},
	})
	return cmd
}
