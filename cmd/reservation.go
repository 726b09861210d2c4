package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cgduncan7/autobaan/internal/notify"
	"github.com/cgduncan7/autobaan/internal/queue"
	"github.com/cgduncan7/autobaan/internal/reservations"
)

const cliTimeLayout = "2006-01-02 15:04"

func newReservationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reservation",
		Aliases: []string{"res"},
		Short:   "Manage reservations (non-API)",
	}
	cmd.AddCommand(newReservationAddCmd())
	cmd.AddCommand(newReservationListCmd())
	cmd.AddCommand(newReservationRmCmd())
	return cmd
}

func newReservationAddCmd() *cobra.Command {
	var (
		owner     string
		start     string
		end       string
		opponents []string
		submit    bool
	)

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a reservation; times are in the site's timezone",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			startAt, err := time.ParseInLocation(cliTimeLayout, start, cfg.Location)
			if err != nil {
				return fmt.Errorf("invalid --start (want %q): %w", cliTimeLayout, err)
			}
			var endAt time.Time
			if end != "" {
				if endAt, err = time.ParseInLocation(cliTimeLayout, end, cfg.Location); err != nil {
					return fmt.Errorf("invalid --end (want %q): %w", cliTimeLayout, err)
				}
			}
			opps, err := parseOpponents(opponents)
			if err != nil {
				return err
			}

			r := reservations.New(owner, startAt, endAt, opps)
			if err := r.Validate(); err != nil {
				return err
			}
			ok, err := a.identities.Exists(ctx, owner)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no identity stored for owner %q; run `autobaan identity add` first", owner)
			}
			if err := a.reservations.Create(ctx, r); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created reservation id=%s start=%s end=%s\n",
				r.ID, r.Start.Format(cliTimeLayout), r.End.Format(cliTimeLayout))

			if !submit || time.Until(r.Start) > cfg.Horizon {
				return nil
			}
			q, err := queue.OpenRedis(ctx, cfg.RedisAddr)
			if err != nil {
				log.Warn().Err(err).Msg("Queue unavailable, the scheduler will pick the reservation up")
				return nil
			}
			defer q.Close()
			if err := a.submitter(q).Submit(ctx, r); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "submitted for immediate execution")
			return nil
		},
	}

	c.Flags().StringVar(&owner, "owner", "", "owner id (see `identity add`)")
	c.Flags().StringVar(&start, "start", "", "earliest start, "+cliTimeLayout)
	c.Flags().StringVar(&end, "end", "", "latest start, "+cliTimeLayout+" (default start+45m)")
	c.Flags().StringArrayVar(&opponents, "opponent", nil, "opponent as id:name, repeatable")
	c.Flags().BoolVar(&submit, "submit", true, "enqueue right away when the start is within the booking horizon")

	_ = c.MarkFlagRequired("owner")
	_ = c.MarkFlagRequired("start")
	return c
}

func parseOpponents(in []string) ([]reservations.Opponent, error) {
	var out []reservations.Opponent
	for _, s := range in {
		id, name, ok := strings.Cut(s, ":")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --opponent %q (want id:name)", s)
		}
		out = append(out, reservations.Opponent{ID: strings.TrimSpace(id), Name: strings.TrimSpace(name)})
	}
	return out, nil
}

func newReservationListCmd() *cobra.Command {
	var owner string
	c := &cobra.Command{
		Use:   "list",
		Short: "List reservations",
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

			var rs []reservations.Reservation
			if owner != "" {
				rs, err = a.reservations.ListByOwner(ctx, owner)
			} else {
				rs, err = a.reservations.List(ctx)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOWNER\tSTART\tEND\tSTATUS\tENTRY\tOPPONENTS")
			for _, r := range rs {
				entry := "-"
				if r.WaitingListEntryID != nil {
					entry = fmt.Sprint(*r.WaitingListEntryID)
				}
				names := make([]string, 0, len(r.Opponents))
				for _, o := range r.Opponents {
					names = append(names, o.Name)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.OwnerID,
					r.Start.In(cfg.Location).Format(cliTimeLayout), r.End.In(cfg.Location).Format(cliTimeLayout),
					r.Status, entry, strings.Join(names, ","))
			}
			return tw.Flush()
		},
	}
	c.Flags().StringVar(&owner, "owner", "", "only this owner's reservations")
	return c
}

func newReservationRmCmd() *cobra.Command {
	var local bool
	c := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a reservation, withdrawing its waiting list entry on the site",
		Args:  cobra.ExactArgs(1),
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

			r, err := a.reservations.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if r.Waitlisted() && !local {
				p, err := a.openPipeline(ctx, notify.Log{})
				if err != nil {
					return err
				}
				err = p.orchestrator.RemoveFromWaitlist(ctx, r)
				p.Close()
				if err != nil {
					return fmt.Errorf("remove waiting list entry %d: %w", *r.WaitingListEntryID, err)
				}
			}
			if err := a.reservations.Delete(ctx, r.ID); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "deleted reservation %s\n", r.ID)
			return nil
		},
	}
	c.Flags().BoolVar(&local, "local", false, "only delete locally, leave the site's waiting list alone")
	return c
}
