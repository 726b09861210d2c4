package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cgduncan7/autobaan/internal/identity"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the site accounts reservations are booked with",
	}
	cmd.AddCommand(newIdentityAddCmd())
	return cmd
}

func newIdentityAddCmd() *cobra.Command {
	var owner, username, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add or replace the site credentials of an owner",
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

			if password == "" {
				password = os.Getenv("BAAN_PASSWORD")
			}
			err = a.identities.Put(ctx, identity.Identity{OwnerID: owner, Username: username, Password: password})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "stored identity %q (site user %q)\n", owner, username)
			return nil
		},
	}

	c.Flags().StringVar(&owner, "owner", "", "owner id reservations refer to")
	c.Flags().StringVar(&username, "username", "", "site username")
	c.Flags().StringVar(&password, "password", "", "site password (default $BAAN_PASSWORD)")
	_ = c.MarkFlagRequired("owner")
	_ = c.MarkFlagRequired("username")
	return c
}
