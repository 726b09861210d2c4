package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cgduncan7/autobaan/internal/auth"
)

func newOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage operators of the API",
	}
	cmd.AddCommand(newOperatorAddCmd())
	return cmd
}

func newOperatorAddCmd() *cobra.Command {
	var username, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add an operator (username/password)",
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

			if err := auth.NewRepo(a.db).Create(ctx, username, password); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created operator %q\n", username)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}
