package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate CRED_ENC_KEY, COOKIE_HASH_KEY and COOKIE_BLOCK_KEY values (base64)",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{"CRED_ENC_KEY", "COOKIE_HASH_KEY", "COOKIE_BLOCK_KEY"} {
				key := make([]byte, 32)
				if _, err := rand.Read(key); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "export %s=%s\n", name, base64.StdEncoding.EncodeToString(key))
			}
			return nil
		},
	}
}
