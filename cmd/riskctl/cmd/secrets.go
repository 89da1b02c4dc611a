package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"riskgate/pkg/crypto"
)

func newTokenCmd() *cobra.Command {
	var (
		token string
		cost  int
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API bearer token and its bcrypt hash for API_TOKEN_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				var err error
				if token, err = crypto.GenerateToken(); err != nil {
					return err
				}
			}
			hash, err := crypto.HashToken(token, cost)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token: %s\nAPI_TOKEN_HASH=%s\n", token, hash)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Hash this token instead of generating one")
	cmd.Flags().IntVar(&cost, "cost", crypto.DefaultCost, "bcrypt cost")
	return cmd
}

func newEncryptCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "encrypt <secret>",
		Short: "Encrypt a secret with ENCRYPTION_KEY for LIVE_API_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(key) != 32 {
				return fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
			}
			enc, err := crypto.EncryptSecret(args[0], []byte(key))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", os.Getenv("ENCRYPTION_KEY"), "32-byte key (default ENCRYPTION_KEY)")
	return cmd
}
