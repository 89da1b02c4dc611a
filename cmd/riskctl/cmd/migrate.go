package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"riskgate/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	var (
		uri       string
		printOnly bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the state store schema (postgres:// or sqlite:// URI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if uri == "" {
				return fmt.Errorf("--uri or STATE_STORE_URI is required")
			}
			dialect, _, err := repository.ParseURI(uri)
			if err != nil {
				return err
			}

			if printOnly {
				for _, stmt := range repository.Schema(dialect) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s;\n\n", stmt)
				}
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := repository.OpenSQLStore(ctx, uri)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", dialect)
			return nil
		},
	}

	cmd.Flags().StringVar(&uri, "uri", os.Getenv("STATE_STORE_URI"), "Store URI")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the DDL instead of applying it")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Connect and migrate timeout")
	return cmd
}
