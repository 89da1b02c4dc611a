// Package cmd содержит команды riskctl: офлайн-инструменты для
// волатильности, схемы хранилища, журнала событий и проверки заявок.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd собирает дерево команд
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "riskctl",
		Short: "Operator tooling for the riskgate pre-trade risk service",
		Long: `riskctl works on the same configuration and files as the riskgate server.

It provides tools for:
  - fitting GARCH(1,1) to a CSV of prices and forecasting volatility
  - creating the state store schema
  - printing and summarising the JSONL event log
  - dry-running an order intent against the configured risk limits
  - generating API tokens and encrypting exchange secrets`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newGarchCmd(),
		newMigrateCmd(),
		newReplayCmd(),
		newCheckCmd(),
		newTokenCmd(),
		newEncryptCmd(),
	)
	return root
}

// Execute запускает корневую команду
func Execute() error {
	return NewRootCmd().Execute()
}
