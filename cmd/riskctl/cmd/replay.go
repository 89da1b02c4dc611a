package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"riskgate/internal/eventbus"
	"riskgate/internal/eventlog"
)

func newReplayCmd() *cobra.Command {
	var (
		topics   []string
		summary  bool
		validate bool
	)

	cmd := &cobra.Command{
		Use:   "replay [path]",
		Short: "Print or summarise a JSONL event log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv("EVENT_STORE_PATH")
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("event log path is required (argument or EVENT_STORE_PATH)")
			}

			filter := make(map[eventbus.Topic]bool, len(topics))
			for _, t := range topics {
				filter[eventbus.Topic(t)] = true
			}

			out := cmd.OutOrStdout()
			counts := make(map[eventbus.Topic]int)
			invalid := 0
			err := eventlog.Replay(path, func(rec eventlog.Record) error {
				if len(filter) > 0 && !filter[rec.Topic] {
					return nil
				}
				if validate {
					if _, err := rec.Event(); err != nil {
						invalid++
						fmt.Fprintf(out, "invalid %s %s: %v\n", rec.ID, rec.Topic, err)
						return nil
					}
				}
				counts[rec.Topic]++
				if !summary {
					fmt.Fprintf(out, "%s %s %-15s %s\n", rec.ID, rec.Time.UTC().Format("2006-01-02T15:04:05.000Z"), rec.Topic, rec.Data)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if summary {
				names := make([]string, 0, len(counts))
				for t := range counts {
					names = append(names, string(t))
				}
				sort.Strings(names)
				total := 0
				for _, name := range names {
					n := counts[eventbus.Topic(name)]
					total += n
					fmt.Fprintf(out, "%-15s %d\n", name, n)
				}
				fmt.Fprintf(out, "%-15s %d\n", "total", total)
			}
			if invalid > 0 {
				return fmt.Errorf("%d records failed validation", invalid)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topic", nil, "Only these topics (repeatable)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print counts per topic instead of records")
	cmd.Flags().BoolVar(&validate, "validate", false, "Decode every record into its typed event")
	return cmd
}
