package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func queueCommand(configPath *string) *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the sync queue",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:     "list <kind>",
		Short:   "List queued requests of a kind in replay order",
		Args:    cobra.ExactArgs(1),
		Example: "  offline-engine queue list quiz-submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			items, err := rt.engine.Queue().List(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tMETHOD\tURL\tENQUEUED\tATTEMPTS\tFLAG")
			for i := range items {
				item := &items[i]
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					item.ID, item.Method, item.URL,
					item.EnqueuedAt.Format(time.RFC3339), item.Attempts, item.FlagReason)
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print items as JSON")

	purge := &cobra.Command{
		Use:   "purge <kind>",
		Short: "Delete every queued request of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			n, err := rt.engine.Queue().Purge(ctx, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d item(s) from %s\n", n, args[0])
			return nil
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync <kind>",
		Short: "Replay queued requests of a kind against the upstream now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			report, err := rt.engine.TriggerSync(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	queue.AddCommand(list, purge, syncCmd)
	return queue
}
