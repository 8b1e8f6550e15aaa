package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/wifi-scenario/internal/results"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, or the flows of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("results-db")
			if path == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				path = cfg.Output.ResultsDB
			}
			if path == "" {
				return errors.New("no results database: pass --results-db or set output.results_db")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			runID, _ := cmd.Flags().GetString("flows")

			store, err := results.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if runID != "" {
				flows, err := store.Flows(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "FLOW\tKEY\tTX\tRX\tLOST\tDELAY\tJITTER")
				for _, f := range flows {
					fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
						f.FlowID, f.Key, f.TxPackets, f.RxPackets, f.LostPackets, f.DelayMean, f.JitterSum)
				}
				return nil
			}

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "RUN\tNAME\tSTARTED\tCELLS\tOUTCOME\tTX\tRX\tLOST")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%d\n",
					r.ID, r.Name, r.StartedAt.Local().Format(time.DateTime), r.AccessPoints,
					r.Outcome, r.TxPackets, r.RxPackets, r.LostPackets)
			}
			return nil
		},
	}
	cmd.Flags().String("results-db", "", "SQLite file recording run history")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().String("flows", "", "Show the flows of this run ID instead of the run list")
	return cmd
}
