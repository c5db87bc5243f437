package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/store"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or the file reports of one run",
		Long: `Read the Postgres run ledger. Without arguments the most recent runs are
listed; with a run ID its file reports are shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			if !cfg.Store.Enabled {
				return errors.New("run ledger is not enabled")
			}

			st, err := store.NewStore(&cfg.Store, log.WithComponent("store").Logger)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				runID, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid run id %q: %w", args[0], err)
				}
				files, err := st.FileReports(ctx, runID)
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(files)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SOURCE\tCITY\tROWS\tREDACTED\tSTATUS\tDURATION")
				for _, f := range files {
					status := "done"
					switch {
					case f.Error != "":
						status = "failed"
					case f.Skipped:
						status = "skipped: " + f.SkipReason
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
						f.Source, f.City, f.Rows, f.ValuesRedacted, status, time.Duration(f.DurationMs)*time.Millisecond)
				}
				return tw.Flush()
			}

			runs, err := st.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(out).Encode(runs)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tSOURCES\tPROCESSED\tSKIPPED\tFAILED\tROWS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%d\t%d\t%d\n",
					r.ID, r.StartedAt.Format(time.RFC3339), []string(r.Sources), r.Processed, r.Skipped, r.Failed, r.Rows)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}
