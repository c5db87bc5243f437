package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/etl"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/store"
)

type runOptions struct {
	types     []string
	cities    []string
	dataDir   string
	force     bool
	noStore   bool
	batchSize int
	workers   int
	jsonOut   bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "De-identify every configured source for every city",
		Long: `Walk the data directory and de-identify each source file of each city.

Files whose de-identified output already exists are skipped unless --force
is given. A failed file is reported and the run continues.

Examples:
  # Everything
  deidentify run

  # Only news articles for two cities
  deidentify run --type news --cities southbend,sanfrancisco

  # Larger batches on more workers, without recording the run
  deidentify run --batch-size 5000 --workers 8 --no-store`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, root, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.types, "type", nil, "Source types to process (default all)")
	cmd.Flags().StringSliceVar(&opts.cities, "cities", nil, "Cities to process (default: discovered under the data directory)")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "Data directory (overrides configuration)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-process files whose output already exists")
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false, "Do not record the run in the Postgres ledger")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Rows per batch (overrides configuration)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Worker goroutines per batch (overrides configuration)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the run summary as JSON")
	return cmd
}

func runBatch(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, log, err := root.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if opts.dataDir != "" {
		cfg.Batch.DataDir = opts.dataDir
	}
	if len(opts.cities) > 0 {
		cfg.Batch.Cities = opts.cities
	}
	if opts.batchSize > 0 {
		cfg.Batch.BatchSize = opts.batchSize
	}
	if opts.workers > 0 {
		cfg.Batch.WorkerCount = opts.workers
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	log.Info("Starting de-identification",
		zap.String("version", version),
		zap.String("data_dir", cfg.Batch.DataDir),
		zap.Strings("types", opts.types),
		zap.Bool("force", opts.force))

	services, err := root.services(ctx, cfg, log, opts.noStore)
	if err != nil {
		return err
	}
	defer services.Close()

	var observer etl.Observer
	if services.Store != nil {
		observer = store.NewRecorder(services.Store, log.Logger)
	}

	summary, err := services.NewRunner(cfg, observer, log.Logger).Run(ctx, opts.types, opts.force)
	if summary != nil {
		if opts.jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(summary); encErr != nil {
				return encErr
			}
		} else {
			printSummary(cmd.OutOrStdout(), summary)
		}
	}
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d file(s) failed", summary.Failed)
	}
	return nil
}

func printSummary(w io.Writer, summary *etl.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tCITY\tSTATUS\tROWS\tREDACTED\tOUTPUT")
	for _, f := range summary.Files {
		status := "done"
		switch {
		case f.Error != "":
			status = "failed: " + f.Error
		case f.Skipped:
			status = "skipped: " + f.SkipReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", f.Source, f.City, status, f.Rows, f.ValuesRedacted, f.Output)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nRun %s: %d processed, %d skipped, %d failed, %d rows in %s\n",
		summary.ID, summary.Processed, summary.Skipped, summary.Failed, summary.Rows, summary.Duration.Round(time.Millisecond))
}
