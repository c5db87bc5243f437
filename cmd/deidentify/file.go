package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/etl"
)

type fileOptions struct {
	output  string
	columns []string
	exclude []string
	force   bool
	jsonOut bool
}

func newFileCmd(root *rootOptions) *cobra.Command {
	opts := &fileOptions{}

	cmd := &cobra.Command{
		Use:   "file <input>",
		Short: "De-identify a single CSV, Parquet or JSON Lines file",
		Long: `De-identify one file. Every selected column gets a Deidentified_<column>
companion; the output keeps the input's format, row order and columns.

Examples:
  # Every column, output next to the input as <name>_deidentified.csv
  deidentify file comments.csv

  # Only two columns, explicit output
  deidentify file comments.parquet --columns "Submission Title,Comment" --output out.parquet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(cmd, root, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file (default: <input>_deidentified.<ext>)")
	cmd.Flags().StringSliceVar(&opts.columns, "columns", nil, "Columns to de-identify (default every column)")
	cmd.Flags().StringSliceVar(&opts.exclude, "exclude", nil, "Columns to leave untouched")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing output file")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the file report as JSON")
	return cmd
}

func runFile(cmd *cobra.Command, root *rootOptions, opts *fileOptions, input string) error {
	cfg, log, err := root.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	output := opts.output
	if output == "" {
		output = etl.OutputPath(input, cfg.Batch.OutputSuffix)
	}
	if !opts.force {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("output %s already exists (use --force to overwrite)", output)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	services, err := root.services(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer services.Close()

	batch := cfg.Batch.Config
	pipeline := etl.NewPipeline(services.Redactor, &batch, nil, log.Logger)
	report, err := pipeline.ProcessFile(ctx, etl.Job{
		RunID:   uuid.New(),
		Source:  "file",
		Input:   input,
		Output:  output,
		Columns: opts.columns,
		Exclude: opts.exclude,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if report.Skipped {
		fmt.Fprintf(out, "Skipped %s: %s\n", input, report.SkipReason)
		return nil
	}
	fmt.Fprintf(out, "Wrote %s: %d rows, %d values redacted, %d normalized\n",
		report.Output, report.Rows, report.ValuesRedacted, report.ValuesNormalized)
	if len(report.MissingColumns) > 0 {
		fmt.Fprintf(out, "Missing columns: %v\n", report.MissingColumns)
	}
	return nil
}
