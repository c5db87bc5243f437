package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/keywords"
)

func newKeywordsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Homelessness lexicon matching",
	}
	cmd.AddCommand(newKeywordsFindCmd(root), newKeywordsAnnotateCmd(root))
	return cmd
}

func newKeywordsFindCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "find <text...>",
		Short: "Print the lexicon terms found in text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.setup()
			if err != nil {
				return err
			}
			matcher, err := keywords.New(cfg.Keywords.Terms, cfg.Keywords.WholeWord)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), keywords.Join(matcher.Find(strings.Join(args, " "))))
			return nil
		},
	}
}

func newKeywordsAnnotateCmd(root *rootOptions) *cobra.Command {
	var (
		types   []string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Write keywords_matched into the original files and their de-identified siblings",
		Long: `Scan the text column of every original source file, write the matched
lexicon terms to a keywords_matched column, then copy that column into the
de-identified sibling. A sibling whose row count differs from the original
is reported and left untouched.

Examples:
  deidentify keywords annotate
  deidentify keywords annotate --type reddit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext(log)
			defer cancel()

			services, err := root.services(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer services.Close()

			reports, err := services.NewRunner(cfg, nil, log.Logger).AnnotateKeywords(ctx, types, services.Keywords.Annotate)
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(reports); encErr != nil {
					return encErr
				}
			} else {
				for _, rep := range reports {
					status := "synced"
					switch {
					case rep.Error != "":
						status = "error: " + rep.Error
					case rep.Skipped != "":
						status = "skipped: " + rep.Skipped
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s\n", rep.City, rep.Source, status)
				}
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&types, "type", nil, "Source types to annotate (default all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the reports as JSON")
	return cmd
}
