package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/app"
)

func newRulesCmd(root *rootOptions) *cobra.Command {
	var rulesFile string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the rule table",
		Long: `Print every rule of the rule table by tier, in the order they run.

With --file the given TOML table is validated and listed instead of the
configured one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rulesFile
			if path == "" {
				cfg, _, err := root.setup()
				if err != nil {
					return err
				}
				path = cfg.Engine.RulesFile
			}

			rs, err := app.LoadRules(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rule table %s (%s), %d rules\n\n", rs.Version(), rs.Fingerprint(), rs.Len())

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tID\tPLACEHOLDER\tDESCRIPTION")
			for _, tier := range rs.Tiers() {
				for _, rule := range rs.Rules(tier) {
					placeholder := string(rule.Placeholder)
					if placeholder == "" {
						placeholder = rule.Template
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tier, rule.ID, placeholder, rule.Description)
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&rulesFile, "file", "", "Rule table to validate and list")
	return cmd
}
