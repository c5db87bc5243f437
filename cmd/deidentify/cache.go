package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/cache"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/logger"
)

var errCacheDisabled = errors.New("redaction cache is not enabled")

func newCacheCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the Redis redaction cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := openCache(root)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer c.Close()

			stats, err := c.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total Keys:  %d\n", stats.TotalKeys)
			fmt.Fprintf(out, "Errors:      %d\n", stats.Errors)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached redaction",
		Long: `Delete every cached redaction under the configured key prefix. Needed
after changing anything the cache key does not capture, such as a gazetteer
term list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := openCache(root)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer c.Close()

			n, err := c.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cached redactions\n", n)
			return nil
		},
	})

	return cmd
}

func openCache(root *rootOptions) (*cache.RedactionCache, *logger.Logger, error) {
	cfg, log, err := root.setup()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Cache.Enabled || root.noCache {
		return nil, nil, errCacheDisabled
	}
	c, err := cache.NewRedactionCache(&cfg.Cache, log.WithComponent("cache").Logger)
	if err != nil {
		return nil, nil, err
	}
	return c, log, nil
}
