// Package main implements the deidentify CLI: batch de-identification of the
// research corpus plus one-off redaction and inspection commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/app"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/config"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/logger"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

// rootOptions are the flags shared by every subcommand
type rootOptions struct {
	configPath string
	logLevel   string
	noCache    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "deidentify",
		Short: "De-identify social media, news and meeting-minutes text",
		Long: `deidentify replaces personal information in research corpora with
bracketed placeholders such as [PERSON], [LOCATION] and [PHONE].

Examples:
  # De-identify every source for every city under data/
  deidentify run

  # Only Reddit and X, re-processing files that were already done
  deidentify run --type reddit --type x --force

  # One file with explicit columns
  deidentify file data/southbend/x/posts.csv --columns text

  # Quick check from stdin
  echo "Call Jane at 574-555-0100" | deidentify text -`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Configuration file path")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	cmd.PersistentFlags().BoolVar(&opts.noCache, "no-cache", false, "Do not use the Redis redaction cache")

	cmd.AddCommand(
		newRunCmd(opts),
		newFileCmd(opts),
		newTextCmd(opts),
		newRulesCmd(opts),
		newKeywordsCmd(opts),
		newCacheCmd(opts),
		newRunsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// setup loads the configuration and builds the logger
func (o *rootOptions) setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// services builds the engine and the requested backing services
func (o *rootOptions) services(ctx context.Context, cfg *config.Config, log *logger.Logger, skipStore bool) (*app.Services, error) {
	return app.NewServices(ctx, cfg, log.Logger, app.Options{
		SkipCache: o.noCache,
		SkipStore: skipStore,
	})
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(log *logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("Received shutdown signal, cancelling operations...", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deidentify %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
