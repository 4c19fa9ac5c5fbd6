// Package cli implements the etl command line: the long-running sync loop
// plus maintenance commands for watermarks and indices.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/logger"
)

// options is shared by every command.
type options struct {
	configPath string
	cfg        *config.Config
}

// NewRootCommand builds the etl command tree. Without a subcommand it runs
// the sync loop.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "etl",
		Short: "Sync the movies catalog from PostgreSQL into Elasticsearch",
		Long: `Incrementally copies film works, genres and persons that changed since
the last run from PostgreSQL into their Elasticsearch indices. Progress is
kept as one watermark per table, so a restarted process resumes where it
stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("ETL_CONFIG"),
		"path to the YAML config file (defaults and ETL_* variables apply without one)")

	run := newRunCommand(opts)
	root.RunE = run.RunE
	root.AddCommand(
		run,
		newOnceCommand(opts),
		newResetCommand(opts),
		newIndicesCommand(opts),
		newMappingCommand(),
	)
	return root
}

// Execute runs the command tree until SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		return fmt.Errorf("etl: %w", err)
	}
	return nil
}
