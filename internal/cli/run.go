package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/metrics"
)

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync continuously until interrupted",
		Long: `Drains every configured table in turn, pausing etl.fetchDelay between
tables, and starts over after the last one. The metrics and health server
runs alongside when metrics.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoop(cmd.Context(), opts.cfg)
		},
	}
}

func runLoop(ctx context.Context, cfg *config.Config) error {
	d := newDeps(cfg)
	defer d.Close()
	slog.Info("starting etl", describe(cfg)...)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Port, metrics.NewMux(d.registry, d.checker))
		})
	}
	g.Go(func() error {
		p, err := d.buildPipeline(gctx)
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		return p.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("etl stopped")
	return nil
}

func newOnceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single pass over all tables and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := newDeps(opts.cfg)
			defer d.Close()
			slog.Info("starting single etl pass", describe(opts.cfg)...)

			p, err := d.buildPipeline(cmd.Context())
			if err != nil {
				return err
			}
			return p.RunCycle(cmd.Context())
		},
	}
}
