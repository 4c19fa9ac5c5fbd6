package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/aggregator"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/detector"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/enricher"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/loader"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/notify"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/state"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/elastic"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/resilience"
)

// deps owns the connections opened for one command and closes them in
// reverse order.
type deps struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	retrier  *resilience.Retrier
	checker  *health.Checker
	closers  []func() error
}

func newDeps(cfg *config.Config) *deps {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	retrier := resilience.NewRetrier(
		resilience.Backoff{
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
		},
		resilience.WithAttemptTimeout(cfg.Retry.AttemptTimeout),
		resilience.WithObserver(m.ObserveRetry),
	)
	return &deps{
		cfg:      cfg,
		registry: registry,
		metrics:  m,
		retrier:  retrier,
		checker:  health.NewChecker(),
	}
}

func (d *deps) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

func (d *deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func (d *deps) openState() (state.Backend, error) {
	store, err := state.Open(d.cfg)
	if err != nil {
		return nil, err
	}
	d.onClose(store.Close)
	d.checker.Register("state", health.Ping(func(ctx context.Context) error {
		_, _, err := store.Get(ctx, state.Key(catalog.FilmWork))
		return err
	}))
	return store, nil
}

func (d *deps) openElastic() (*elastic.Client, error) {
	client, err := elastic.New(d.cfg.Elastic)
	if err != nil {
		return nil, err
	}
	d.checker.Register("elasticsearch", health.Ping(client.Ping))
	return client, nil
}

// connectPostgres waits for the database, retrying with the configured backoff.
func (d *deps) connectPostgres(ctx context.Context) (*postgres.Client, error) {
	client, err := resilience.Value(ctx, d.retrier, "postgres_connect", func(ctx context.Context) (*postgres.Client, error) {
		return postgres.New(ctx, d.cfg.Postgres)
	})
	if err != nil {
		return nil, err
	}
	d.onClose(client.Close)
	d.checker.Register("postgres", health.Ping(client.Ping))
	return client, nil
}

func (d *deps) newLoader(es *elastic.Client) *loader.Loader {
	opts := []loader.Option{loader.WithRateLimit(d.cfg.Elastic.BulkRatePerSecond)}
	if d.cfg.Kafka.Enabled {
		producer := kafka.NewProducer(d.cfg.Kafka.Brokers, d.cfg.Kafka.Topics.IndexComplete)
		d.onClose(producer.Close)
		opts = append(opts, loader.WithNotifier(notify.NewKafka(producer)))
		slog.Info("load notifications enabled", "topic", d.cfg.Kafka.Topics.IndexComplete)
	}
	return loader.New(es, d.retrier, d.metrics, opts...)
}

// buildPipeline connects every dependency and assembles the stages.
func (d *deps) buildPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	store, err := d.openState()
	if err != nil {
		return nil, err
	}
	es, err := d.openElastic()
	if err != nil {
		return nil, err
	}
	pg, err := d.connectPostgres(ctx)
	if err != nil {
		return nil, err
	}
	source := catalog.NewPostgres(pg.DB, pg.Schema)
	etl := d.cfg.ETL

	p := pipeline.New(
		pipeline.Stages{
			Detector: detector.New(source, state.NewWatermarks(store), d.retrier, d.metrics, detector.Config{
				PageSize:        etl.PageSize,
				CommitAfterLoad: etl.CommitAfterLoad,
			}),
			Enricher:   enricher.New(source, d.retrier, d.metrics, etl.PageSize),
			Aggregator: aggregator.New(source, d.retrier),
			Loader:     d.newLoader(es),
		},
		d.metrics,
		pipeline.Config{
			Tables:     etl.Tables,
			Indices:    etl.Indices,
			FetchDelay: etl.FetchDelay,
		},
	)
	d.checker.Register("pipeline", health.Freshness(p.LastCycle, staleAfter(etl)))
	return p, nil
}

// staleAfter is how long the pipeline may go without finishing a cycle
// before readiness reports it degraded.
func staleAfter(etl config.ETLConfig) time.Duration {
	expected := time.Duration(len(etl.Tables)+1) * etl.FetchDelay
	if limit := 10 * expected; limit > 5*time.Minute {
		return limit
	}
	return 5 * time.Minute
}

func describe(cfg *config.Config) []any {
	return []any{
		"tables", cfg.ETL.Tables,
		"page_size", cfg.ETL.PageSize,
		"state_backend", cfg.State.Backend,
		"elastic", cfg.Elastic.URL,
		"postgres", fmt.Sprintf("%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database),
	}
}
