// Package pipeline drives the incremental sync from the movies catalog into
// the search index. Each table is drained in turn: changed film works are
// aggregated and loaded directly, while changed genres and persons are first
// mapped to the film works that embed them and then loaded into their own
// index as well.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/aggregator"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/detector"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/enricher"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/loader"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/resilience"
)

// Config selects the tables to sync and their target indices.
type Config struct {
	Tables     []string
	Indices    map[string]string
	FetchDelay time.Duration
}

// Stages bundles the pipeline stages.
type Stages struct {
	Detector   *detector.Detector
	Enricher   *enricher.Enricher
	Aggregator *aggregator.Aggregator
	Loader     *loader.Loader
}

// Pipeline runs the stages table by table on a single goroutine.
type Pipeline struct {
	stages    Stages
	metrics   *metrics.Metrics
	cfg       Config
	sleep     resilience.SleepFunc
	lastCycle atomic.Int64
	logger    *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSleep replaces the wait between tables and cycles.
func WithSleep(fn resilience.SleepFunc) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

func New(stages Stages, m *metrics.Metrics, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:  stages,
		metrics: m,
		cfg:     cfg,
		sleep:   resilience.Sleep,
		logger:  logger.WithComponent("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Index returns the index documents of kind are written to.
func (p *Pipeline) Index(kind string) string {
	if name, ok := p.cfg.Indices[kind]; ok && name != "" {
		return name
	}
	return kind
}

// LastCycle returns when the last full cycle finished, or the zero time.
func (p *Pipeline) LastCycle() time.Time {
	ns := p.lastCycle.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run repeats RunCycle, pausing FetchDelay between cycles, until ctx is
// cancelled. Cancellation is a clean stop and returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "tables", p.cfg.Tables, "fetch_delay", p.cfg.FetchDelay)
	for {
		if err := p.RunCycle(ctx); err != nil {
			break
		}
		if err := p.sleep(ctx, p.cfg.FetchDelay); err != nil {
			break
		}
	}
	p.logger.Info("pipeline stopped")
	return nil
}

// RunCycle syncs every configured table once, pausing FetchDelay between
// tables. A table that fails with a non-retryable error is logged and
// skipped; the next table still runs. The only error returned is the
// context's.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	for i, table := range p.cfg.Tables {
		if i > 0 {
			if err := p.sleep(ctx, p.cfg.FetchDelay); err != nil {
				return err
			}
		}
		if _, err := p.Sync(ctx, table); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("table sync abandoned for this cycle",
				"table", table,
				"stage", apperrors.StageOf(err),
				"error", err,
			)
		}
	}
	p.metrics.Cycles.Inc()
	p.lastCycle.Store(time.Now().UnixNano())
	return nil
}

// Sync drains all pending changes of one table into the index.
func (p *Pipeline) Sync(ctx context.Context, table string) (detector.Stats, error) {
	ctx = logger.WithTable(ctx, table)
	start := time.Now()
	stats, err := p.stages.Detector.Drain(ctx, table, func(ctx context.Context, rows []catalog.ChangeRow) error {
		return p.handle(ctx, table, catalog.IDs(rows))
	})
	if !errors.Is(err, apperrors.ErrUnknownTable) {
		p.metrics.DrainDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	}
	return stats, err
}

// EnsureIndices creates the index of every configured table that is missing.
func (p *Pipeline) EnsureIndices(ctx context.Context) error {
	for _, table := range p.cfg.Tables {
		if err := p.stages.Loader.EnsureIndex(ctx, table, p.Index(table)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) handle(ctx context.Context, table string, ids []uuid.UUID) error {
	if catalog.IsDependent(table) {
		_, err := p.stages.Enricher.Enrich(ctx, table, ids, func(ctx context.Context, filmIDs []uuid.UUID) error {
			return p.loadKind(ctx, catalog.FilmWork, filmIDs)
		})
		if err != nil {
			return err
		}
	}
	return p.loadKind(ctx, table, ids)
}

func (p *Pipeline) loadKind(ctx context.Context, kind string, ids []uuid.UUID) error {
	docs, err := p.stages.Aggregator.Aggregate(ctx, kind, ids)
	if err != nil {
		return err
	}
	return p.stages.Loader.Load(ctx, kind, p.Index(kind), docs)
}
