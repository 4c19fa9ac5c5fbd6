// Package detector finds rows changed since a table's watermark and hands
// them downstream page by page.
//
// A drain reads the watermark once and pages through every row strictly
// newer than it, ordered by (updated_at, id), with a fixed page size and a
// growing offset. After each page the stored watermark moves to the newest
// updated_at seen, either before or after the page is handled.
package detector

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/state"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/resilience"
)

// Source lists changed rows. It is satisfied by *catalog.Postgres.
type Source interface {
	ChangedSince(ctx context.Context, table string, since time.Time, offset, limit int) ([]catalog.ChangeRow, error)
}

// BatchFunc handles one page of changed rows.
type BatchFunc func(ctx context.Context, rows []catalog.ChangeRow) error

// Stats summarizes one drain.
type Stats struct {
	Pages     int
	Rows      int
	Watermark time.Time
}

// Config tunes a Detector.
type Config struct {
	PageSize int
	// CommitAfterLoad stores the page watermark only after the handler
	// succeeded. When false the watermark is stored before the handler runs,
	// so a crash mid-page skips that page on restart.
	CommitAfterLoad bool
}

type Detector struct {
	source  Source
	marks   *state.Watermarks
	retrier *resilience.Retrier
	metrics *metrics.Metrics
	cfg     Config
}

func New(source Source, marks *state.Watermarks, retrier *resilience.Retrier, m *metrics.Metrics, cfg Config) *Detector {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Detector{
		source:  source,
		marks:   marks,
		retrier: retrier,
		metrics: m,
		cfg:     cfg,
	}
}

// Drain delivers every row of table changed since its watermark to handle,
// one page at a time in ascending updated_at order. It stops at the first
// empty page, or at the first handler error, which is returned as is.
func (d *Detector) Drain(ctx context.Context, table string, handle BatchFunc) (Stats, error) {
	if !catalog.IsKnown(table) {
		return Stats{}, apperrors.Wrap("detect", table, apperrors.UnknownTable(table))
	}
	log := logger.FromContext(ctx).With("component", "detector")

	since, err := resilience.Value(ctx, d.retrier, "watermark_load."+table, func(ctx context.Context) (time.Time, error) {
		return d.marks.Load(ctx, table)
	})
	if err != nil {
		return Stats{}, apperrors.Wrap("detect", table, err)
	}
	d.metrics.Watermark.WithLabelValues(table).Set(unixSeconds(since))

	stats := Stats{Watermark: since}
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return stats, apperrors.Wrap("detect", table, err)
		}
		rows, err := resilience.Value(ctx, d.retrier, "detect."+table, func(ctx context.Context) ([]catalog.ChangeRow, error) {
			return d.source.ChangedSince(ctx, table, since, offset, d.cfg.PageSize)
		})
		if err != nil {
			return stats, apperrors.Wrap("detect", table, err)
		}
		if len(rows) == 0 {
			break
		}
		d.metrics.RowsDetected.WithLabelValues(table).Add(float64(len(rows)))
		latest := catalog.MaxUpdatedAt(rows)
		log.Debug("changed rows fetched", "offset", offset, "count", len(rows), "latest", latest)

		if !d.cfg.CommitAfterLoad {
			if err := d.advance(ctx, table, &stats, latest); err != nil {
				return stats, err
			}
		}
		if err := handle(ctx, rows); err != nil {
			return stats, err
		}
		if d.cfg.CommitAfterLoad {
			if err := d.advance(ctx, table, &stats, latest); err != nil {
				return stats, err
			}
		}

		stats.Pages++
		stats.Rows += len(rows)
		offset += len(rows)
	}

	if stats.Rows > 0 {
		log.Info("table drained", "pages", stats.Pages, "rows", stats.Rows, "watermark", state.Format(stats.Watermark))
	}
	return stats, nil
}

// advance stores latest as the watermark if it moves the watermark forward.
func (d *Detector) advance(ctx context.Context, table string, stats *Stats, latest time.Time) error {
	if !latest.After(stats.Watermark) {
		return nil
	}
	err := d.retrier.Do(ctx, "watermark_save."+table, func(ctx context.Context) error {
		return d.marks.Save(ctx, table, latest)
	})
	if err != nil {
		return apperrors.Wrap("detect", table, err)
	}
	stats.Watermark = latest
	d.metrics.Watermark.WithLabelValues(table).Set(unixSeconds(latest))
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
