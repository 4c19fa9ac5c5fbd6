// Package enricher maps changed dependent entities (genres, persons) to the
// film works that embed them and therefore need to be reindexed.
package enricher

import (
	"context"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/resilience"
)

// Source resolves dependent ids to linked film work ids, ordered by the
// film's updated_at then id. It is satisfied by *catalog.Postgres.
type Source interface {
	FilmWorkIDs(ctx context.Context, table string, ids []uuid.UUID, offset, limit int) ([]uuid.UUID, error)
}

// BatchFunc handles one page of film work ids.
type BatchFunc func(ctx context.Context, filmIDs []uuid.UUID) error

type Enricher struct {
	source   Source
	retrier  *resilience.Retrier
	metrics  *metrics.Metrics
	pageSize int
}

func New(source Source, retrier *resilience.Retrier, m *metrics.Metrics, pageSize int) *Enricher {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Enricher{source: source, retrier: retrier, metrics: m, pageSize: pageSize}
}

// Enrich pages through the film works linked to ids in table and hands each
// page of not yet forwarded film ids to handle. Every film id reaches handle
// at most once per call. It returns the number of film ids forwarded.
func (e *Enricher) Enrich(ctx context.Context, table string, ids []uuid.UUID, handle BatchFunc) (int, error) {
	if !catalog.IsDependent(table) {
		return 0, apperrors.Wrap("enrich", table, apperrors.UnknownTable(table))
	}
	if len(ids) == 0 {
		return 0, nil
	}

	seen := make(map[uuid.UUID]struct{})
	forwarded := 0
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return forwarded, apperrors.Wrap("enrich", table, err)
		}
		page, err := resilience.Value(ctx, e.retrier, "enrich."+table, func(ctx context.Context) ([]uuid.UUID, error) {
			return e.source.FilmWorkIDs(ctx, table, ids, offset, e.pageSize)
		})
		if err != nil {
			return forwarded, apperrors.Wrap("enrich", table, err)
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		fresh := make([]uuid.UUID, 0, len(page))
		for _, id := range page {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			fresh = append(fresh, id)
		}
		if len(fresh) == 0 {
			continue
		}
		if err := handle(ctx, fresh); err != nil {
			return forwarded, err
		}
		forwarded += len(fresh)
		e.metrics.RootsEnriched.WithLabelValues(table).Add(float64(len(fresh)))
	}

	logger.FromContext(ctx).Debug("film works resolved",
		"component", "enricher",
		"dependents", len(ids),
		"films", forwarded,
	)
	return forwarded, nil
}
