// Package aggregator turns entity ids into the denormalized documents that
// are written to the search index.
package aggregator

import (
	"context"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/resilience"
)

// Source builds documents for existing ids, in input order, skipping ids
// that no longer exist. It is satisfied by *catalog.Postgres.
type Source interface {
	FilmWorks(ctx context.Context, ids []uuid.UUID) ([]catalog.FilmWorkDocument, error)
	Genres(ctx context.Context, ids []uuid.UUID) ([]catalog.GenreDocument, error)
	Persons(ctx context.Context, ids []uuid.UUID) ([]catalog.PersonDocument, error)
}

type Aggregator struct {
	source  Source
	retrier *resilience.Retrier
}

func New(source Source, retrier *resilience.Retrier) *Aggregator {
	return &Aggregator{source: source, retrier: retrier}
}

// Aggregate returns one document of kind per existing id.
func (a *Aggregator) Aggregate(ctx context.Context, kind string, ids []uuid.UUID) ([]catalog.Document, error) {
	var (
		docs []catalog.Document
		err  error
	)
	switch kind {
	case catalog.FilmWork:
		docs, err = fetch(ctx, a, kind, ids, a.source.FilmWorks)
	case catalog.Genre:
		docs, err = fetch(ctx, a, kind, ids, a.source.Genres)
	case catalog.Person:
		docs, err = fetch(ctx, a, kind, ids, a.source.Persons)
	default:
		err = apperrors.UnknownTable(kind)
	}
	return docs, apperrors.Wrap("aggregate", kind, err)
}

func fetch[T catalog.Document](ctx context.Context, a *Aggregator, kind string, ids []uuid.UUID,
	query func(context.Context, []uuid.UUID) ([]T, error)) ([]catalog.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := resilience.Value(ctx, a.retrier, "aggregate."+kind, func(ctx context.Context) ([]T, error) {
		return query(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	docs := make([]catalog.Document, len(rows))
	for i, row := range rows {
		docs[i] = catalog.Normalize(row)
	}
	return docs, nil
}
