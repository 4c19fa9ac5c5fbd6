// Package loader writes aggregated documents into Elasticsearch. Every load
// makes sure the target index exists with its fixed mapping, then upserts
// the batch with one bulk request of index actions keyed by document id, so
// repeating a load converges to the same index contents.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/notify"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/elastic"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/resilience"
)

// Indexer is the part of the search client the loader drives. It is
// satisfied by *elastic.Client.
type Indexer interface {
	EnsureIndex(ctx context.Context, index, body string) (bool, error)
	BulkIndex(ctx context.Context, index string, items []elastic.Item) error
}

// Notifier is told about every batch that reached the index.
type Notifier interface {
	Notify(ctx context.Context, event notify.IndexedEvent) error
}

// Loader upserts document batches.
type Loader struct {
	indexer  Indexer
	retrier  *resilience.Retrier
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	notifier Notifier
	now      func() time.Time
}

// Option customizes a Loader.
type Option func(*Loader)

// WithRateLimit caps bulk requests per second. Zero or less means unlimited.
func WithRateLimit(perSecond float64) Option {
	return func(l *Loader) {
		if perSecond > 0 {
			l.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithNotifier publishes an IndexedEvent after each successful bulk write.
func WithNotifier(n Notifier) Option {
	return func(l *Loader) { l.notifier = n }
}

func New(indexer Indexer, retrier *resilience.Retrier, m *metrics.Metrics, opts ...Option) *Loader {
	l := &Loader{
		indexer: indexer,
		retrier: retrier,
		metrics: m,
		limiter: rate.NewLimiter(rate.Inf, 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureIndex creates index with the mapping for kind unless it exists.
func (l *Loader) EnsureIndex(ctx context.Context, kind, index string) error {
	body, err := IndexBody(kind)
	if err != nil {
		return apperrors.Wrap("load", kind, err)
	}
	log := logger.FromContext(ctx).With("component", "loader", "index", index)
	err = l.retrier.Do(ctx, "ensure_index."+index, func(ctx context.Context) error {
		created, err := l.indexer.EnsureIndex(ctx, index, body)
		if created {
			log.Info("index created with mapping", "kind", kind)
		}
		return err
	})
	return apperrors.Wrap("load", kind, err)
}

// Load writes docs of kind into index. An empty batch only ensures the
// index. The call returns once the whole batch is acknowledged, after
// retrying transient failures for as long as ctx allows.
func (l *Loader) Load(ctx context.Context, kind, index string, docs []catalog.Document) error {
	if err := l.EnsureIndex(ctx, kind, index); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	items := make([]elastic.Item, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		id := doc.DocumentID()
		if id == "" || id == uuid.Nil.String() {
			return apperrors.Wrap("load", kind, fmt.Errorf("%w: document %d has no id", apperrors.ErrInvalidInput, i))
		}
		items[i] = elastic.Item{ID: id, Doc: catalog.Normalize(doc)}
		ids[i] = id
	}

	err := l.retrier.Do(ctx, "bulk."+index, func(ctx context.Context) error {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
		err := l.indexer.BulkIndex(ctx, index, items)
		status := "ok"
		if err != nil {
			status = "error"
		}
		l.metrics.BulkRequests.WithLabelValues(index, status).Inc()
		return err
	})
	if err != nil {
		return apperrors.Wrap("load", kind, err)
	}
	l.metrics.DocumentsLoaded.WithLabelValues(index).Add(float64(len(items)))

	log := logger.FromContext(ctx).With("component", "loader", "index", index)
	log.Info("batch loaded", "count", len(items))

	if l.notifier != nil {
		table := logger.Table(ctx)
		if table == "" {
			table = kind
		}
		event := notify.IndexedEvent{
			Index:    index,
			Table:    table,
			IDs:      ids,
			Count:    len(ids),
			LoadedAt: l.now().UTC(),
		}
		if err := l.notifier.Notify(ctx, event); err != nil {
			log.Warn("load notification failed", "error", err)
		}
	}
	return nil
}
