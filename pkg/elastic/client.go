// Package elastic wraps olivere/elastic with the few index operations the
// loader needs: existence checks, idempotent index creation and bulk upserts.
package elastic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	olivere "github.com/olivere/elastic/v7"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
)

// Item is one document of a bulk request.
type Item struct {
	ID  string
	Doc any
}

// Client talks to a single Elasticsearch endpoint.
type Client struct {
	es     *olivere.Client
	url    string
	logger *slog.Logger
}

// New builds a client for cfg.URL. Sniffing and background health checks are
// off; the cluster is reached through a single address, often a proxy.
func New(cfg config.ElasticConfig, opts ...olivere.ClientOptionFunc) (*Client, error) {
	options := []olivere.ClientOptionFunc{
		olivere.SetURL(cfg.URL),
		olivere.SetSniff(false),
		olivere.SetHealthcheck(false),
	}
	if cfg.Username != "" {
		options = append(options, olivere.SetBasicAuth(cfg.Username, cfg.Password))
	}
	options = append(options, opts...)

	es, err := olivere.NewClient(options...)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{
		es:     es,
		url:    cfg.URL,
		logger: slog.Default().With("component", "elastic"),
	}, nil
}

// Ping checks that the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	_, code, err := c.es.Ping(c.url).Do(ctx)
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	if code >= 300 {
		return fmt.Errorf("elasticsearch ping: status %d", code)
	}
	return nil
}

// IndexExists reports whether index is present.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	exists, err := c.es.IndexExists(index).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("checking index %s: %w", index, err)
	}
	return exists, nil
}

// CreateIndex creates index with the given settings and mappings body. An
// index that already exists counts as created, so concurrent writers can race
// on the same name.
func (c *Client) CreateIndex(ctx context.Context, index, body string) error {
	res, err := c.es.CreateIndex(index).BodyString(body).Do(ctx)
	if isAlreadyExists(err) {
		c.logger.Info("index already exists", "index", index)
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating index %s: %w", index, err)
	}
	if !res.Acknowledged {
		return fmt.Errorf("creating index %s: %w", index, apperrors.ErrIndexNotAcknowledged)
	}
	c.logger.Info("index created", "index", index)
	return nil
}

// EnsureIndex creates index unless it exists. created reports whether this
// call created it.
func (c *Client) EnsureIndex(ctx context.Context, index, body string) (created bool, err error) {
	exists, err := c.IndexExists(ctx, index)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := c.CreateIndex(ctx, index, body); err != nil {
		return false, err
	}
	return true, nil
}

// BulkIndex writes items into index with one _bulk request of index actions
// keyed by Item.ID. Any per-item failure fails the whole call with
// ErrBulkRejected; items that did succeed are simply overwritten on retry.
func (c *Client) BulkIndex(ctx context.Context, index string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	bulk := c.es.Bulk().Index(index)
	for _, item := range items {
		bulk.Add(olivere.NewBulkIndexRequest().Id(item.ID).Doc(item.Doc))
	}
	res, err := bulk.Do(ctx)
	if err != nil {
		return fmt.Errorf("bulk indexing into %s: %w", index, err)
	}
	if !res.Errors {
		return nil
	}
	failed := res.Failed()
	if len(failed) == 0 {
		return fmt.Errorf("bulk indexing into %s: %w", index, apperrors.ErrBulkRejected)
	}
	reason := fmt.Sprintf("status %d", failed[0].Status)
	if failed[0].Error != nil {
		reason = failed[0].Error.Type + ": " + failed[0].Error.Reason
	}
	return fmt.Errorf("bulk indexing into %s: %w: %d of %d items failed, first %s (%s)",
		index, apperrors.ErrBulkRejected, len(failed), len(items), failed[0].Id, reason)
}

func isAlreadyExists(err error) bool {
	var e *olivere.Error
	if !errors.As(err, &e) || e.Details == nil {
		return false
	}
	return e.Details.Type == "resource_already_exists_exception" ||
		e.Details.Type == "index_already_exists_exception"
}
