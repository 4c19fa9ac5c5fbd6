package elastic

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/elastic/elastictest"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
)

func newTestClient(t *testing.T) (*Client, *elastictest.Server) {
	t.Helper()
	srv := elastictest.NewServer(t)
	c, err := New(config.ElasticConfig{URL: srv.URL})
	require.NoError(t, err)
	return c, srv
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestEnsureIndex(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	created, err := c.EnsureIndex(ctx, "movies", `{"settings":{"number_of_shards":1}}`)
	require.NoError(t, err)
	assert.True(t, created)
	body, ok := srv.Mapping("movies")
	require.True(t, ok)
	assert.JSONEq(t, `{"settings":{"number_of_shards":1}}`, body)

	created, err = c.EnsureIndex(ctx, "movies", `{}`)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, srv.Creates())
}

func TestCreateIndexAlreadyExistsIsSuccess(t *testing.T) {
	c, srv := newTestClient(t)
	srv.RaceCreate()

	created, err := c.EnsureIndex(context.Background(), "genres", `{}`)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, srv.Creates())
}

func TestCreateIndexUnacknowledged(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Unacknowledged()

	err := c.CreateIndex(context.Background(), "persons", `{}`)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotAcknowledged)
}

func TestBulkIndex(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	items := []Item{
		{ID: "a", Doc: map[string]any{"id": "a", "title": "Alpha"}},
		{ID: "b", Doc: map[string]any{"id": "b", "title": "Beta"}},
	}
	require.NoError(t, c.BulkIndex(ctx, "movies", items))
	require.NoError(t, c.BulkIndex(ctx, "movies", items))

	bulks := srv.Bulks()
	require.Len(t, bulks, 2)
	require.Len(t, bulks[0].Actions, 2)
	assert.Equal(t, "index", bulks[0].Actions[0].Op)
	assert.Equal(t, "a", bulks[0].Actions[0].ID)
	assert.Equal(t, "movies", bulks[0].Actions[0].Index)
	assert.Equal(t, 2, srv.Count("movies"), "repeated upserts keep one document per id")

	raw, ok := srv.Doc("movies", "b")
	require.True(t, ok)
	var doc map[string]string
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "Beta", doc["title"])
}

func TestBulkIndexEmptyIsNoop(t *testing.T) {
	c, srv := newTestClient(t)
	require.NoError(t, c.BulkIndex(context.Background(), "movies", nil))
	assert.Empty(t, srv.Bulks())
}

func TestBulkIndexItemFailure(t *testing.T) {
	c, srv := newTestClient(t)
	srv.RejectID("b")

	err := c.BulkIndex(context.Background(), "movies", []Item{
		{ID: "a", Doc: map[string]string{"id": "a"}},
		{ID: "b", Doc: map[string]string{"id": "b"}},
	})
	require.ErrorIs(t, err, apperrors.ErrBulkRejected)
	assert.Contains(t, err.Error(), "1 of 2 items failed")
	assert.Contains(t, err.Error(), "strict_dynamic_mapping_exception")
	assert.False(t, apperrors.IsPermanent(err))
}

func TestBulkIndexUnavailable(t *testing.T) {
	c, srv := newTestClient(t)
	srv.FailBulk(1)

	err := c.BulkIndex(context.Background(), "movies", []Item{{ID: "a", Doc: map[string]string{}}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrBulkRejected)

	require.NoError(t, c.BulkIndex(context.Background(), "movies", []Item{{ID: "a", Doc: map[string]string{}}}))
}
