package detector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog/catalogtest"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/state"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/resilience"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	catalog  *catalogtest.Catalog
	store    *state.Memory
	marks    *state.Watermarks
	metrics  *metrics.Metrics
	detector *Detector
	retries  int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		catalog: catalogtest.New(),
		store:   state.NewMemory(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.marks = state.NewWatermarks(f.store)
	retrier := resilience.NewRetrier(resilience.Backoff{},
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }),
		resilience.WithObserver(func(string, int, time.Duration, error) { f.retries++ }),
	)
	f.detector = New(f.catalog, f.marks, retrier, f.metrics, cfg)
	return f
}

func (f *fixture) addGenres(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = f.catalog.AddGenre(fmt.Sprintf("genre-%02d", i), base.Add(time.Duration(i+1)*time.Second))
	}
	return ids
}

func collect(pages *[][]catalog.ChangeRow) BatchFunc {
	return func(_ context.Context, rows []catalog.ChangeRow) error {
		*pages = append(*pages, append([]catalog.ChangeRow(nil), rows...))
		return nil
	}
}

func TestDrainThreeRows(t *testing.T) {
	f := newFixture(t, Config{PageSize: 100, CommitAfterLoad: true})
	ids := f.addGenres(3)

	var pages [][]catalog.ChangeRow
	stats, err := f.detector.Drain(context.Background(), catalog.Genre, collect(&pages))
	require.NoError(t, err)

	require.Len(t, pages, 1)
	assert.Equal(t, ids, catalog.IDs(pages[0]))
	assert.Equal(t, Stats{Pages: 1, Rows: 3, Watermark: base.Add(3 * time.Second)}, stats)

	stored, err := f.marks.Load(context.Background(), catalog.Genre)
	require.NoError(t, err)
	assert.Equal(t, base.Add(3*time.Second), stored)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.RowsDetected.WithLabelValues(catalog.Genre)))
}

func TestDrainPaginationIsComplete(t *testing.T) {
	for _, commitAfterLoad := range []bool{true, false} {
		t.Run(fmt.Sprintf("commitAfterLoad=%v", commitAfterLoad), func(t *testing.T) {
			f := newFixture(t, Config{PageSize: 10, CommitAfterLoad: commitAfterLoad})
			ids := f.addGenres(25)

			var pages [][]catalog.ChangeRow
			stats, err := f.detector.Drain(context.Background(), catalog.Genre, collect(&pages))
			require.NoError(t, err)

			require.Len(t, pages, 3)
			assert.Len(t, pages[0], 10)
			assert.Len(t, pages[1], 10)
			assert.Len(t, pages[2], 5)

			var seen []uuid.UUID
			for _, p := range pages {
				seen = append(seen, catalog.IDs(p)...)
			}
			assert.Equal(t, ids, seen)
			assert.Equal(t, 25, stats.Rows)
			assert.Equal(t, base.Add(25*time.Second), stats.Watermark)
			assert.Equal(t, 4, f.catalog.Calls(catalogtest.OpChangedSince), "three pages plus the empty one")
		})
	}
}

func TestDrainWithoutChanges(t *testing.T) {
	f := newFixture(t, Config{PageSize: 10, CommitAfterLoad: true})

	called := false
	stats, err := f.detector.Drain(context.Background(), catalog.Person, func(context.Context, []catalog.ChangeRow) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, state.Epoch, stats.Watermark)

	v, found, err := f.store.Get(context.Background(), state.Key(catalog.Person))
	require.NoError(t, err)
	assert.True(t, found, "the sentinel watermark is persisted on first use")
	assert.Equal(t, "1900-01-01T00:00:00.000000", v)
}

func TestSecondDrainSeesOnlyNewChanges(t *testing.T) {
	f := newFixture(t, Config{PageSize: 10, CommitAfterLoad: true})
	f.addGenres(3)

	_, err := f.detector.Drain(context.Background(), catalog.Genre, collect(new([][]catalog.ChangeRow)))
	require.NoError(t, err)

	var pages [][]catalog.ChangeRow
	stats, err := f.detector.Drain(context.Background(), catalog.Genre, collect(&pages))
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Zero(t, stats.Rows)

	late := f.catalog.AddGenre("late", base.Add(time.Hour))
	_, err = f.detector.Drain(context.Background(), catalog.Genre, collect(&pages))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, []uuid.UUID{late}, catalog.IDs(pages[0]))
}

func TestDrainCommitOrder(t *testing.T) {
	tests := []struct {
		name            string
		commitAfterLoad bool
		wantWatermark   time.Time
	}{
		{name: "after load keeps watermark on failure", commitAfterLoad: true, wantWatermark: state.Epoch},
		{name: "before load advances watermark first", commitAfterLoad: false, wantWatermark: base.Add(2 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{PageSize: 10, CommitAfterLoad: tt.commitAfterLoad})
			f.addGenres(2)

			failure := fmt.Errorf("loading: %w", apperrors.ErrInvalidInput)
			_, err := f.detector.Drain(context.Background(), catalog.Genre, func(context.Context, []catalog.ChangeRow) error {
				return failure
			})
			require.ErrorIs(t, err, failure)

			got, err := f.marks.Load(context.Background(), catalog.Genre)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWatermark, got)
		})
	}
}

func TestDrainRetriesSourceFailures(t *testing.T) {
	f := newFixture(t, Config{PageSize: 10, CommitAfterLoad: true})
	f.addGenres(3)
	f.catalog.FailNext(catalogtest.OpChangedSince, errors.New("connection reset"), errors.New("connection reset"))

	var pages [][]catalog.ChangeRow
	stats, err := f.detector.Drain(context.Background(), catalog.Genre, collect(&pages))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 2, f.retries)
	assert.Len(t, pages, 1)
}

func TestDrainUnknownTable(t *testing.T) {
	f := newFixture(t, Config{PageSize: 10})
	_, err := f.detector.Drain(context.Background(), "tag", collect(new([][]catalog.ChangeRow)))
	require.ErrorIs(t, err, apperrors.ErrUnknownTable)
	assert.Equal(t, "detect", apperrors.StageOf(err))
	assert.Zero(t, f.catalog.Calls(catalogtest.OpChangedSince))
	assert.Zero(t, f.store.Sets())
}

func TestDrainCorruptWatermark(t *testing.T) {
	f := newFixture(t, Config{PageSize: 10})
	require.NoError(t, f.store.Set(context.Background(), state.Key(catalog.Genre), "not-a-time"))

	_, err := f.detector.Drain(context.Background(), catalog.Genre, collect(new([][]catalog.ChangeRow)))
	require.ErrorIs(t, err, apperrors.ErrStateCorrupt)
	assert.Zero(t, f.retries)
}

func TestDrainHonorsCancellation(t *testing.T) {
	f := newFixture(t, Config{PageSize: 1, CommitAfterLoad: true})
	f.addGenres(5)
	ctx, cancel := context.WithCancel(context.Background())

	pages := 0
	_, err := f.detector.Drain(ctx, catalog.Genre, func(context.Context, []catalog.ChangeRow) error {
		pages++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, pages)
}

// Paging keeps offsets against the watermark read at the start of the drain
// and filters with a strict >, so rows tied with the stored watermark that
// arrive after a drain are not picked up by the next one.
func TestDrainTieAtBoundaryPolicy(t *testing.T) {
	f := newFixture(t, Config{PageSize: 2, CommitAfterLoad: true})
	t1, t5 := base.Add(time.Second), base.Add(5*time.Second)
	first := f.catalog.AddGenre("first", t1)
	tieA := f.catalog.AddGenre("tie-a", t5)
	tieB := f.catalog.AddGenre("tie-b", t5)

	var pages [][]catalog.ChangeRow
	stats, err := f.detector.Drain(context.Background(), catalog.Genre, collect(&pages))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Len(t, pages[0], 2)
	assert.Len(t, pages[1], 1)
	assert.Equal(t, first, pages[0][0].ID)
	var seen []uuid.UUID
	for _, p := range pages {
		seen = append(seen, catalog.IDs(p)...)
	}
	assert.ElementsMatch(t, []uuid.UUID{first, tieA, tieB}, seen)
	assert.Equal(t, Stats{Pages: 2, Rows: 3, Watermark: t5}, stats)

	f.catalog.AddGenre("late-tie", t5)
	pages = nil
	stats, err = f.detector.Drain(context.Background(), catalog.Genre, collect(&pages))
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Equal(t, 0, stats.Rows)

	stored, err := f.marks.Load(context.Background(), catalog.Genre)
	require.NoError(t, err)
	assert.Equal(t, t5, stored)
}
