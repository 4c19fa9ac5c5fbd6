package state

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
)

// TimeLayout is the stored watermark format: UTC, microsecond precision,
// no zone suffix.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Epoch is the watermark of a table that has never been drained. Every row
// in the catalog is newer than it.
var Epoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Key returns the state key holding table's watermark.
func Key(table string) string {
	return "last_" + table + "_crawl_time"
}

// Format encodes t as a stored watermark.
func Format(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Parse decodes a stored watermark. RFC 3339 values are accepted as well.
func Parse(value string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, value, time.UTC)
	if err == nil {
		return t, nil
	}
	if t, rfcErr := time.Parse(time.RFC3339Nano, value); rfcErr == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: watermark %q: %v", apperrors.ErrStateCorrupt, value, err)
}

// Watermarks reads and writes per-table watermarks in a Store.
type Watermarks struct {
	store Store
}

func NewWatermarks(store Store) *Watermarks {
	return &Watermarks{store: store}
}

// Load returns table's watermark. A table with no stored watermark gets
// Epoch, which is persisted before returning.
func (w *Watermarks) Load(ctx context.Context, table string) (time.Time, error) {
	value, found, err := w.store.Get(ctx, Key(table))
	if err != nil {
		return time.Time{}, fmt.Errorf("loading watermark for %s: %w", table, err)
	}
	if !found || value == "" {
		if err := w.Save(ctx, table, Epoch); err != nil {
			return time.Time{}, err
		}
		return Epoch, nil
	}
	return Parse(value)
}

// Save stores t as table's watermark. Callers keep watermarks monotonic;
// Save itself overwrites unconditionally.
func (w *Watermarks) Save(ctx context.Context, table string, t time.Time) error {
	if err := w.store.Set(ctx, Key(table), Format(t)); err != nil {
		return fmt.Errorf("saving watermark for %s: %w", table, err)
	}
	return nil
}

// Reset rewinds table to Epoch so the next drain reprocesses every row.
func (w *Watermarks) Reset(ctx context.Context, table string) error {
	return w.Save(ctx, table, Epoch)
}
