package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "index.complete")

	err := p.Publish(context.Background(), Event{
		Key:   "movies",
		Value: map[string]any{"count": 3},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "movies", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"count":3}`, string(w.msgs[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishSortsHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "index.complete")

	err := p.Publish(context.Background(), Event{
		Key:     "movies",
		Value:   1,
		Headers: map[string]string{"source": "etl", "event-type": "documents_indexed"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []kafka.Header{
		{Key: "event-type", Value: []byte("documents_indexed")},
		{Key: "source", Value: []byte("etl")},
	}, w.msgs[0].Headers)
}

func TestPublishWrapsWriterError(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{err: errors.New("leader not available")}, "t")
	err := p.Publish(context.Background(), Event{Key: "k", Value: 1})
	assert.ErrorContains(t, err, "publishing to kafka")
}

func TestPublishRejectsUnencodableValue(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{}, "t")
	err := p.Publish(context.Background(), Event{Key: "k", Value: make(chan int)})
	assert.ErrorContains(t, err, "marshaling event value")
}
