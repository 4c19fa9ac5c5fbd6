// Package notify announces successfully loaded batches to downstream
// consumers such as cache invalidators.
package notify

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/kafka"
)

// EventType is sent in the event-type header of every notification.
const EventType = "documents_indexed"

// IndexedEvent describes one batch written to the search index.
type IndexedEvent struct {
	Index    string    `json:"index"`
	Table    string    `json:"table"`
	IDs      []string  `json:"ids"`
	Count    int       `json:"count"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Kafka publishes IndexedEvents keyed by index name, so all events of an
// index land on one partition in load order.
type Kafka struct {
	pub Publisher
}

func NewKafka(pub Publisher) *Kafka {
	return &Kafka{pub: pub}
}

func (k *Kafka) Notify(ctx context.Context, event IndexedEvent) error {
	return k.pub.Publish(ctx, kafka.Event{
		Key:     event.Index,
		Value:   event,
		Headers: map[string]string{"event-type": EventType, "table": event.Table},
	})
}
