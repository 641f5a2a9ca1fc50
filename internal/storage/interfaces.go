// Package storage defines the event store and price archive contracts shared by
// the memory, postgres and clickhouse backends.
package storage

import (
	"context"

	"oracle-monitor/internal/domain"
)

// EventStore persists validation events.
type EventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
	Insert(ctx context.Context, e *domain.EventRecord) error

	// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, events []*domain.EventRecord) error
}

// PriceArchive appends aggregate and publisher price samples.
// Samples are append-only; the archive does not deduplicate.
type PriceArchive interface {
	// InsertAggregates appends aggregate samples.
	InsertAggregates(ctx context.Context, samples []*domain.AggregateSample) error

	// InsertPublisherSamples appends publisher samples.
	InsertPublisherSamples(ctx context.Context, samples []*domain.PublisherSample) error
}
