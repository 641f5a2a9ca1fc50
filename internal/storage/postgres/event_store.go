package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const insertEventQuery = `
	INSERT INTO validation_events (
		event_id, instance_id, kind, symbol, publisher, slot, hit_rate,
		aggregate_price, aggregate_confidence, quote_price, quote_confidence, quote_status,
		detected_at_ms
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12,
		$13
	)
`

func eventArgs(e *domain.EventRecord) []any {
	return []any{
		e.EventID, e.InstanceID, string(e.Kind), e.Symbol, e.Publisher, e.Slot, e.HitRate,
		e.AggregatePrice, e.AggregateConfidence, e.QuotePrice, e.QuoteConfidence, e.QuoteStatus,
		e.DetectedAtMs,
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Insert(ctx context.Context, e *domain.EventRecord) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, insertEventQuery, eventArgs(e)...)
	observability.RecordDBQuery("postgres", "insert_event", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert validation event: %w", err)
	}
	return nil
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	err := s.insertBulk(ctx, events)
	observability.RecordDBQuery("postgres", "insert_events", time.Since(start).Seconds(), err)
	return err
}

func (s *EventStore) insertBulk(ctx context.Context, events []*domain.EventRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEventQuery, eventArgs(e)...)
	}

	results := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert validation event in bulk: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
