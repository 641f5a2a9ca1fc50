package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/storage"
)

// Read-back queries used to check what the store wrote.

const selectEventColumns = `
	SELECT
		event_id, instance_id, kind, symbol, publisher, slot, hit_rate,
		aggregate_price, aggregate_confidence, quote_price, quote_confidence, quote_status,
		detected_at_ms
	FROM validation_events
`

// getByID retrieves an event by its ID. Returns ErrNotFound if not exists.
func (s *EventStore) getByID(ctx context.Context, eventID string) (*domain.EventRecord, error) {
	row := s.pool.QueryRow(ctx, selectEventColumns+` WHERE event_id = $1`, eventID)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get validation event by id: %w", err)
	}
	return e, nil
}

// getBySymbol retrieves events for a symbol within [start, end] (inclusive).
func (s *EventStore) getBySymbol(ctx context.Context, symbol string, start, end int64) ([]*domain.EventRecord, error) {
	query := selectEventColumns + `
		WHERE symbol = $1 AND detected_at_ms >= $2 AND detected_at_ms <= $3
		ORDER BY detected_at_ms ASC, event_id ASC
	`
	rows, err := s.pool.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query validation events by symbol: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// getByPublisher retrieves events for a publisher within [start, end] (inclusive).
func (s *EventStore) getByPublisher(ctx context.Context, publisher string, start, end int64) ([]*domain.EventRecord, error) {
	query := selectEventColumns + `
		WHERE publisher = $1 AND detected_at_ms >= $2 AND detected_at_ms <= $3
		ORDER BY detected_at_ms ASC, event_id ASC
	`
	rows, err := s.pool.Query(ctx, query, publisher, start, end)
	if err != nil {
		return nil, fmt.Errorf("query validation events by publisher: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvent(row pgx.Row) (*domain.EventRecord, error) {
	var e domain.EventRecord
	var kind string
	err := row.Scan(
		&e.EventID, &e.InstanceID, &kind, &e.Symbol, &e.Publisher, &e.Slot, &e.HitRate,
		&e.AggregatePrice, &e.AggregateConfidence, &e.QuotePrice, &e.QuoteConfidence, &e.QuoteStatus,
		&e.DetectedAtMs,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = domain.EventKind(kind)
	return &e, nil
}

func scanEvents(rows pgx.Rows) ([]*domain.EventRecord, error) {
	var events []*domain.EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validation event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validation event rows: %w", err)
	}
	return events, nil
}
