package clickhouse

import (
	"context"
	"fmt"

	"oracle-monitor/internal/domain"
)

// Read-back queries used to check what the archive wrote.

// getAggregates retrieves aggregate samples for a symbol within [start, end] (inclusive).
func (a *PriceArchive) getAggregates(ctx context.Context, symbol string, start, end int64) ([]*domain.AggregateSample, error) {
	query := `
		SELECT instance_id, symbol, price_account, slot, timestamp_ms, price, confidence, status
		FROM aggregate_prices
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, slot ASC
	`

	rows, err := a.conn.Query(ctx, query, symbol, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var samples []*domain.AggregateSample
	for rows.Next() {
		var s domain.AggregateSample
		var slot, ts uint64
		if err := rows.Scan(&s.InstanceID, &s.Symbol, &s.PriceAccount, &slot, &ts, &s.Price, &s.Confidence, &s.Status); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		s.Slot = int64(slot)
		s.TimestampMs = int64(ts)
		samples = append(samples, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}
	return samples, nil
}

// getPublisherSamples retrieves samples for (symbol, publisher) within [start, end] (inclusive).
func (a *PriceArchive) getPublisherSamples(ctx context.Context, symbol, publisher string, start, end int64) ([]*domain.PublisherSample, error) {
	query := `
		SELECT instance_id, symbol, publisher, slot, timestamp_ms, price, confidence
		FROM publisher_prices
		WHERE symbol = ? AND publisher = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, slot ASC
	`

	rows, err := a.conn.Query(ctx, query, symbol, publisher, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query publisher samples: %w", err)
	}
	defer rows.Close()

	var samples []*domain.PublisherSample
	for rows.Next() {
		var s domain.PublisherSample
		var slot, ts uint64
		if err := rows.Scan(&s.InstanceID, &s.Symbol, &s.Publisher, &slot, &ts, &s.Price, &s.Confidence); err != nil {
			return nil, fmt.Errorf("scan publisher sample row: %w", err)
		}
		s.Slot = int64(slot)
		s.TimestampMs = int64(ts)
		samples = append(samples, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publisher sample rows: %w", err)
	}
	return samples, nil
}
