package clickhouse

import (
	"context"
	"fmt"
	"time"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/storage"
)

// PriceArchive implements storage.PriceArchive using ClickHouse.
type PriceArchive struct {
	conn *Conn
}

// NewPriceArchive creates a new PriceArchive.
func NewPriceArchive(conn *Conn) *PriceArchive {
	return &PriceArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceArchive = (*PriceArchive)(nil)

// InsertAggregates appends aggregate samples in one batch.
func (a *PriceArchive) InsertAggregates(ctx context.Context, samples []*domain.AggregateSample) error {
	if len(samples) == 0 {
		return nil
	}

	start := time.Now()
	err := a.insertAggregates(ctx, samples)
	observability.RecordDBQuery("clickhouse", "insert_aggregates", time.Since(start).Seconds(), err)
	return err
}

func (a *PriceArchive) insertAggregates(ctx context.Context, samples []*domain.AggregateSample) error {
	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO aggregate_prices (
			instance_id, symbol, price_account, slot, timestamp_ms, price, confidence, status
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, s := range samples {
		err = batch.Append(
			s.InstanceID, s.Symbol, s.PriceAccount, uint64(s.Slot), uint64(s.TimestampMs),
			s.Price, s.Confidence, s.Status,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InsertPublisherSamples appends publisher samples in one batch.
func (a *PriceArchive) InsertPublisherSamples(ctx context.Context, samples []*domain.PublisherSample) error {
	if len(samples) == 0 {
		return nil
	}

	start := time.Now()
	err := a.insertPublisherSamples(ctx, samples)
	observability.RecordDBQuery("clickhouse", "insert_publisher_samples", time.Since(start).Seconds(), err)
	return err
}

func (a *PriceArchive) insertPublisherSamples(ctx context.Context, samples []*domain.PublisherSample) error {
	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO publisher_prices (
			instance_id, symbol, publisher, slot, timestamp_ms, price, confidence
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, s := range samples {
		err = batch.Append(
			s.InstanceID, s.Symbol, s.Publisher, uint64(s.Slot), uint64(s.TimestampMs),
			s.Price, s.Confidence,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
