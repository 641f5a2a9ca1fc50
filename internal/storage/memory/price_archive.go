package memory

import (
	"context"
	"sort"
	"sync"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/storage"
)

// PriceArchive is an in-memory implementation of storage.PriceArchive.
// Like the ClickHouse tables it is append-only and keeps duplicates.
type PriceArchive struct {
	mu         sync.RWMutex
	aggregates []domain.AggregateSample
	publishers []domain.PublisherSample
}

// NewPriceArchive creates a new in-memory price archive.
func NewPriceArchive() *PriceArchive {
	return &PriceArchive{}
}

// InsertAggregates appends aggregate samples.
func (a *PriceArchive) InsertAggregates(_ context.Context, samples []*domain.AggregateSample) error {
	for _, s := range samples {
		if s == nil || s.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.aggregates = append(a.aggregates, *s)
	}
	return nil
}

// InsertPublisherSamples appends publisher samples.
func (a *PriceArchive) InsertPublisherSamples(_ context.Context, samples []*domain.PublisherSample) error {
	for _, s := range samples {
		if s == nil || s.Symbol == "" || s.Publisher == "" {
			return storage.ErrInvalidInput
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.publishers = append(a.publishers, *s)
	}
	return nil
}

// GetAggregates retrieves aggregate samples for a symbol within [start, end] (inclusive).
func (a *PriceArchive) GetAggregates(_ context.Context, symbol string, start, end int64) ([]*domain.AggregateSample, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []*domain.AggregateSample
	for i := range a.aggregates {
		s := a.aggregates[i]
		if s.Symbol == symbol && s.TimestampMs >= start && s.TimestampMs <= end {
			result = append(result, &s)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].TimestampMs != result[j].TimestampMs {
			return result[i].TimestampMs < result[j].TimestampMs
		}
		return result[i].Slot < result[j].Slot
	})
	return result, nil
}

// GetPublisherSamples retrieves samples for (symbol, publisher) within [start, end] (inclusive).
func (a *PriceArchive) GetPublisherSamples(_ context.Context, symbol, publisher string, start, end int64) ([]*domain.PublisherSample, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []*domain.PublisherSample
	for i := range a.publishers {
		s := a.publishers[i]
		if s.Symbol == symbol && s.Publisher == publisher && s.TimestampMs >= start && s.TimestampMs <= end {
			result = append(result, &s)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].TimestampMs != result[j].TimestampMs {
			return result[i].TimestampMs < result[j].TimestampMs
		}
		return result[i].Slot < result[j].Slot
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.PriceArchive = (*PriceArchive)(nil)
