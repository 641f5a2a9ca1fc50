package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/storage"
)

func TestPriceArchive_Aggregates(t *testing.T) {
	archive := NewPriceArchive()
	ctx := context.Background()

	require.NoError(t, archive.InsertAggregates(ctx, []*domain.AggregateSample{
		{Symbol: "BTC/USD", Slot: 12, TimestampMs: 3000, Price: 102},
		{Symbol: "BTC/USD", Slot: 10, TimestampMs: 1000, Price: 100},
		{Symbol: "ETH/USD", Slot: 11, TimestampMs: 2000, Price: 10},
		{Symbol: "BTC/USD", Slot: 11, TimestampMs: 2000, Price: 101},
	}))

	got, err := archive.GetAggregates(ctx, "BTC/USD", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].Slot)
	assert.Equal(t, int64(11), got[1].Slot)
}

func TestPriceArchive_KeepsDuplicates(t *testing.T) {
	archive := NewPriceArchive()
	ctx := context.Background()

	s := &domain.PublisherSample{Symbol: "BTC/USD", Publisher: "pubA", Slot: 10, TimestampMs: 1000}
	require.NoError(t, archive.InsertPublisherSamples(ctx, []*domain.PublisherSample{s}))
	require.NoError(t, archive.InsertPublisherSamples(ctx, []*domain.PublisherSample{s}))

	got, err := archive.GetPublisherSamples(ctx, "BTC/USD", "pubA", 0, 5000)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = archive.GetPublisherSamples(ctx, "BTC/USD", "pubB", 0, 5000)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPriceArchive_InvalidInput(t *testing.T) {
	archive := NewPriceArchive()
	ctx := context.Background()

	err := archive.InsertAggregates(ctx, []*domain.AggregateSample{{Symbol: "BTC/USD"}, nil})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))

	err = archive.InsertPublisherSamples(ctx, []*domain.PublisherSample{{Symbol: "BTC/USD"}})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))

	// A rejected batch leaves nothing behind.
	got, err := archive.GetAggregates(ctx, "BTC/USD", 0, 5000)
	require.NoError(t, err)
	assert.Empty(t, got)
}
