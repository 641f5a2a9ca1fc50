package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/router"
	"oracle-monitor/internal/storage"
	"oracle-monitor/internal/storage/memory"
)

var (
	priceAccount = domain.PublicKey{1}
	publisherA   = domain.PublicKey{2}
	publisherB   = domain.PublicKey{3}
)

func update(slot int64, comps ...domain.PublisherComponent) router.PriceUpdate {
	return router.PriceUpdate{
		Symbol:  "BTC/USD",
		Account: priceAccount,
		Slot:    slot,
		Record: &domain.PriceRecord{
			Aggregate:  domain.PriceInfo{Price: 100, Confidence: 1, Status: domain.PriceStatusTrading, PublishSlot: slot},
			Components: comps,
		},
	}
}

func component(pub domain.PublicKey, aggSlot int64, latest float64) domain.PublisherComponent {
	return domain.PublisherComponent{
		Publisher: pub,
		Aggregate: domain.PriceInfo{Price: 99, Confidence: 1, Status: domain.PriceStatusTrading, PublishSlot: aggSlot},
		Latest:    domain.PriceInfo{Price: latest, Confidence: 2, Status: domain.PriceStatusTrading, PublishSlot: aggSlot + 1},
	}
}

func TestRecorder_PublisherSampleOnSlotChange(t *testing.T) {
	store := memory.NewPriceArchive()
	now := time.UnixMilli(5000)
	r := NewRecorder(store, "instance-1", WithClock(func() time.Time { return now }))

	r.OnPriceUpdate(update(10, component(publisherA, 5, 101), component(publisherB, 5, 98)))
	r.OnPriceUpdate(update(11, component(publisherA, 5, 102), component(publisherB, 6, 97)))
	r.OnPriceUpdate(update(12, component(publisherA, 7, 103), component(publisherB, 6, 96)))

	aggs, pubs := r.Pending()
	assert.Equal(t, 3, aggs)
	assert.Equal(t, 2, pubs)

	require.NoError(t, r.Flush(context.Background()))
	aggs, pubs = r.Pending()
	assert.Zero(t, aggs)
	assert.Zero(t, pubs)

	ctx := context.Background()
	stored, err := store.GetAggregates(ctx, "BTC/USD", 0, 10000)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "instance-1", stored[0].InstanceID)
	assert.Equal(t, priceAccount.String(), stored[0].PriceAccount)
	assert.Equal(t, "trading", stored[0].Status)
	assert.Equal(t, int64(5000), stored[0].TimestampMs)

	b, err := store.GetPublisherSamples(ctx, "BTC/USD", publisherB.String(), 0, 10000)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, int64(11), b[0].Slot)
	assert.Equal(t, 97.0, b[0].Price)
	assert.Equal(t, 2.0, b[0].Confidence)

	a, err := store.GetPublisherSamples(ctx, "BTC/USD", publisherA.String(), 0, 10000)
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, int64(12), a[0].Slot)
	assert.Equal(t, 103.0, a[0].Price)
}

func TestRecorder_FlushEmptyIsNoop(t *testing.T) {
	r := NewRecorder(failingArchive{}, "instance-1")
	assert.NoError(t, r.Flush(context.Background()))
}

func TestRecorder_FailedFlushDropsBuffer(t *testing.T) {
	r := NewRecorder(failingArchive{}, "instance-1")
	r.OnPriceUpdate(update(10, component(publisherA, 5, 101)))

	err := r.Flush(context.Background())
	assert.ErrorIs(t, err, errArchiveDown)

	aggs, pubs := r.Pending()
	assert.Zero(t, aggs)
	assert.Zero(t, pubs)
}

var errArchiveDown = errors.New("archive down")

type failingArchive struct {
	storage.PriceArchive
}

func (failingArchive) InsertAggregates(context.Context, []*domain.AggregateSample) error {
	return errArchiveDown
}
