// Package archive records live prices into a storage.PriceArchive and
// replays archived price history through the validator.
package archive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/router"
	"oracle-monitor/internal/storage"
)

// Recorder buffers price samples from the router and writes them to an
// archive on Flush.
//
// Every price update yields one aggregate sample. A publisher sample is
// written when the publisher's aggregate slot moved since the previous
// update of the same price account, so publisher series line up with the
// aggregate series.
type Recorder struct {
	archive    storage.PriceArchive
	instanceID string
	logger     *zap.Logger
	now        func() time.Time

	// lastSlots is touched only from OnPriceUpdate, which the runner serializes.
	lastSlots map[domain.PublicKey]map[domain.PublicKey]int64

	mu         sync.Mutex
	aggregates []*domain.AggregateSample
	publishers []*domain.PublisherSample
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the sample timestamp source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithLogger sets the recorder logger.
func WithLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// NewRecorder creates a recorder writing to archive, stamping rows with instanceID.
func NewRecorder(archive storage.PriceArchive, instanceID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		archive:    archive,
		instanceID: instanceID,
		logger:     zap.NewNop(),
		now:        time.Now,
		lastSlots:  make(map[domain.PublicKey]map[domain.PublicKey]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("archive")
	return r
}

// OnPriceUpdate implements router.PriceListener.
func (r *Recorder) OnPriceUpdate(u router.PriceUpdate) {
	ts := r.now().UnixMilli()
	rec := u.Record

	agg := &domain.AggregateSample{
		InstanceID:   r.instanceID,
		Symbol:       u.Symbol,
		PriceAccount: u.Account.String(),
		Slot:         u.Slot,
		TimestampMs:  ts,
		Price:        rec.Aggregate.Price,
		Confidence:   rec.Aggregate.Confidence,
		Status:       rec.Aggregate.Status.String(),
	}

	slots, ok := r.lastSlots[u.Account]
	if !ok {
		slots = make(map[domain.PublicKey]int64, len(rec.Components))
		r.lastSlots[u.Account] = slots
	}

	var pubs []*domain.PublisherSample
	for _, c := range rec.Components {
		prev, seen := slots[c.Publisher]
		if seen && prev != c.Aggregate.PublishSlot {
			pubs = append(pubs, &domain.PublisherSample{
				InstanceID:  r.instanceID,
				Symbol:      u.Symbol,
				Publisher:   c.Publisher.String(),
				Slot:        u.Slot,
				TimestampMs: ts,
				Price:       c.Latest.Price,
				Confidence:  c.Latest.Confidence,
			})
		}
		slots[c.Publisher] = c.Aggregate.PublishSlot
	}

	r.mu.Lock()
	r.aggregates = append(r.aggregates, agg)
	r.publishers = append(r.publishers, pubs...)
	r.mu.Unlock()
}

// Pending returns the number of buffered aggregate and publisher samples.
func (r *Recorder) Pending() (aggregates, publishers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.aggregates), len(r.publishers)
}

// Flush writes all buffered samples. Samples from a failed flush are
// dropped so the buffer stays bounded while the archive is down.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	aggs, pubs := r.aggregates, r.publishers
	r.aggregates, r.publishers = nil, nil
	r.mu.Unlock()

	if len(aggs) == 0 && len(pubs) == 0 {
		return nil
	}

	err := r.archive.InsertAggregates(ctx, aggs)
	if err == nil {
		err = r.archive.InsertPublisherSamples(ctx, pubs)
	}
	observability.RecordArchiveFlush(len(aggs), len(pubs), err)
	if err != nil {
		r.logger.Error("archive flush failed",
			zap.Int("aggregates", len(aggs)),
			zap.Int("publishers", len(pubs)),
			zap.Error(err))
		return err
	}

	r.logger.Debug("archive flushed",
		zap.Int("aggregates", len(aggs)),
		zap.Int("publishers", len(pubs)))
	return nil
}

var _ router.PriceListener = (*Recorder)(nil)
