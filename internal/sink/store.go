package sink

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/storage"
)

// StoreConfig configures a StoreSink.
type StoreConfig struct {
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	Logger        *zap.Logger
	// Now returns the detection time. Defaults to time.Now.
	Now func() time.Time
}

// StoreSink persists events to a storage.EventStore in batches.
// A batch that fails to insert is dropped and counted.
type StoreSink struct {
	store  storage.EventStore
	cfg    StoreConfig
	logger *zap.Logger
	queue  chan *domain.EventRecord
}

// NewStoreSink creates a store sink. Call Run to start the writer.
func NewStoreSink(store storage.EventStore, cfg StoreConfig) *StoreSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("event_store"),
		queue:  make(chan *domain.EventRecord, cfg.QueueSize),
	}
}

// OnValidationEvent implements validation.Sink. It never blocks.
func (s *StoreSink) OnValidationEvent(_ string, ev domain.ValidationEvent) {
	rec := domain.NewEventRecord(uuid.NewString(), s.cfg.InstanceID, ev, s.cfg.Now().UnixMilli())
	select {
	case s.queue <- rec:
	default:
		observability.RecordSinkDropped("store")
		s.logger.Warn("event store queue full, dropping event",
			zap.String("kind", ev.Kind.String()),
			zap.String("symbol", ev.Symbol))
	}
}

// Run writes queued events until ctx is cancelled, then flushes what is
// already queued using a fresh context.
func (s *StoreSink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*domain.EventRecord, 0, s.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-s.queue:
					batch = append(batch, rec)
				default:
					flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					s.flush(flushCtx, batch)
					cancel()
					return nil
				}
			}
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= s.cfg.BatchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			s.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

func (s *StoreSink) flush(ctx context.Context, batch []*domain.EventRecord) {
	if len(batch) == 0 {
		return
	}
	if err := s.store.InsertBulk(ctx, batch); err != nil {
		observability.DefaultMetrics.SinkDropped.WithLabelValues("store").Add(float64(len(batch)))
		s.logger.Error("insert events failed",
			zap.Int("count", len(batch)),
			zap.Error(err))
		return
	}
	s.logger.Debug("events stored", zap.Int("count", len(batch)))
}
