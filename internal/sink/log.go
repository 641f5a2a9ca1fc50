package sink

import (
	"go.uber.org/zap"

	"oracle-monitor/internal/domain"
)

// LogSink writes every event as a structured log entry. Low hit rate and
// price checks log at Warn, activity changes at Info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// OnValidationEvent implements validation.Sink.
func (s *LogSink) OnValidationEvent(symbol string, ev domain.ValidationEvent) {
	fields := []zap.Field{
		zap.String("kind", ev.Kind.String()),
		zap.String("symbol", symbol),
		zap.Stringer("publisher", ev.Publisher),
		zap.Int64("slot", ev.Slot),
	}

	switch ev.Kind {
	case domain.EventStartPublish, domain.EventStopPublish:
		s.logger.Info(FormatLine(ev), fields...)
	case domain.EventLowSlotHitRate:
		s.logger.Warn(FormatLine(ev), append(fields, zap.Float64("hit_rate", ev.HitRate))...)
	default:
		s.logger.Warn(FormatLine(ev), append(fields,
			zap.Float64("aggregate_price", ev.Aggregate.Price),
			zap.Float64("aggregate_confidence", ev.Aggregate.Confidence),
			zap.Float64("publisher_price", ev.Quote.Price),
			zap.Float64("publisher_confidence", ev.Quote.Confidence),
		)...)
	}
}
