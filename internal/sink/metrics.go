package sink

import (
	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/validation"
)

// MetricsSink counts events and exports per-publisher state gauges.
type MetricsSink struct {
	metrics *observability.Metrics
}

// NewMetricsSink creates a metrics sink. A nil m uses observability.DefaultMetrics.
func NewMetricsSink(m *observability.Metrics) *MetricsSink {
	if m == nil {
		m = observability.DefaultMetrics
	}
	return &MetricsSink{metrics: m}
}

// OnValidationEvent implements validation.Sink.
func (s *MetricsSink) OnValidationEvent(symbol string, ev domain.ValidationEvent) {
	s.metrics.ValidationEvents.WithLabelValues(ev.Kind.String(), symbol).Inc()
}

// ObserveState is a validation.StateObserver updating the hit rate and
// activity gauges.
func (s *MetricsSink) ObserveState(symbol string, st validation.PublisherStatus) {
	pub := st.Publisher.String()
	s.metrics.PublisherHitRate.WithLabelValues(symbol, pub).Set(st.HitRate)
	active := 0.0
	if st.Active {
		active = 1
	}
	s.metrics.PublisherActive.WithLabelValues(symbol, pub).Set(active)
}
