package domain

// EventRecord is a validation event as persisted by an event store.
type EventRecord struct {
	EventID    string
	InstanceID string
	Kind       EventKind
	Symbol     string
	Publisher  string
	Slot       int64
	HitRate    float64

	AggregatePrice      float64
	AggregateConfidence float64
	QuotePrice          float64
	QuoteConfidence     float64
	QuoteStatus         string

	DetectedAtMs int64
}

// NewEventRecord flattens ev for storage.
func NewEventRecord(eventID, instanceID string, ev ValidationEvent, detectedAtMs int64) *EventRecord {
	return &EventRecord{
		EventID:             eventID,
		InstanceID:          instanceID,
		Kind:                ev.Kind,
		Symbol:              ev.Symbol,
		Publisher:           ev.Publisher.String(),
		Slot:                ev.Slot,
		HitRate:             ev.HitRate,
		AggregatePrice:      ev.Aggregate.Price,
		AggregateConfidence: ev.Aggregate.Confidence,
		QuotePrice:          ev.Quote.Price,
		QuoteConfidence:     ev.Quote.Confidence,
		QuoteStatus:         ev.Quote.Status.String(),
		DetectedAtMs:        detectedAtMs,
	}
}

// AggregateSample is one archived aggregate price observation.
type AggregateSample struct {
	InstanceID   string
	Symbol       string
	PriceAccount string
	Slot         int64
	TimestampMs  int64
	Price        float64
	Confidence   float64
	Status       string
}

// PublisherSample is one archived publisher quote, written when the
// publisher's contribution reached a new aggregate slot.
type PublisherSample struct {
	InstanceID  string
	Symbol      string
	Publisher   string
	Slot        int64
	TimestampMs int64
	Price       float64
	Confidence  float64
}
