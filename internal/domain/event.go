package domain

// EventKind names a validation event.
type EventKind string

const (
	EventStartPublish        EventKind = "start-publish"
	EventStopPublish         EventKind = "stop-publish"
	EventLowSlotHitRate      EventKind = "low-slot-hit-rate"
	EventBadConfidence       EventKind = "bad-confidence"
	EventImprobableAggregate EventKind = "improbable-aggregate"
	EventPriceDeviation      EventKind = "price-deviation"
)

// String returns the event code.
func (k EventKind) String() string {
	return string(k)
}

// IsValid reports whether k is one of the defined kinds.
func (k EventKind) IsValid() bool {
	switch k {
	case EventStartPublish, EventStopPublish, EventLowSlotHitRate,
		EventBadConfidence, EventImprobableAggregate, EventPriceDeviation:
		return true
	}
	return false
}

// ValidationEvent is a quality event for one publisher on one symbol.
type ValidationEvent struct {
	Kind      EventKind
	Symbol    string
	Publisher PublicKey
	// Slot is the aggregate publish slot of the evaluated record.
	Slot int64
	// HitRate is set for EventLowSlotHitRate.
	HitRate float64

	Aggregate PriceInfo
	Quote     PriceInfo
}
