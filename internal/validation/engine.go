// Package validation turns price updates into per-publisher quality events.
package validation

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"oracle-monitor/internal/domain"
)

// Sink receives validation events. Sinks are called synchronously on the
// processing path and must hand off slow work.
type Sink interface {
	OnValidationEvent(symbol string, ev domain.ValidationEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(symbol string, ev domain.ValidationEvent)

// OnValidationEvent calls f(symbol, ev).
func (f SinkFunc) OnValidationEvent(symbol string, ev domain.ValidationEvent) { f(symbol, ev) }

// StateObserver is told about every publisher state after evaluation.
type StateObserver func(symbol string, s PublisherStatus)

// PublisherStatus is the exported view of one publisher's state.
type PublisherStatus struct {
	Symbol            string           `json:"symbol"`
	Publisher         domain.PublicKey `json:"publisher"`
	Active            bool             `json:"active"`
	HitRate           float64          `json:"hit_rate"`
	LastAggregateSlot int64            `json:"last_aggregate_slot"`
}

type stateKey struct {
	symbol    string
	publisher domain.PublicKey
}

type publisherState struct {
	active   bool
	hitRate  float64
	lastSlot int64
}

// Engine holds the state machines for every (symbol, publisher) seen.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	states map[stateKey]*publisherState

	sinks     []Sink
	observers []StateObserver
}

// NewEngine creates an engine. cfg is expected to have passed Validate.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.Named("validation"),
		states: make(map[stateKey]*publisherState),
	}
}

// AddSink registers s. Sinks receive events in registration order.
func (e *Engine) AddSink(s Sink) {
	e.sinks = append(e.sinks, s)
}

// AddObserver registers o for post-evaluation state.
func (e *Engine) AddObserver(o StateObserver) {
	e.observers = append(e.observers, o)
}

// Process evaluates rec and delivers the resulting events to every sink.
func (e *Engine) Process(symbol string, rec *domain.PriceRecord) []domain.ValidationEvent {
	events := e.Evaluate(symbol, rec)
	for _, ev := range events {
		for _, s := range e.sinks {
			s.OnValidationEvent(symbol, ev)
		}
	}
	return events
}

// Evaluate updates publisher state from rec and returns the events it produced,
// in component order and, per component, activity, hit rate, then price checks.
func (e *Engine) Evaluate(symbol string, rec *domain.PriceRecord) []domain.ValidationEvent {
	var events []domain.ValidationEvent
	var statuses []PublisherStatus

	e.mu.Lock()
	for _, comp := range rec.Components {
		if e.cfg.Publisher != nil && comp.Publisher != *e.cfg.Publisher {
			continue
		}
		events = e.evaluateComponent(events, symbol, rec, comp)
		if len(e.observers) > 0 {
			st := e.states[stateKey{symbol, comp.Publisher}]
			statuses = append(statuses, st.status(symbol, comp.Publisher))
		}
	}
	e.mu.Unlock()

	for _, s := range statuses {
		for _, o := range e.observers {
			o(symbol, s)
		}
	}
	return events
}

func (e *Engine) evaluateComponent(events []domain.ValidationEvent, symbol string, rec *domain.PriceRecord, comp domain.PublisherComponent) []domain.ValidationEvent {
	event := func(kind domain.EventKind) domain.ValidationEvent {
		return domain.ValidationEvent{
			Kind:      kind,
			Symbol:    symbol,
			Publisher: comp.Publisher,
			Slot:      rec.Aggregate.PublishSlot,
			Aggregate: rec.Aggregate,
			Quote:     comp.Aggregate,
		}
	}

	key := stateKey{symbol, comp.Publisher}
	active := e.isActive(comp.Aggregate, rec.Aggregate)
	slot := comp.Aggregate.PublishSlot

	st, seen := e.states[key]
	if !seen {
		st = &publisherState{active: active, hitRate: 1.0, lastSlot: slot}
		e.states[key] = st
		e.logger.Debug("new publisher",
			zap.String("symbol", symbol),
			zap.Stringer("publisher", comp.Publisher),
			zap.Bool("active", active))
	} else {
		if active != st.active {
			st.active = active
			if active {
				events = append(events, event(domain.EventStartPublish))
			} else {
				events = append(events, event(domain.EventStopPublish))
			}
		}

		if slot != st.lastSlot {
			st.hitRate = st.hitRate*e.cfg.DecayFactor + (1 - e.cfg.DecayFactor)
			st.lastSlot = slot
		} else {
			st.hitRate *= e.cfg.DecayFactor
		}

		if st.active && st.hitRate < e.cfg.HitRateAlertThreshold {
			ev := event(domain.EventLowSlotHitRate)
			ev.HitRate = st.hitRate
			events = append(events, ev)
		}
	}

	if st.active {
		if kind, ok := e.checkPrice(comp.Aggregate, rec.Aggregate); ok {
			events = append(events, event(kind))
		}
	}

	return events
}

// isActive reports whether a contribution is trading, has a confidence and
// is recent enough relative to the aggregate.
func (e *Engine) isActive(quote, aggregate domain.PriceInfo) bool {
	return quote.Status == domain.PriceStatusTrading &&
		quote.Confidence != 0 &&
		aggregate.PublishSlot-quote.PublishSlot < e.cfg.MaxSlotDifference
}

// checkPrice applies the confidence, improbability and deviation rules in
// that order and returns the first that fails. Deviation is relative to the
// aggregate's magnitude and is not checked against a zero aggregate.
func (e *Engine) checkPrice(quote, aggregate domain.PriceInfo) (domain.EventKind, bool) {
	delta := quote.Price - aggregate.Price

	if quote.Confidence <= 0 {
		return domain.EventBadConfidence, true
	}
	if math.Abs(delta)/quote.Confidence > e.cfg.ImprobabilityMultiple {
		return domain.EventImprobableAggregate, true
	}
	if aggregate.Price != 0 && math.Abs(delta)/math.Abs(aggregate.Price) > e.cfg.DeviationFraction {
		return domain.EventPriceDeviation, true
	}
	return "", false
}

// State returns the state for (symbol, publisher) if it has been seen.
func (e *Engine) State(symbol string, publisher domain.PublicKey) (PublisherStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.states[stateKey{symbol, publisher}]
	if !ok {
		return PublisherStatus{}, false
	}
	return st.status(symbol, publisher), true
}

// Snapshot returns every publisher state ordered by symbol then publisher.
// Safe to call concurrently with evaluation.
func (e *Engine) Snapshot() []PublisherStatus {
	e.mu.RLock()
	out := make([]PublisherStatus, 0, len(e.states))
	for k, st := range e.states {
		out = append(out, st.status(k.symbol, k.publisher))
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Publisher.String() < out[j].Publisher.String()
	})
	return out
}

func (st *publisherState) status(symbol string, publisher domain.PublicKey) PublisherStatus {
	return PublisherStatus{
		Symbol:            symbol,
		Publisher:         publisher,
		Active:            st.active,
		HitRate:           st.hitRate,
		LastAggregateSlot: st.lastSlot,
	}
}
