package memory

import (
	"context"
	"sort"
	"sync"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EventRecord // keyed by event_id
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[string]*domain.EventRecord),
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Insert(_ context.Context, e *domain.EventRecord) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}

	eventCopy := *e
	s.data[e.EventID] = &eventCopy
	return nil
}

// InsertBulk adds multiple events. Fails entire batch on duplicate.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.EventID] = struct{}{}
	}

	for _, e := range events {
		eventCopy := *e
		s.data[e.EventID] = &eventCopy
	}
	return nil
}

// GetByID retrieves an event by its ID. Returns ErrNotFound if not exists.
func (s *EventStore) GetByID(_ context.Context, eventID string) (*domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[eventID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	eventCopy := *e
	return &eventCopy, nil
}

// GetBySymbol retrieves events for a symbol detected within [start, end] (inclusive).
func (s *EventStore) GetBySymbol(_ context.Context, symbol string, start, end int64) ([]*domain.EventRecord, error) {
	return s.filter(func(e *domain.EventRecord) bool {
		return e.Symbol == symbol && e.DetectedAtMs >= start && e.DetectedAtMs <= end
	}), nil
}

// GetByPublisher retrieves events for a publisher detected within [start, end] (inclusive).
func (s *EventStore) GetByPublisher(_ context.Context, publisher string, start, end int64) ([]*domain.EventRecord, error) {
	return s.filter(func(e *domain.EventRecord) bool {
		return e.Publisher == publisher && e.DetectedAtMs >= start && e.DetectedAtMs <= end
	}), nil
}

func (s *EventStore) filter(match func(*domain.EventRecord) bool) []*domain.EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EventRecord
	for _, e := range s.data {
		if match(e) {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	// Sort by detected_at ASC, event_id ASC for determinism
	sort.Slice(result, func(i, j int) bool {
		if result[i].DetectedAtMs != result[j].DetectedAtMs {
			return result[i].DetectedAtMs < result[j].DetectedAtMs
		}
		return result[i].EventID < result[j].EventID
	})
	return result
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
