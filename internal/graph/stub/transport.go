package stub

import (
	"context"

	"oracle-monitor/internal/domain"
)

// Transport records subscribe/fetch requests and serves a fixed snapshot.
// Implements graph.Transport.
type Transport struct {
	Snapshot []domain.KeyedAccount
	Err      error

	Subscriptions []domain.PublicKey
	Fetches       []domain.PublicKey
}

// NewTransport creates a stub transport serving snapshot.
func NewTransport(snapshot ...domain.KeyedAccount) *Transport {
	return &Transport{Snapshot: snapshot}
}

// FetchAll returns the snapshot.
func (t *Transport) FetchAll(_ context.Context) ([]domain.KeyedAccount, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	return t.Snapshot, nil
}

// Subscribe records the request.
func (t *Transport) Subscribe(key domain.PublicKey) {
	t.Subscriptions = append(t.Subscriptions, key)
}

// Fetch records the request.
func (t *Transport) Fetch(key domain.PublicKey) {
	t.Fetches = append(t.Fetches, key)
}

// SubscribeCount returns how many times key was subscribed.
func (t *Transport) SubscribeCount(key domain.PublicKey) int {
	n := 0
	for _, k := range t.Subscriptions {
		if k == key {
			n++
		}
	}
	return n
}

// Fetched reports whether key was requested through Fetch.
func (t *Transport) Fetched(key domain.PublicKey) bool {
	for _, k := range t.Fetches {
		if k == key {
			return true
		}
	}
	return false
}
