package stub

import (
	"context"
	"sync"

	"oracle-monitor/internal/solana"
)

// WSClient implements solana.WSClient for testing.
// Tests push notifications with Push.
type WSClient struct {
	mu         sync.Mutex
	subscribed map[string]int
	order      []string
	ch         chan solana.AccountNotification
	closed     bool

	// Err, when set, is returned from SubscribeAccount.
	Err error
}

// Compile-time interface check.
var _ solana.WSClient = (*WSClient)(nil)

// NewWSClient creates a stub WebSocket client with a buffered channel.
func NewWSClient() *WSClient {
	return &WSClient{
		subscribed: make(map[string]int),
		ch:         make(chan solana.AccountNotification, 1024),
	}
}

// SubscribeAccount records the subscription.
func (c *WSClient) SubscribeAccount(_ context.Context, pubkey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if c.subscribed[pubkey] == 0 {
		c.order = append(c.order, pubkey)
	}
	c.subscribed[pubkey]++
	return nil
}

// Notifications returns the notification channel.
func (c *WSClient) Notifications() <-chan solana.AccountNotification {
	return c.ch
}

// Push delivers a notification to the consumer.
func (c *WSClient) Push(pubkey string, data []byte, slot int64) {
	c.ch <- solana.AccountNotification{
		Pubkey:  pubkey,
		Slot:    slot,
		Account: solana.AccountInfo{Slot: slot, Data: data},
	}
}

// Subscribed returns keys in first-subscription order.
func (c *WSClient) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// SubscribeCalls returns how many times pubkey was subscribed.
func (c *WSClient) SubscribeCalls(pubkey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed[pubkey]
}

// Close closes the notification channel.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}

// SetErr changes the error returned from SubscribeAccount.
func (c *WSClient) SetErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}
