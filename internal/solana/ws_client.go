package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// DialMaxElapsed bounds how long NewWSClient keeps retrying the first dial.
	DialMaxElapsed time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// Commitment is sent with every subscription.
	Commitment string
	// BufferSize is the capacity of the shared notification channel.
	BufferSize int
	// Logger receives connection diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		DialMaxElapsed:    5 * time.Minute,
		Commitment:        CommitmentFinalized,
		BufferSize:        10000,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
// All subscriptions share one notification channel so that a single
// consumer sees changes in arrival order.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	notifications chan AccountNotification

	// subs maps server subscription ID to account key. It is reset, and gen
	// bumped, under subsMu whenever the connection is replaced.
	subs   map[int64]string
	gen    uint64
	subsMu sync.RWMutex

	// accounts is the set of keys that should stay subscribed across reconnects.
	// inflight holds keys whose first accountSubscribe is still owned by
	// SubscribeAccount; resubscribeAll leaves those alone.
	accounts   map[string]bool
	inflight   map[string]bool
	accountsMu sync.Mutex

	// last is the most recent notification per key. Only readLoop touches it.
	last map[string]lastChange

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

type lastChange struct {
	slot int64
	data []byte
}

// Compile-time interface check.
var _ WSClient = (*WSClientImpl)(nil)

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultWSConfig().BufferSize
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultWSConfig().SubscribeTimeout
	}
	if cfg.DialMaxElapsed <= 0 {
		cfg.DialMaxElapsed = DefaultWSConfig().DialMaxElapsed
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultWSConfig().ReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.Commitment == "" {
		cfg.Commitment = CommitmentFinalized
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClientImpl{
		endpoint:      endpoint,
		config:        cfg,
		logger:        logger.Named("ws"),
		notifications: make(chan AccountNotification, cfg.BufferSize),
		subs:          make(map[int64]string),
		gen:           1,
		accounts:      make(map[string]bool),
		inflight:      make(map[string]bool),
		last:          make(map[string]lastChange),
		pendingSubs:   make(map[uint64]chan int64),
		done:          make(chan struct{}),
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// dial makes the first connection, retrying with capped exponential backoff
// until DialMaxElapsed passes or ctx is done.
func (c *WSClientImpl) dial(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectDelay
	b.MaxInterval = c.config.MaxReconnectDelay
	b.MaxElapsedTime = c.config.DialMaxElapsed

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return c.connect(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		c.logger.Warn("websocket dial failed, retrying",
			zap.String("endpoint", c.endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err))
	})
}

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Notifications returns the shared notification channel. It is closed by Close.
func (c *WSClientImpl) Notifications() <-chan AccountNotification {
	return c.notifications
}

// SubscribeAccount subscribes to changes of a single account. A key that is
// already tracked is a no-op. If the connection is replaced while the request
// is outstanding, the subscription is re-issued on the new connection so the
// key ends up with exactly one live server subscription.
func (c *WSClientImpl) SubscribeAccount(ctx context.Context, pubkey string) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}

	c.accountsMu.Lock()
	if c.accounts[pubkey] {
		c.accountsMu.Unlock()
		return nil
	}
	c.accounts[pubkey] = true
	c.inflight[pubkey] = true
	c.accountsMu.Unlock()

	for {
		subID, gen, err := c.subscribe(ctx, pubkey)
		if err != nil && gen != 0 && c.replaced(gen) && ctx.Err() == nil && !c.closed.Load() {
			c.logger.Debug("subscribe lost with its connection, retrying", zap.String("account", pubkey))
			continue
		}
		if err != nil {
			c.accountsMu.Lock()
			delete(c.accounts, pubkey)
			delete(c.inflight, pubkey)
			c.accountsMu.Unlock()
			return err
		}

		c.subsMu.Lock()
		current := gen == c.gen
		if current {
			c.subs[subID] = pubkey
		}
		c.subsMu.Unlock()

		if current {
			c.accountsMu.Lock()
			delete(c.inflight, pubkey)
			c.accountsMu.Unlock()
			return nil
		}
		c.logger.Debug("connection replaced during subscribe, retrying", zap.String("account", pubkey))
	}
}

// replaced reports whether the connection of generation gen has been swapped out.
func (c *WSClientImpl) replaced(gen uint64) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return gen != c.gen
}

// subscribe sends accountSubscribe and waits for the subscription ID. It also
// returns the generation of the connection the request was written to.
func (c *WSClientImpl) subscribe(ctx context.Context, pubkey string) (int64, uint64, error) {
	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			pubkey,
			map[string]string{
				"encoding":   "base64",
				"commitment": c.config.Commitment,
			},
		},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		dropPending()
		return 0, 0, fmt.Errorf("not connected")
	}
	c.subsMu.RLock()
	gen := c.gen
	c.subsMu.RUnlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		dropPending()
		return 0, 0, fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, 0, fmt.Errorf("client closed")
		}
		return subID, gen, nil
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return 0, gen, fmt.Errorf("subscription timeout after %v", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		dropPending()
		return 0, 0, ctx.Err()
	}
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	close(c.notifications)
	return nil
}

// readLoop reads messages from WebSocket and dispatches notifications.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Warn("connection lost, reconnecting",
					zap.Error(err), zap.Duration("delay", reconnectDelay))
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect re-dials and restores every account subscription.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	// Server subscription IDs die with the old connection.
	c.subsMu.Lock()
	c.subs = make(map[int64]string)
	c.gen++
	c.subsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn("reconnect failed", zap.Error(err))
		return
	}

	c.resubscribeAll()
}

// resubscribeAll re-issues accountSubscribe for every tracked account that
// is not still being subscribed by SubscribeAccount.
func (c *WSClientImpl) resubscribeAll() {
	c.accountsMu.Lock()
	keys := make([]string, 0, len(c.accounts))
	for k := range c.accounts {
		if !c.inflight[k] {
			keys = append(keys, k)
		}
	}
	c.accountsMu.Unlock()

	restored := 0
	for _, key := range keys {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		subID, gen, err := c.subscribe(ctx, key)
		cancel()
		if err != nil {
			c.logger.Warn("resubscribe failed", zap.String("account", key), zap.Error(err))
			continue
		}
		c.subsMu.Lock()
		if gen == c.gen {
			c.subs[subID] = key
			restored++
		}
		c.subsMu.Unlock()
	}

	c.logger.Info("resubscribed after reconnect", zap.Int("restored", restored), zap.Int("total", len(keys)))
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.ID > 0 && resp.Result > 0 {
		c.handleSubscribeResponse(&resp)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "accountNotification" {
		c.handleAccountNotification(&notif)
		return
	}

	var errResp struct {
		ID    uint64 `json:"id"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		// The pending subscription will time out.
		c.logger.Warn("error response",
			zap.Uint64("id", errResp.ID),
			zap.Int("code", errResp.Error.Code),
			zap.String("message", errResp.Error.Message))
	}
}

// handleSubscribeResponse handles subscription confirmation.
func (c *WSClientImpl) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

// handleAccountNotification decodes and forwards an account change.
func (c *WSClientImpl) handleAccountNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	c.subsMu.RLock()
	pubkey, ok := c.subs[notif.Params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	var slot int64
	if notif.Params.Result.Context != nil {
		slot = notif.Params.Result.Context.Slot
	}

	info, err := notif.Params.Result.Value.decode(slot)
	if err != nil {
		c.logger.Warn("undecodable notification", zap.String("account", pubkey), zap.Error(err))
		return
	}

	// A repeated (key, slot, data) is the same change seen twice.
	if prev, ok := c.last[pubkey]; ok && prev.slot == slot && bytes.Equal(prev.data, info.Data) {
		c.logger.Debug("duplicate notification dropped", zap.String("account", pubkey), zap.Int64("slot", slot))
		return
	}
	c.last[pubkey] = lastChange{slot: slot, data: info.Data}

	// Block until the consumer catches up: dropping a change would skew hit rates.
	select {
	case c.notifications <- AccountNotification{Pubkey: pubkey, Slot: slot, Account: info}:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A failed ping surfaces as a read error and triggers reconnect.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *rpcContext  `json:"context"`
	Value   accountValue `json:"value"`
}
