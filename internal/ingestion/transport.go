// Package ingestion connects the Solana clients to the router: it provides
// the resolver's transport and the loop that feeds notifications through.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/graph"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/solana"
)

// ErrStreamClosed is returned when the WebSocket notification stream ends.
var ErrStreamClosed = errors.New("notification stream closed")

// TransportConfig configures a Transport.
type TransportConfig struct {
	ProgramID string

	// SnapshotInitialInterval and SnapshotMaxInterval bound the retry delay
	// between snapshot attempts; SnapshotMaxElapsed caps the total time.
	SnapshotInitialInterval time.Duration
	SnapshotMaxInterval     time.Duration
	SnapshotMaxElapsed      time.Duration

	// FetchRetryDelay is the wait before a failed subscribe or fetch is retried.
	FetchRetryDelay time.Duration

	// RequestRate limits subscribe and fetch requests per second. Zero means unlimited.
	RequestRate  float64
	RequestBurst int

	// BufferSize is the capacity of the update channel.
	BufferSize int

	Logger *zap.Logger
}

// DefaultTransportConfig returns defaults for programID.
func DefaultTransportConfig(programID string) TransportConfig {
	return TransportConfig{
		ProgramID:               programID,
		SnapshotInitialInterval: 500 * time.Millisecond,
		SnapshotMaxInterval:     30 * time.Second,
		SnapshotMaxElapsed:      5 * time.Minute,
		FetchRetryDelay:         30 * time.Second,
		RequestRate:             20,
		RequestBurst:            20,
		BufferSize:              4096,
	}
}

type requestKind int

const (
	requestSubscribe requestKind = iota
	requestFetch
)

type request struct {
	kind requestKind
	key  domain.PublicKey
}

// Transport implements graph.Transport over the RPC and WebSocket clients.
//
// Subscribe and Fetch never block: requests go to an unbounded queue that
// Run drains at the configured rate. WebSocket notifications and fetch
// results are merged onto one channel, returned by Updates.
type Transport struct {
	rpc     solana.RPCClient
	ws      solana.WSClient
	cfg     TransportConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	pending []request
	wake    chan struct{}

	updates chan domain.KeyedAccount
}

// NewTransport creates a transport. Call Run to start it.
func NewTransport(rpc solana.RPCClient, ws solana.WSClient, cfg TransportConfig) *Transport {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.FetchRetryDelay <= 0 {
		cfg.FetchRetryDelay = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		rpc:     rpc,
		ws:      ws,
		cfg:     cfg,
		logger:  logger.Named("transport"),
		limiter: rate.NewLimiter(limit, cfg.RequestBurst),
		wake:    make(chan struct{}, 1),
		updates: make(chan domain.KeyedAccount, cfg.BufferSize),
	}
}

// Compile-time interface check.
var _ graph.Transport = (*Transport)(nil)

// FetchAll loads every account owned by the program, retrying with
// exponential backoff until the elapsed time cap.
func (t *Transport) FetchAll(ctx context.Context) ([]domain.KeyedAccount, error) {
	b := backoff.NewExponentialBackOff()
	if t.cfg.SnapshotInitialInterval > 0 {
		b.InitialInterval = t.cfg.SnapshotInitialInterval
	}
	if t.cfg.SnapshotMaxInterval > 0 {
		b.MaxInterval = t.cfg.SnapshotMaxInterval
	}
	b.MaxElapsedTime = t.cfg.SnapshotMaxElapsed

	var raw []solana.KeyedAccount
	op := func() error {
		observability.RecordSnapshotAttempt()
		var err error
		raw, err = t.rpc.GetProgramAccounts(ctx, t.cfg.ProgramID)
		return err
	}
	notify := func(err error, wait time.Duration) {
		t.logger.Warn("snapshot failed, retrying",
			zap.String("program", t.cfg.ProgramID),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("get program accounts: %w", err)
	}

	accounts := make([]domain.KeyedAccount, 0, len(raw))
	for _, a := range raw {
		key, err := domain.ParsePublicKey(a.Pubkey)
		if err != nil {
			t.logger.Warn("skipping account with malformed key", zap.Error(err))
			continue
		}
		accounts = append(accounts, domain.KeyedAccount{Key: key, Data: a.Account.Data, Slot: a.Account.Slot})
	}

	t.logger.Info("snapshot loaded",
		zap.String("program", t.cfg.ProgramID),
		zap.Int("accounts", len(accounts)))
	return accounts, nil
}

// Subscribe queues a subscription for key.
func (t *Transport) Subscribe(key domain.PublicKey) {
	t.enqueue(request{kind: requestSubscribe, key: key})
}

// Fetch queues a one-off read of key.
func (t *Transport) Fetch(key domain.PublicKey) {
	t.enqueue(request{kind: requestFetch, key: key})
}

// Updates returns the merged stream of notifications and fetch results.
func (t *Transport) Updates() <-chan domain.KeyedAccount {
	return t.updates
}

// Backlog returns the number of updates and requests waiting.
func (t *Transport) Backlog() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.updates) + len(t.pending)
}

// Run processes queued requests and forwards notifications until ctx is
// cancelled or the notification stream ends.
func (t *Transport) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.forward(ctx) })
	g.Go(func() error { return t.work(ctx) })
	return g.Wait()
}

func (t *Transport) enqueue(r request) {
	t.mu.Lock()
	t.pending = append(t.pending, r)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Transport) next() (request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return request{}, false
	}
	r := t.pending[0]
	t.pending[0] = request{}
	t.pending = t.pending[1:]
	return r, true
}

func (t *Transport) work(ctx context.Context) error {
	for {
		r, ok := t.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-t.wake:
				continue
			}
		}

		if err := t.limiter.Wait(ctx); err != nil {
			return nil
		}

		switch r.kind {
		case requestSubscribe:
			if err := t.ws.SubscribeAccount(ctx, r.key.String()); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				t.logger.Warn("subscribe failed, retrying later",
					zap.Stringer("account", r.key),
					zap.Duration("retry_in", t.cfg.FetchRetryDelay),
					zap.Error(err))
				t.retryLater(ctx, r)
			}
		case requestFetch:
			t.fetch(ctx, r)
		}
	}
}

func (t *Transport) fetch(ctx context.Context, r request) {
	info, err := t.rpc.GetAccountInfo(ctx, r.key.String())
	if ctx.Err() != nil {
		return
	}
	if err == nil && info == nil {
		err = errors.New("account not found")
	}
	if err != nil {
		observability.RecordFetchFailure()
		t.logger.Warn("fetch failed, retrying later",
			zap.Stringer("account", r.key),
			zap.Duration("retry_in", t.cfg.FetchRetryDelay),
			zap.Error(err))
		t.retryLater(ctx, r)
		return
	}

	t.deliver(ctx, domain.KeyedAccount{Key: r.key, Data: info.Data, Slot: info.Slot})
}

func (t *Transport) retryLater(ctx context.Context, r request) {
	time.AfterFunc(t.cfg.FetchRetryDelay, func() {
		if ctx.Err() == nil {
			t.enqueue(r)
		}
	})
}

func (t *Transport) forward(ctx context.Context) error {
	notifications := t.ws.Notifications()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return ErrStreamClosed
			}
			key, err := domain.ParsePublicKey(n.Pubkey)
			if err != nil {
				t.logger.Warn("dropping notification with malformed key", zap.Error(err))
				continue
			}
			t.deliver(ctx, domain.KeyedAccount{Key: key, Data: n.Account.Data, Slot: n.Slot})
		}
	}
}

func (t *Transport) deliver(ctx context.Context, a domain.KeyedAccount) {
	select {
	case t.updates <- a:
	case <-ctx.Done():
	}
}
