package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"oracle-monitor/internal/solana"
)

// ErrNoSamples is returned when every call of a measured method failed at
// every load level.
var ErrNoSamples = errors.New("no successful samples")

// Config configures a Runner.
type Config struct {
	ProgramID string

	// Account is the account fetched by getAccountInfo. Empty means the
	// first account returned by getProgramAccounts.
	Account string

	// Loads lists the background getSlot rates, in requests per second,
	// each method is measured under. Zero means no background load.
	Loads []float64

	Samples int
	Warmup  int

	// Pause is the wait between consecutive samples of one method.
	Pause time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns the load levels and sample counts used by the bench command.
func DefaultConfig(programID string) Config {
	return Config{
		ProgramID: programID,
		Loads:     []float64{0, 10, 30, 50, 100},
		Samples:   50,
		Warmup:    5,
		Pause:     50 * time.Millisecond,
	}
}

// Result is the measurement of one method at one load level.
type Result struct {
	Load   float64
	Method string
	Stats  Stats
}

type method struct {
	name string
	call func(ctx context.Context) error
}

// Runner measures a fixed set of RPC methods under increasing load.
type Runner struct {
	rpc    solana.RPCClient
	cfg    Config
	out    io.Writer
	logger *zap.Logger
}

// NewRunner creates a runner that prints one line per measurement to out.
func NewRunner(rpc solana.RPCClient, cfg Config, out io.Writer) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Samples <= 0 {
		cfg.Samples = 1
	}
	return &Runner{rpc: rpc, cfg: cfg, out: out, logger: logger}
}

// Run warms the node up, then measures every method at every load level.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	if r.cfg.Warmup > 0 {
		r.logger.Info("warming up RPC node", zap.Int("calls", r.cfg.Warmup))
		r.measure(ctx, r.getSlot, r.cfg.Warmup)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	methods, err := r.methods(ctx)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, load := range r.cfg.Loads {
		fmt.Fprintf(r.out, "Testing at %g queries per second\n", load)
		stop := r.startLoad(ctx, load)
		for _, m := range methods {
			stats := r.measure(ctx, m.call, r.cfg.Samples)
			if err := ctx.Err(); err != nil {
				stop()
				return results, err
			}
			fmt.Fprintf(r.out, "  %s: %s\n", m.name, stats)
			results = append(results, Result{Load: load, Method: m.name, Stats: stats})
		}
		stop()
	}

	for _, m := range methods {
		if !anySamples(results, m.name) {
			return results, fmt.Errorf("%s: %w", m.name, ErrNoSamples)
		}
	}
	return results, nil
}

func anySamples(results []Result, name string) bool {
	for _, res := range results {
		if res.Method == name && res.Stats.Samples > 0 {
			return true
		}
	}
	return false
}

func (r *Runner) getSlot(ctx context.Context) error {
	_, err := r.rpc.GetSlot(ctx)
	return err
}

// methods resolves the account for getAccountInfo and returns the measured calls.
func (r *Runner) methods(ctx context.Context) ([]method, error) {
	account := r.cfg.Account
	if account == "" {
		accounts, err := r.rpc.GetProgramAccounts(ctx, r.cfg.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("pick account: %w", err)
		}
		if len(accounts) == 0 {
			return nil, fmt.Errorf("pick account: program %s owns no accounts", r.cfg.ProgramID)
		}
		account = accounts[0].Pubkey
		r.logger.Info("measuring getAccountInfo against first program account", zap.String("account", account))
	}

	return []method{
		{name: "getSlot", call: r.getSlot},
		{name: "getProgramAccounts", call: func(ctx context.Context) error {
			_, err := r.rpc.GetProgramAccounts(ctx, r.cfg.ProgramID)
			return err
		}},
		{name: "getAccountInfo", call: func(ctx context.Context) error {
			_, err := r.rpc.GetAccountInfo(ctx, account)
			return err
		}},
	}, nil
}

// measure times n sequential calls. Failed calls are counted, not timed.
func (r *Runner) measure(ctx context.Context, call func(context.Context) error, n int) Stats {
	latencies := make([]time.Duration, 0, n)
	failures := 0
	for i := 0; i < n; i++ {
		start := time.Now()
		err := call(ctx)
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			failures++
			r.logger.Debug("benchmark call failed", zap.Error(err))
		} else {
			latencies = append(latencies, elapsed)
		}

		if r.cfg.Pause > 0 && i < n-1 {
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.Pause):
			}
		}
	}
	stats := Summarize(latencies)
	stats.Errors = failures
	return stats
}

// startLoad issues getSlot at qps without waiting for responses until the
// returned stop function is called. stop waits for in-flight calls.
func (r *Runner) startLoad(ctx context.Context, qps float64) (stop func()) {
	if qps <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	limiter := rate.NewLimiter(rate.Limit(qps), 1)
	var inflight sync.WaitGroup
	var sent, failed atomic.Int64
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			sent.Add(1)
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				if _, err := r.rpc.GetSlot(ctx); err != nil && ctx.Err() == nil {
					failed.Add(1)
				}
			}()
		}
	}()

	return func() {
		cancel()
		<-done
		inflight.Wait()
		r.logger.Debug("background load stopped",
			zap.Float64("qps", qps),
			zap.Int64("sent", sent.Load()),
			zap.Int64("failed", failed.Load()))
	}
}
