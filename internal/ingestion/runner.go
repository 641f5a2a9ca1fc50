package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/router"
)

// Runner feeds account changes into the router one at a time, so the
// resolver and validator never see concurrent calls.
type Runner struct {
	router  *router.Router
	updates <-chan domain.KeyedAccount
	backlog func() int
	logger  *zap.Logger

	backlogInterval time.Duration
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Router  *router.Router
	Updates <-chan domain.KeyedAccount
	// Backlog reports queued work for the backlog gauge. Optional.
	Backlog func() int
	// BacklogInterval is how often the gauge is refreshed. Default: 5s.
	BacklogInterval time.Duration
	Logger          *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(opts RunnerOptions) *Runner {
	interval := opts.BacklogInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	backlog := opts.Backlog
	if backlog == nil {
		updates := opts.Updates
		backlog = func() int { return len(updates) }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		router:          opts.Router,
		updates:         opts.Updates,
		backlog:         backlog,
		logger:          logger.Named("runner"),
		backlogInterval: interval,
	}
}

// Run initializes the router from a snapshot and then processes updates
// until ctx is cancelled, the stream closes, or a fatal error occurs.
// Fatal errors are returned as is so callers can test them with router.IsFatal.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("loading snapshot")
	if err := r.router.Initialize(ctx); err != nil {
		return err
	}
	r.logger.Info("snapshot processed, following updates")

	ticker := time.NewTicker(r.backlogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping")
			return ctx.Err()

		case u, ok := <-r.updates:
			if !ok {
				return ErrStreamClosed
			}
			if err := r.router.OnAccountChanged(u.Key, u.Data, u.Slot); err != nil {
				r.logger.Error("fatal account change",
					zap.Stringer("account", u.Key),
					zap.Int64("slot", u.Slot),
					zap.Error(err))
				return err
			}

		case <-ticker.C:
			observability.UpdateBacklog(r.backlog())
		}
	}
}
