// Package httpapi serves health, metrics and publisher status over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/validation"
)

// StatusSource exposes the validator's per-publisher state.
type StatusSource interface {
	Snapshot() []validation.PublisherStatus
}

// Options configures the HTTP handler.
type Options struct {
	InstanceID string
	Status     StatusSource
	// Metrics serves /metrics. Defaults to the Prometheus default registry.
	Metrics http.Handler
	Logger  *zap.Logger
	// Now is used for uptime. Defaults to time.Now.
	Now func() time.Time
}

type server struct {
	opts    Options
	started time.Time
}

// NewHandler builds the router:
//
//	GET /health               liveness and instance id
//	GET /metrics              Prometheus metrics
//	GET /publishers           every tracked (symbol, publisher) state
//	GET /publishers/{symbol}  states for one symbol; symbol is URL-escaped
func NewHandler(opts Options) http.Handler {
	if opts.Metrics == nil {
		opts.Metrics = observability.Handler()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &server{opts: opts, started: opts.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", opts.Metrics)
	r.Get("/publishers", s.handlePublishers)
	r.Get("/publishers/{symbol}", s.handlePublishers)
	return r
}

type healthResponse struct {
	Status        string  `json:"status"`
	InstanceID    string  `json:"instance_id"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		InstanceID:    s.opts.InstanceID,
		UptimeSeconds: s.opts.Now().Sub(s.started).Seconds(),
	})
}

func (s *server) handlePublishers(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		writeJSON(w, http.StatusOK, []validation.PublisherStatus{})
		return
	}

	all := s.opts.Status.Snapshot()
	symbol, err := url.PathUnescape(chi.URLParam(r, "symbol"))
	if err != nil {
		http.Error(w, "bad symbol", http.StatusBadRequest)
		return
	}
	if symbol == "" {
		symbol = r.URL.Query().Get("symbol")
	}

	out := make([]validation.PublisherStatus, 0, len(all))
	for _, st := range all {
		if symbol == "" || st.Symbol == symbol {
			out = append(out, st)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
