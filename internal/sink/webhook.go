package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/observability"
)

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	QueueSize  int
	InstanceID string
	Headers    map[string]string
	Logger     *zap.Logger
}

// WebhookPayload is the JSON body posted for each event.
type WebhookPayload struct {
	InstanceID          string  `json:"instance_id"`
	Kind                string  `json:"kind"`
	Symbol              string  `json:"symbol"`
	Publisher           string  `json:"publisher"`
	Slot                int64   `json:"slot"`
	HitRate             float64 `json:"hit_rate,omitempty"`
	AggregatePrice      float64 `json:"aggregate_price"`
	AggregateConfidence float64 `json:"aggregate_confidence"`
	PublisherPrice      float64 `json:"publisher_price"`
	PublisherConfidence float64 `json:"publisher_confidence"`
	Message             string  `json:"message"`
}

// WebhookSink posts events to an HTTP endpoint from a background worker.
// Events arriving while the queue is full are dropped.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
	logger *zap.Logger
	queue  chan WebhookPayload
}

// NewWebhookSink creates a webhook sink. Call Run to start delivery.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("webhook"),
		queue:  make(chan WebhookPayload, cfg.QueueSize),
	}
}

// OnValidationEvent implements validation.Sink. It never blocks.
func (s *WebhookSink) OnValidationEvent(symbol string, ev domain.ValidationEvent) {
	payload := WebhookPayload{
		InstanceID:          s.cfg.InstanceID,
		Kind:                ev.Kind.String(),
		Symbol:              symbol,
		Publisher:           ev.Publisher.String(),
		Slot:                ev.Slot,
		HitRate:             ev.HitRate,
		AggregatePrice:      ev.Aggregate.Price,
		AggregateConfidence: ev.Aggregate.Confidence,
		PublisherPrice:      ev.Quote.Price,
		PublisherConfidence: ev.Quote.Confidence,
		Message:             FormatLine(ev),
	}

	select {
	case s.queue <- payload:
	default:
		observability.RecordSinkDropped("webhook")
		s.logger.Warn("webhook queue full, dropping event",
			zap.String("kind", payload.Kind),
			zap.String("symbol", symbol))
	}
}

// Run delivers queued events until ctx is cancelled. Events still queued at
// cancellation are discarded.
func (s *WebhookSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-s.queue:
			if err := s.send(ctx, p); err != nil {
				observability.RecordSinkDropped("webhook")
				s.logger.Warn("webhook delivery failed",
					zap.String("kind", p.Kind),
					zap.String("symbol", p.Symbol),
					zap.Error(err))
			}
		}
	}
}

func (s *WebhookSink) send(ctx context.Context, p WebhookPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "oracle-monitor/1.0")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
