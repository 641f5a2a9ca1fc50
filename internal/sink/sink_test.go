package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/storage/memory"
	"oracle-monitor/internal/validation"
)

var testPublisher = domain.PublicKey{7}

func deviationEvent() domain.ValidationEvent {
	return domain.ValidationEvent{
		Kind:      domain.EventPriceDeviation,
		Symbol:    "BTC/USD",
		Publisher: testPublisher,
		Slot:      1234,
		Aggregate: domain.PriceInfo{Price: 100, Confidence: 1.5, Status: domain.PriceStatusTrading},
		Quote:     domain.PriceInfo{Price: 130, Confidence: 2, Status: domain.PriceStatusTrading},
	}
}

func TestFormatLine(t *testing.T) {
	pub := testPublisher.String()

	assert.Equal(t, "1234 BTC/USD "+pub+" price-deviation aggregate: 100 ± 1.5 publisher: 130 ± 2",
		FormatLine(deviationEvent()))

	stop := deviationEvent()
	stop.Kind = domain.EventStopPublish
	assert.Equal(t, "1234 BTC/USD "+pub+" stop-publish", FormatLine(stop))

	low := deviationEvent()
	low.Kind = domain.EventLowSlotHitRate
	low.HitRate = 0.2919
	assert.Equal(t, "1234 BTC/USD "+pub+" low-slot-hit-rate hit rate: 29.2%", FormatLine(low))
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewLogSink(zap.New(core))

	s.OnValidationEvent("BTC/USD", deviationEvent())
	start := deviationEvent()
	start.Kind = domain.EventStartPublish
	s.OnValidationEvent("BTC/USD", start)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "price-deviation", entries[0].ContextMap()["kind"])
	assert.Equal(t, 130.0, entries[0].ContextMap()["publisher_price"])
	assert.Equal(t, zap.InfoLevel, entries[1].Level)
}

func TestMetricsSink(t *testing.T) {
	m := observability.NewMetrics("sinktest", prometheus.NewRegistry())
	s := NewMetricsSink(m)

	s.OnValidationEvent("BTC/USD", deviationEvent())
	s.OnValidationEvent("BTC/USD", deviationEvent())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidationEvents.WithLabelValues("price-deviation", "BTC/USD")))

	s.ObserveState("BTC/USD", validation.PublisherStatus{Symbol: "BTC/USD", Publisher: testPublisher, Active: true, HitRate: 0.8})
	pub := testPublisher.String()
	assert.Equal(t, 0.8, testutil.ToFloat64(m.PublisherHitRate.WithLabelValues("BTC/USD", pub)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublisherActive.WithLabelValues("BTC/USD", pub)))

	s.ObserveState("BTC/USD", validation.PublisherStatus{Symbol: "BTC/USD", Publisher: testPublisher, Active: false, HitRate: 0.7})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PublisherActive.WithLabelValues("BTC/USD", pub)))
}

func TestWebhookSink_Delivers(t *testing.T) {
	var mu sync.Mutex
	var got []WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		var p WebhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewWebhookSink(WebhookConfig{
		URL:        server.URL,
		InstanceID: "instance-1",
		Headers:    map[string]string{"X-Token": "secret"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	s.OnValidationEvent("BTC/USD", deviationEvent())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	p := got[0]
	assert.Equal(t, "instance-1", p.InstanceID)
	assert.Equal(t, "price-deviation", p.Kind)
	assert.Equal(t, testPublisher.String(), p.Publisher)
	assert.Equal(t, 130.0, p.PublisherPrice)
	assert.Equal(t, FormatLine(deviationEvent()), p.Message)
}

func TestWebhookSink_DropsWhenQueueFull(t *testing.T) {
	s := NewWebhookSink(WebhookConfig{URL: "http://127.0.0.1:0", QueueSize: 1})

	// Run is not started, so the second event cannot be queued.
	s.OnValidationEvent("BTC/USD", deviationEvent())
	s.OnValidationEvent("BTC/USD", deviationEvent())

	assert.Len(t, s.queue, 1)
}

func TestWebhookSink_SendReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewWebhookSink(WebhookConfig{URL: server.URL})
	err := s.send(context.Background(), WebhookPayload{Kind: "stop-publish"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestStoreSink_FlushesOnBatchSizeAndShutdown(t *testing.T) {
	store := memory.NewEventStore()
	now := time.UnixMilli(1_700_000_000_000)
	s := NewStoreSink(store, StoreConfig{
		InstanceID:    "instance-1",
		BatchSize:     2,
		FlushInterval: time.Hour,
		Now:           func() time.Time { return now },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	s.OnValidationEvent("BTC/USD", deviationEvent())
	s.OnValidationEvent("BTC/USD", deviationEvent())
	require.Eventually(t, func() bool { return store.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	s.OnValidationEvent("BTC/USD", deviationEvent())
	cancel()
	<-done
	assert.Equal(t, 3, store.Len())

	events, err := store.GetBySymbol(context.Background(), "BTC/USD", now.UnixMilli(), now.UnixMilli())
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, "instance-1", e.InstanceID)
		assert.Equal(t, domain.EventPriceDeviation, e.Kind)
		assert.NotEmpty(t, e.EventID)
	}
}

func TestStoreSink_FlushesOnInterval(t *testing.T) {
	store := memory.NewEventStore()
	s := NewStoreSink(store, StoreConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	s.OnValidationEvent("BTC/USD", deviationEvent())
	require.Eventually(t, func() bool { return store.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}
