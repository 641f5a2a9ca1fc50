package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func accountNotification(subID int64, slot int64, data []byte) wsNotification {
	return wsNotification{
		JSONRPC: "2.0",
		Method:  "accountNotification",
		Params: &wsNotificationParams{
			Subscription: subID,
			Result: wsNotificationResult{
				Context: &rpcContext{Slot: slot},
				Value: accountValue{
					Owner: "program1",
					Data:  []string{base64.StdEncoding.EncodeToString(data), "base64"},
				},
			},
		},
	}
}

func TestWSClient_Connect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestWSClient_SubscribeAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Method != "accountSubscribe" {
			t.Errorf("expected accountSubscribe, got %s", req.Method)
		}
		if len(req.Params) == 0 || req.Params[0] != "acct1" {
			t.Errorf("unexpected params: %v", req.Params)
		}

		if err := c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: 12345}); err != nil {
			t.Errorf("write response: %v", err)
			return
		}

		time.Sleep(50 * time.Millisecond)
		if err := c.WriteJSON(accountNotification(12345, 100, []byte("payload"))); err != nil {
			t.Errorf("write notification: %v", err)
			return
		}

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if err := client.SubscribeAccount(ctx, "acct1"); err != nil {
		t.Fatalf("SubscribeAccount: %v", err)
	}

	select {
	case n := <-client.Notifications():
		if n.Pubkey != "acct1" {
			t.Errorf("expected acct1, got %s", n.Pubkey)
		}
		if n.Slot != 100 {
			t.Errorf("expected slot 100, got %d", n.Slot)
		}
		if string(n.Account.Data) != "payload" {
			t.Errorf("expected payload, got %q", n.Account.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_SubscribeAccount_Idempotent(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if json.Unmarshal(msg, &req) != nil {
				continue
			}
			n := requests.Add(1)
			c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: int64(n)})
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	for i := 0; i < 3; i++ {
		if err := client.SubscribeAccount(ctx, "acct1"); err != nil {
			t.Fatalf("SubscribeAccount: %v", err)
		}
	}

	if requests.Load() != 1 {
		t.Errorf("expected 1 subscribe request, got %d", requests.Load())
	}
}

func TestWSClient_UnknownSubscriptionIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		c.WriteJSON(accountNotification(999, 5, []byte("x")))

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	select {
	case n := <-client.Notifications():
		t.Errorf("unexpected notification: %+v", n)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWSClient_ResubscribeAfterReconnect(t *testing.T) {
	var connections atomic.Int32
	var mu sync.Mutex
	subscribed := make(map[int32][]string)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		conn := connections.Add(1)
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if json.Unmarshal(msg, &req) != nil {
				continue
			}
			key, _ := req.Params[0].(string)
			mu.Lock()
			subscribed[conn] = append(subscribed[conn], key)
			mu.Unlock()

			subID := int64(conn)*100 + int64(req.ID)
			c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: subID})

			if conn == 1 {
				// Drop the first connection right after confirming.
				time.Sleep(20 * time.Millisecond)
				return
			}
			time.Sleep(50 * time.Millisecond)
			c.WriteJSON(accountNotification(subID, 200, []byte("after")))
		}
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.ReadTimeout = time.Second

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), &cfg)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if err := client.SubscribeAccount(ctx, "acct1"); err != nil {
		t.Fatalf("SubscribeAccount: %v", err)
	}

	select {
	case n := <-client.Notifications():
		if n.Pubkey != "acct1" || n.Slot != 200 {
			t.Errorf("unexpected notification: %+v", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for notification after reconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	if got := subscribed[2]; len(got) != 1 || got[0] != "acct1" {
		t.Errorf("expected acct1 resubscribed on second connection, got %v", got)
	}
}

func TestWSClient_Close(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, ok := <-client.Notifications(); ok {
		t.Error("notifications channel should be closed")
	}
	if err := client.SubscribeAccount(context.Background(), "acct1"); err == nil {
		t.Error("expected error subscribing on closed client")
	}
}

func TestWSClient_SubscribeSpanningReconnect(t *testing.T) {
	var connections atomic.Int32
	var mu sync.Mutex
	perConn := make(map[int32]int)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		conn := connections.Add(1)
		if conn == 1 {
			// Swallow the request and drop the connection unconfirmed.
			c.ReadMessage()
			time.Sleep(50 * time.Millisecond)
			return
		}

		var writeMu sync.Mutex
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if json.Unmarshal(msg, &req) != nil {
				continue
			}
			mu.Lock()
			perConn[conn]++
			mu.Unlock()

			subID := int64(1000 + req.ID)
			writeMu.Lock()
			c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: subID})
			writeMu.Unlock()

			go func() {
				time.Sleep(300 * time.Millisecond)
				writeMu.Lock()
				defer writeMu.Unlock()
				c.WriteJSON(accountNotification(subID, 500, []byte("change")))
			}()
		}
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.ReadTimeout = time.Second
	cfg.SubscribeTimeout = 200 * time.Millisecond

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), &cfg)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	// The transport re-issues a subscribe that failed; both calls must leave
	// one live subscription behind.
	if err := client.SubscribeAccount(ctx, "acct1"); err != nil {
		time.Sleep(50 * time.Millisecond)
		if err := client.SubscribeAccount(ctx, "acct1"); err != nil {
			t.Fatalf("SubscribeAccount retry: %v", err)
		}
	}
	if err := client.SubscribeAccount(ctx, "acct1"); err != nil {
		t.Fatalf("SubscribeAccount repeat: %v", err)
	}

	delivered := 0
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case n := <-client.Notifications():
			if n.Pubkey != "acct1" || n.Slot != 500 {
				t.Errorf("unexpected notification: %+v", n)
			}
			delivered++
		case <-deadline:
			break loop
		}
	}

	if delivered != 1 {
		t.Errorf("expected one change delivered once, got %d deliveries", delivered)
	}
	mu.Lock()
	defer mu.Unlock()
	if perConn[2] != 1 {
		t.Errorf("expected exactly one subscription on the second connection, got %d", perConn[2])
	}
}

func TestWSClient_RepeatedNotificationDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		json.Unmarshal(msg, &req)
		c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: 7})

		time.Sleep(20 * time.Millisecond)
		c.WriteJSON(accountNotification(7, 300, []byte("a")))
		c.WriteJSON(accountNotification(7, 300, []byte("a")))
		c.WriteJSON(accountNotification(7, 300, []byte("b")))
		c.WriteJSON(accountNotification(7, 301, []byte("b")))

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if err := client.SubscribeAccount(ctx, "acct1"); err != nil {
		t.Fatalf("SubscribeAccount: %v", err)
	}

	want := []struct {
		slot int64
		data string
	}{{300, "a"}, {300, "b"}, {301, "b"}}
	for i, w := range want {
		select {
		case n := <-client.Notifications():
			if n.Slot != w.slot || string(n.Account.Data) != w.data {
				t.Errorf("notification %d: got slot %d data %q, want slot %d data %q",
					i, n.Slot, n.Account.Data, w.slot, w.data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for notification %d", i)
		}
	}

	select {
	case n := <-client.Notifications():
		t.Errorf("unexpected extra notification: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSClient_DialRetriesUntilServerAccepts(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 20 * time.Millisecond

	client, err := NewWSClient(context.Background(), wsURL(server), &cfg)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 dial attempts, got %d", got)
	}
}

func TestWSClient_DialGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 20 * time.Millisecond
	cfg.DialMaxElapsed = 100 * time.Millisecond

	start := time.Now()
	if _, err := NewWSClient(context.Background(), wsURL(server), &cfg); err == nil {
		t.Fatal("expected dial error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("dial retried for %v, expected to stop near 100ms", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.DialMaxElapsed = time.Minute
	if _, err := NewWSClient(ctx, wsURL(server), &cfg); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
