package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-monitor/internal/solana"
)

func TestRunner_AgainstHTTPNode(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	var fetched []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mu.Lock()
		calls[req.Method]++
		if req.Method == "getAccountInfo" && len(req.Params) > 0 {
			fetched = append(fetched, req.Params[0].(string))
		}
		mu.Unlock()

		var result any
		switch req.Method {
		case "getSlot":
			result = 1234
		case "getProgramAccounts":
			result = map[string]any{
				"context": map[string]any{"slot": 1234},
				"value": []map[string]any{
					{"pubkey": "priceA", "account": map[string]any{"owner": "program", "data": []string{"", "base64"}}},
				},
			}
		case "getAccountInfo":
			result = map[string]any{
				"context": map[string]any{"slot": 1234},
				"value":   map[string]any{"owner": "program", "data": []string{"", "base64"}},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Warmup = 2
	cfg.Samples = 3
	cfg.Loads = []float64{0, 100}
	var out bytes.Buffer

	rpc := solana.NewHTTPClient(server.URL, solana.WithCommitment(solana.CommitmentConfirmed))
	results, err := NewRunner(rpc, cfg, &out).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 6)
	for _, res := range results {
		assert.Equal(t, 3, res.Stats.Samples, res.Method)
		assert.Zero(t, res.Stats.Errors, res.Method)
	}

	mu.Lock()
	defer mu.Unlock()
	// warmup + one timed run per load level; background load only adds more
	assert.GreaterOrEqual(t, calls["getSlot"], 2+3*2)
	// account lookup + timed runs
	assert.Equal(t, 1+3*2, calls["getProgramAccounts"])
	assert.Equal(t, 3*2, calls["getAccountInfo"])
	for _, k := range fetched {
		assert.Equal(t, "priceA", k)
	}
	assert.Contains(t, out.String(), "  getSlot: ")
}
