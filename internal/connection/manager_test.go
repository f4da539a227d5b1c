package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartdevs17/contract-risk-watcher/internal/config"
	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// fakeNode answers eth_blockNumber and eth_chainId and counts calls per method
type fakeNode struct {
	chainID string
	block   string
	calls   map[string]*int64
}

func newFakeNode(t *testing.T, chainID, block string) (*fakeNode, *httptest.Server) {
	t.Helper()
	n := &fakeNode{
		chainID: chainID,
		block:   block,
		calls: map[string]*int64{
			"eth_blockNumber": new(int64),
			"eth_chainId":     new(int64),
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var result string
		switch req.Method {
		case "eth_blockNumber":
			result = n.block
		case "eth_chainId":
			result = n.chainID
		default:
			http.Error(w, "unsupported method", http.StatusBadRequest)
			return
		}
		atomic.AddInt64(n.calls[req.Method], 1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(srv.Close)
	return n, srv
}

func newDeadNode(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "node down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFailoverToBackupNode(t *testing.T) {
	dead := newDeadNode(t)
	_, good := newFakeNode(t, "0x1e", "0x10")

	cm := NewConnectionManager(&config.RPCConfig{
		NodeURL:        dead.URL,
		BackupNodes:    []string{good.URL},
		RequestTimeout: time.Second,
		RetryAttempts:  1,
	}, metrics.NewManager())
	defer cm.Close()

	block, err := cm.GetLatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), block)
	assert.True(t, cm.IsConnected())

	stats := cm.Stats()
	assert.Equal(t, good.URL, stats.CurrentURL)
	assert.Equal(t, uint64(1), stats.FailedRequests)
	assert.Equal(t, uint64(16), stats.LatestBlock)
}

func TestAllNodesDown(t *testing.T) {
	cm := NewConnectionManager(&config.RPCConfig{
		NodeURL:        newDeadNode(t).URL,
		BackupNodes:    []string{newDeadNode(t).URL},
		RequestTimeout: time.Second,
		RetryAttempts:  2,
		RetryDelay:     time.Millisecond,
	}, nil)
	defer cm.Close()

	_, err := cm.GetClient(context.Background())
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeConnection))
	assert.False(t, cm.IsConnected())
	assert.Equal(t, uint64(4), cm.Stats().FailedRequests)
}

func TestHealthCheck(t *testing.T) {
	_, node := newFakeNode(t, "0x1e", "0x2a")

	t.Run("matching chain", func(t *testing.T) {
		cm := NewConnectionManager(&config.RPCConfig{NodeURL: node.URL, ChainID: 30}, nil)
		defer cm.Close()

		require.NoError(t, cm.HealthCheck(context.Background()))
		stats := cm.Stats()
		assert.True(t, stats.IsHealthy)
		assert.Equal(t, uint64(30), stats.ChainID)
		assert.Equal(t, uint64(42), stats.LatestBlock)
	})

	t.Run("chain mismatch", func(t *testing.T) {
		cm := NewConnectionManager(&config.RPCConfig{NodeURL: node.URL, ChainID: 1}, nil)
		defer cm.Close()

		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 1, got 30")
		assert.False(t, cm.IsConnected())
	})
}

func TestChainClientCachesChainID(t *testing.T) {
	node, srv := newFakeNode(t, "0x1", "0x5")
	cm := NewConnectionManager(&config.RPCConfig{NodeURL: srv.URL}, nil)
	defer cm.Close()

	cc := NewChainClient(cm, metrics.NewManager())
	for i := 0; i < 3; i++ {
		id, err := cc.ChainID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), id.Int64())
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(node.calls["eth_chainId"]))

	block, err := cc.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), block)
}
