package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		ChainID:     "1",
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{APIKey: "k"}, nil)
	assert.Error(t, err)
}

func TestGetSource(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "contract", q.Get("module"))
			assert.Equal(t, "getsourcecode", q.Get("action"))
			assert.Equal(t, "0xc1", q.Get("address"))
			assert.Equal(t, "test-key", q.Get("apikey"))
			assert.Equal(t, "1", q.Get("chainid"))
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"SourceCode":"contract T {}","ABI":"[{\"type\":\"function\"}]","ContractName":"T"}]}`))
		})

		src, err := c.GetSource(context.Background(), "0xc1")
		require.NoError(t, err)
		assert.True(t, src.SourceVerified)
		require.NotNil(t, src.InterfaceDefinition)
		assert.Equal(t, `[{"type":"function"}]`, *src.InterfaceDefinition)
		assert.Equal(t, "T", src.ContractName)
	})

	t.Run("unverified", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"SourceCode":"","ABI":"Contract source code not verified","ContractName":""}]}`))
		})

		src, err := c.GetSource(context.Background(), "0xc1")
		require.NoError(t, err)
		assert.False(t, src.SourceVerified)
		assert.Nil(t, src.InterfaceDefinition)
	})
}

func TestGetCreationTime(t *testing.T) {
	t.Run("earliest internal tx", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "txlistinternal", q.Get("action"))
			assert.Equal(t, "asc", q.Get("sort"))
			assert.Equal(t, "1", q.Get("page"))
			assert.Equal(t, "1", q.Get("offset"))
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"blockNumber":"100","timeStamp":"1700000000","hash":"0xh"}]}`))
		})

		ts, err := c.GetCreationTime(context.Background(), "0xc1")
		require.NoError(t, err)
		require.NotNil(t, ts)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), *ts)
	})

	t.Run("no transactions", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
		})

		ts, err := c.GetCreationTime(context.Background(), "0xc1")
		require.NoError(t, err)
		assert.Nil(t, ts)
	})
}

func TestGetTransactionCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "proxy", q.Get("module"))
		assert.Equal(t, "eth_getTransactionCount", q.Get("action"))
		assert.Equal(t, "latest", q.Get("tag"))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1b"}`))
	})

	count, err := c.GetTransactionCount(context.Background(), "0xc1")
	require.NoError(t, err)
	require.NotNil(t, count)
	assert.Equal(t, uint64(27), *count)
}

func TestBlockNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eth_blockNumber", r.URL.Query().Get("action"))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":83,"result":"0x10d4f"}`))
	})

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(68943), n)
}

func TestGetDeployments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "getLogs", q.Get("action"))
		assert.Equal(t, "100", q.Get("fromBlock"))
		assert.Equal(t, "200", q.Get("toBlock"))
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
			{"contractAddress":"0xc1","creatorAddress":"0xd1","blockNumber":"0x64","transactionHash":"0xt1"},
			{"address":"0xc2","from":"0xd2","blockNumber":"0x65"},
			{"blockNumber":"0x66"}
		]}`))
	})

	candidates, err := c.GetDeployments(context.Background(), 100, 200)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "0xc1", candidates[0].ContractAddress)
	assert.Equal(t, "0xd1", candidates[0].CreatorAddress)
	assert.Equal(t, uint64(100), candidates[0].BlockNumber)
	assert.Equal(t, "0xt1", candidates[0].TxHash)

	assert.Equal(t, "0xc2", candidates[1].ContractAddress)
	assert.Equal(t, "0xd2", candidates[1].CreatorAddress)
}

func TestRetryAndErrors(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		var calls int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x2"}`))
		})

		count, err := c.GetTransactionCount(context.Background(), "0xc1")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), *count)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("rate limit envelope is retried then surfaced", func(t *testing.T) {
		var calls int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`))
		})

		_, err := c.GetSource(context.Background(), "0xc1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRateLimited))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusForbidden)
		})

		_, err := c.GetSource(context.Background(), "0xc1")
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("invalid key", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Invalid API Key"}`))
		})

		_, err := c.GetTransactionCount(context.Background(), "0xc1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid API Key")
	})

	t.Run("canceled context", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.GetSource(ctx, "0xc1")
		assert.Error(t, err)
	})
}
