package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagersAreIndependent(t *testing.T) {
	a := NewManager()
	b := NewManager()

	a.GetPrometheusMetrics().RecordVerdict("high")
	a.GetPrometheusMetrics().RecordVerdict("high")
	b.GetPrometheusMetrics().RecordVerdict("high")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.GetPrometheusMetrics().VerdictsTotal.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.GetPrometheusMetrics().VerdictsTotal.WithLabelValues("high")))
}

func TestRecordHelpers(t *testing.T) {
	m := NewManager().GetPrometheusMetrics()

	m.RecordFetch("source", 10*time.Millisecond, nil)
	m.RecordFetch("source", 10*time.Millisecond, errors.New("timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailuresTotal.WithLabelValues("source")))

	m.RecordDelivery("http", time.Millisecond, nil)
	m.RecordDelivery("http", time.Millisecond, errors.New("503"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailuresTotal.WithLabelValues("http")))

	m.UpdateBlacklist(42, nil)
	m.UpdateBlacklist(42, errors.New("feed down"))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.BlacklistSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlacklistRefreshFailures))
}

func TestHandlerExposesMetrics(t *testing.T) {
	mgr := NewManager()
	mgr.GetPrometheusMetrics().RecordCandidatesDiscovered("etherscan", 3)
	mgr.UpdateSystemMetrics()

	rec := httptest.NewRecorder()
	mgr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `risk_watcher_candidates_discovered_total{source="etherscan"} 3`)
	assert.Contains(t, body, "risk_watcher_goroutines")
}
