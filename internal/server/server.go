// Package server exposes the watcher's REST API, live record stream and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/blacklist"
	"github.com/smartdevs17/contract-risk-watcher/internal/config"
	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/internal/monitor"
	"github.com/smartdevs17/contract-risk-watcher/internal/processor"
	"github.com/smartdevs17/contract-risk-watcher/internal/sink"
	"github.com/smartdevs17/contract-risk-watcher/internal/storage"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// Assessor runs on-demand assessments
type Assessor interface {
	AssessOne(ctx context.Context, c models.ContractCandidate) (*models.OutputRecord, error)
	GetStats() processor.Stats
}

// BlacklistStore is the blacklist view the API needs
type BlacklistStore interface {
	Refresh(ctx context.Context) ([]models.BlacklistEntry, error)
	Snapshot() *blacklist.Snapshot
	GetStats() blacklist.StoreStats
}

// DiscoveryMonitor is the monitor view the API needs
type DiscoveryMonitor interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	GetStats() *monitor.MonitorStats
	GetHealth() *monitor.HealthStatus
}

// Dependencies are the components served by the API. Any may be nil
// except where a route needs it; such routes answer 503.
type Dependencies struct {
	Storage        storage.Storage
	Assessor       Assessor
	Blacklist      BlacklistStore
	Monitor        DiscoveryMonitor
	Sinks          *sink.Multi
	Hub            *sink.Hub
	MetricsManager *metrics.Manager
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config  *config.ServerConfig
	version string
	deps    Dependencies
	server  *http.Server
	router  *mux.Router
	logger  *logrus.Entry

	// baseCtx outlives individual requests; the monitor is started on it
	baseCtx    context.Context
	baseCancel context.CancelFunc
	startTime  time.Time
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg *config.ServerConfig, version string, deps Dependencies) *HTTPServer {
	baseCtx, baseCancel := context.WithCancel(context.Background())

	s := &HTTPServer{
		config:     cfg,
		version:    version,
		deps:       deps,
		logger:     utils.ComponentLogger("http_server"),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		startTime:  time.Now(),
	}

	if deps.Hub != nil && deps.MetricsManager != nil {
		deps.Hub.OnSubscriberCount(deps.MetricsManager.GetPrometheusMetrics().UpdateStreamSubscribers)
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler returns the root handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.deps.MetricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics && s.deps.MetricsManager != nil {
		s.router.Handle("/metrics", s.deps.MetricsManager.Handler())
	}
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// Records
	api.HandleFunc("/records", s.listRecordsHandler).Methods("GET")
	if s.config.EnableStream {
		api.HandleFunc("/records/stream", s.streamHandler).Methods("GET")
	}

	// Blacklist
	api.HandleFunc("/blacklist", s.listBlacklistHandler).Methods("GET")
	api.HandleFunc("/blacklist/refresh", s.refreshBlacklistHandler).Methods("POST")

	// On-demand assessment
	api.HandleFunc("/assess/{address}", s.assessHandler).Methods("GET")

	// Monitor
	api.HandleFunc("/monitor/status", s.monitorStatusHandler).Methods("GET")
	api.HandleFunc("/monitor/start", s.startMonitorHandler).Methods("POST")
	api.HandleFunc("/monitor/stop", s.stopMonitorHandler).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
		"stream_enabled":  s.config.EnableStream,
	}).Info("Starting HTTP server")

	if s.deps.MetricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to fail on binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.updateComponentMetrics()
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.deps.MetricsManager.UpdateSystemMetrics()
	pm := s.deps.MetricsManager.GetPrometheusMetrics()
	pm.UpdateApplicationUptime(s.startTime)
	if s.deps.Storage != nil {
		pm.UpdateComponentHealth("storage", s.deps.Storage.GetHealth().Healthy)
	}
	if s.deps.Monitor != nil {
		pm.UpdateComponentHealth("monitor", s.deps.Monitor.GetHealth().Healthy)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	s.baseCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   s.version,
		"uptime":    time.Since(s.startTime).String(),
	})
}

// detailedHealthHandler returns per-component health
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := true
	components := map[string]interface{}{}

	if s.deps.Storage != nil {
		h := s.deps.Storage.GetHealth()
		healthy = healthy && h.Healthy
		components["storage"] = h
	}
	if s.deps.Monitor != nil {
		h := s.deps.Monitor.GetHealth()
		healthy = healthy && h.Healthy
		components["monitor"] = h
	}
	if s.deps.Blacklist != nil {
		components["blacklist"] = s.deps.Blacklist.GetStats()
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"version":    s.version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp": time.Now().UTC(),
	}

	if s.deps.Storage != nil {
		storageStats, err := s.deps.Storage.GetStorageStats()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
			return
		}
		stats["storage"] = storageStats
	}
	if s.deps.Assessor != nil {
		stats["pipeline"] = s.deps.Assessor.GetStats()
	}
	if s.deps.Monitor != nil {
		stats["monitor"] = s.deps.Monitor.GetStats()
	}
	if s.deps.Blacklist != nil {
		stats["blacklist"] = s.deps.Blacklist.GetStats()
	}
	if s.deps.Sinks != nil {
		stats["sinks"] = s.deps.Sinks.GetStats()
	}
	if s.deps.Hub != nil {
		stats["stream"] = map[string]interface{}{
			"subscribers": s.deps.Hub.Subscribers(),
			"dropped":     s.deps.Hub.Dropped(),
		}
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Record Handlers

// listRecordsHandler lists archived records, newest first
func (s *HTTPServer) listRecordsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not configured", nil)
		return
	}

	q := r.URL.Query()
	filter := models.RecordFilter{Limit: 50}

	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		if l > 1000 {
			l = 1000
		}
		filter.Limit = l
	}
	if v := q.Get("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil || o < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid offset", err)
			return
		}
		filter.Offset = o
	}
	if v := q.Get("risk_score"); v != "" {
		level, err := models.ParseRiskLevel(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid risk_score", err)
			return
		}
		filter.RiskScore = &level
	}
	if v := q.Get("contract"); v != "" {
		filter.ContractAddress = &v
	}
	if v := q.Get("creator"); v != "" {
		filter.CreatorAddress = &v
	}

	records, err := s.deps.Storage.GetRecords(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve records", err)
		return
	}
	total, err := s.deps.Storage.GetRecordCount(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count records", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
		"total":   total,
	})
}

// Blacklist Handlers

// listBlacklistHandler returns the current blacklist
func (s *HTTPServer) listBlacklistHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Blacklist == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Blacklist not configured", nil)
		return
	}

	snap := s.deps.Blacklist.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":   snap.Entries(),
		"count":     snap.Len(),
		"loaded_at": snap.LoadedAt(),
	})
}

// refreshBlacklistHandler re-fetches the blacklist feed
func (s *HTTPServer) refreshBlacklistHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Blacklist == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Blacklist not configured", nil)
		return
	}

	entries, err := s.deps.Blacklist.Refresh(r.Context())
	if s.deps.MetricsManager != nil {
		s.deps.MetricsManager.GetPrometheusMetrics().UpdateBlacklist(s.deps.Blacklist.Snapshot().Len(), err)
	}
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "Blacklist refresh failed, previous contents kept", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Blacklist refreshed",
		"count":   len(entries),
	})
}

// assessHandler assesses a single contract on demand
func (s *HTTPServer) assessHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Assessor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Assessment not available", nil)
		return
	}

	address := strings.ToLower(mux.Vars(r)["address"])
	if !utils.IsValidAddress(address) {
		s.writeError(w, http.StatusBadRequest, "Invalid contract address", nil)
		return
	}

	candidate := models.ContractCandidate{ContractAddress: address}
	if creator := r.URL.Query().Get("creator"); creator != "" {
		if !utils.IsValidAddress(creator) {
			s.writeError(w, http.StatusBadRequest, "Invalid creator address", nil)
			return
		}
		candidate.CreatorAddress = strings.ToLower(creator)
	}

	record, err := s.deps.Assessor.AssessOne(r.Context(), candidate)
	if err != nil {
		code := http.StatusBadGateway
		if utils.HasCode(err, utils.ErrCodeValidation) {
			code = http.StatusBadRequest
		}
		s.writeError(w, code, "Assessment failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

// Monitor Handlers

// monitorStatusHandler gets monitor status
func (s *HTTPServer) monitorStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Monitor not configured", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":   s.deps.Monitor.IsRunning(),
		"health":    s.deps.Monitor.GetHealth(),
		"stats":     s.deps.Monitor.GetStats(),
		"timestamp": time.Now().UTC(),
	})
}

// startMonitorHandler starts the monitor
func (s *HTTPServer) startMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Monitor not configured", nil)
		return
	}
	if s.deps.Monitor.IsRunning() {
		s.writeError(w, http.StatusConflict, "Monitor is already running", nil)
		return
	}

	if err := s.deps.Monitor.Start(s.baseCtx); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to start monitor", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Monitor started successfully",
	})
}

// stopMonitorHandler stops the monitor
func (s *HTTPServer) stopMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Monitor not configured", nil)
		return
	}
	if !s.deps.Monitor.IsRunning() {
		s.writeError(w, http.StatusConflict, "Monitor is not running", nil)
		return
	}

	if err := s.deps.Monitor.Stop(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to stop monitor", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Monitor stopped successfully",
	})
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Warn("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
