package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) observe(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// SaveRecord saves a record and records metrics
func (s *StorageWithMetrics) SaveRecord(ctx context.Context, record *models.OutputRecord) error {
	start := time.Now()
	err := s.Storage.SaveRecord(ctx, record)
	s.observe("insert", "risk_records", start, err)
	return err
}

// SaveRecords saves a batch of records and records metrics
func (s *StorageWithMetrics) SaveRecords(ctx context.Context, records []*models.OutputRecord) error {
	start := time.Now()
	err := s.Storage.SaveRecords(ctx, records)
	s.observe("batch_insert", "risk_records", start, err)
	return err
}

// GetRecords queries records and records metrics
func (s *StorageWithMetrics) GetRecords(ctx context.Context, filter models.RecordFilter) ([]*models.OutputRecord, error) {
	start := time.Now()
	records, err := s.Storage.GetRecords(ctx, filter)
	s.observe("select", "risk_records", start, err)
	return records, err
}

// SaveBlacklist replaces the blacklist snapshot and records metrics
func (s *StorageWithMetrics) SaveBlacklist(ctx context.Context, entries []models.BlacklistEntry) error {
	start := time.Now()
	err := s.Storage.SaveBlacklist(ctx, entries)
	s.observe("replace", "blacklist_entries", start, err)
	return err
}

// SetLatestProcessedBlock stores the cursor and records metrics
func (s *StorageWithMetrics) SetLatestProcessedBlock(blockNumber uint64) error {
	start := time.Now()
	err := s.Storage.SetLatestProcessedBlock(blockNumber)
	s.observe("upsert", "system_state", start, err)
	return err
}
