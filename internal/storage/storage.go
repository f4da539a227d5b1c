package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
)

// Storage defines the persistence operations used by the watcher
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Record archive
	SaveRecord(ctx context.Context, record *models.OutputRecord) error
	SaveRecords(ctx context.Context, records []*models.OutputRecord) error
	GetRecords(ctx context.Context, filter models.RecordFilter) ([]*models.OutputRecord, error)
	GetRecordCount(ctx context.Context, filter models.RecordFilter) (int64, error)

	// Discovery cursor
	GetLatestProcessedBlock() (uint64, error)
	SetLatestProcessedBlock(blockNumber uint64) error

	// Blacklist snapshot
	SaveBlacklist(ctx context.Context, entries []models.BlacklistEntry) error
	GetBlacklist(ctx context.Context) ([]models.BlacklistEntry, error)

	// Statistics and maintenance
	GetStorageStats() (*StorageStats, error)
	GetHealth() *StorageHealth
	Cleanup(ctx context.Context, retentionDays int) error
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalRecords   int64            `json:"total_records"`
	RecordsByLevel map[string]int64 `json:"records_by_level"`
	BlacklistSize  int64            `json:"blacklist_size"`
	OldestRecord   *time.Time       `json:"oldest_record,omitempty"`
	LatestRecord   *time.Time       `json:"latest_record,omitempty"`
	DatabaseSize   int64            `json:"database_size_bytes"`
	LastCleanup    *time.Time       `json:"last_cleanup,omitempty"`
	LatestBlock    uint64           `json:"latest_processed_block"`
}

// StorageHealth reports backend reachability
type StorageHealth struct {
	StorageType string            `json:"storage_type"`
	Healthy     bool              `json:"healthy"`
	Details     map[string]string `json:"details,omitempty"`
	LastPing    time.Time         `json:"last_ping"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
}
