package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.ComponentLogger("sqlite_storage"),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err)
	}

	maxConns := s.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// WAL lets the API read while the pipeline writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to set busy timeout", err)
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return runMigrations(s.db, s.migrations, questionMark, s.logger)
}

const sqliteInsertRecord = `
	INSERT INTO risk_records
	(timestamp, contract_address, creator_address, abi, risk_score, risk_reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

// SaveRecord archives a single record
func (s *SQLiteStorage) SaveRecord(ctx context.Context, record *models.OutputRecord) error {
	_, err := s.db.ExecContext(ctx, sqliteInsertRecord,
		record.Timestamp, record.ContractAddress, record.CreatorAddress,
		record.ABI, string(record.RiskScore), record.RiskReason, time.Now().Unix())
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save record", err)
	}
	return nil
}

// SaveRecords archives records in one transaction
func (s *SQLiteStorage) SaveRecords(ctx context.Context, records []*models.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertRecord)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp, r.ContractAddress, r.CreatorAddress,
			r.ABI, string(r.RiskScore), r.RiskReason, now); err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save record in batch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err)
	}
	return nil
}

// GetRecords lists archived records, newest first
func (s *SQLiteStorage) GetRecords(ctx context.Context, filter models.RecordFilter) ([]*models.OutputRecord, error) {
	query, args := recordSelect(filter, questionMark)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to query records", err)
	}
	defer rows.Close()

	records := []*models.OutputRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan record", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetRecordCount counts archived records matching filter
func (s *SQLiteStorage) GetRecordCount(ctx context.Context, filter models.RecordFilter) (int64, error) {
	where, args := recordWhere(filter, questionMark)

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM risk_records"+where, args...).Scan(&count); err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to count records", err)
	}
	return count, nil
}

// GetLatestProcessedBlock returns the discovery cursor
func (s *SQLiteStorage) GetLatestProcessedBlock() (uint64, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM system_state WHERE key = 'latest_processed_block'").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get latest processed block", err)
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Corrupt latest processed block", err)
	}
	return n, nil
}

// SetLatestProcessedBlock stores the discovery cursor
func (s *SQLiteStorage) SetLatestProcessedBlock(blockNumber uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO system_state (key, value, updated_at) VALUES ('latest_processed_block', ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		strconv.FormatUint(blockNumber, 10), time.Now().Unix())
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to set latest processed block", err)
	}
	return nil
}

// SaveBlacklist replaces the persisted blacklist snapshot
func (s *SQLiteStorage) SaveBlacklist(ctx context.Context, entries []models.BlacklistEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM blacklist_entries"); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to clear blacklist", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO blacklist_entries (address, comment, updated_at) VALUES (?, ?, ?)")
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, e := range entries {
		if e.Address == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, e.Address, e.Comment, now); err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save blacklist entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to commit blacklist", err)
	}
	return nil
}

// GetBlacklist loads the persisted blacklist snapshot
func (s *SQLiteStorage) GetBlacklist(ctx context.Context) ([]models.BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT address, comment FROM blacklist_entries ORDER BY address")
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to query blacklist", err)
	}
	defer rows.Close()

	var entries []models.BlacklistEntry
	for rows.Next() {
		var e models.BlacklistEntry
		if err := rows.Scan(&e.Address, &e.Comment); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan blacklist entry", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetStorageStats returns storage statistics
func (s *SQLiteStorage) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{RecordsByLevel: make(map[string]int64)}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM risk_records").Scan(&stats.TotalRecords); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get record count", err)
	}

	rows, err := s.db.Query("SELECT risk_score, COUNT(*) FROM risk_records GROUP BY risk_score")
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get level counts", err)
	}
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			rows.Close()
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan level count", err)
		}
		stats.RecordsByLevel[level] = n
	}
	rows.Close()

	if err := s.db.QueryRow("SELECT COUNT(*) FROM blacklist_entries").Scan(&stats.BlacklistSize); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get blacklist size", err)
	}

	var oldest, latest sql.NullInt64
	if err := s.db.QueryRow("SELECT MIN(created_at), MAX(created_at) FROM risk_records").Scan(&oldest, &latest); err == nil {
		stats.OldestRecord = unixPtr(oldest)
		stats.LatestRecord = unixPtr(latest)
	}

	var cleanup string
	if err := s.db.QueryRow("SELECT value FROM system_state WHERE key = 'last_cleanup'").Scan(&cleanup); err == nil {
		if secs, err := strconv.ParseInt(cleanup, 10, 64); err == nil {
			stats.LastCleanup = unixPtr(sql.NullInt64{Int64: secs, Valid: true})
		}
	}

	stats.LatestBlock, _ = s.GetLatestProcessedBlock()

	if err := s.db.QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&stats.DatabaseSize); err != nil {
		stats.DatabaseSize = 0
	}

	return stats, nil
}

// Cleanup removes archived records older than retentionDays
func (s *SQLiteStorage) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	now := time.Now()
	cutoff := now.AddDate(0, 0, -retentionDays).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin cleanup transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM risk_records WHERE created_at < ?", cutoff)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to cleanup old records", err)
	}
	deleted, _ := result.RowsAffected()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO system_state (key, value, updated_at) VALUES ('last_cleanup', ?, ?)",
		strconv.FormatInt(now.Unix(), 10), now.Unix())
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to update last cleanup time", err)
	}

	if err := tx.Commit(); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to commit cleanup transaction", err)
	}

	s.logger.WithFields(logrus.Fields{
		"records_deleted": deleted,
		"retention_days":  retentionDays,
	}).Info("Database cleanup completed")
	return nil
}

// GetHealth reports connectivity
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "sqlite",
		Healthy:     s.Ping() == nil,
		Details:     map[string]string{"path": s.config.ConnectionString},
		LastPing:    time.Now(),
	}
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
