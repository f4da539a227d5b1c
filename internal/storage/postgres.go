package storage

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.ComponentLogger("postgres_storage"),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	connector, err := pq.NewConnector(p.config.ConnectionString)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Invalid PostgreSQL connection string", err)
	}
	db := sql.OpenDB(connector)

	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
		db.SetMaxIdleConns(p.config.MaxConnections / 2)
	}
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err)
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")
	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return runMigrations(p.db, p.migrations, dollar, p.logger)
}

// SaveRecord archives a single record
func (p *PostgreSQLStorage) SaveRecord(ctx context.Context, record *models.OutputRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_records
		(timestamp, contract_address, creator_address, abi, risk_score, risk_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.Timestamp, record.ContractAddress, record.CreatorAddress,
		record.ABI, string(record.RiskScore), record.RiskReason, time.Now().Unix())
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save record", err)
	}
	return nil
}

// SaveRecords archives records with COPY
func (p *PostgreSQLStorage) SaveRecords(ctx context.Context, records []*models.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("risk_records",
		"timestamp", "contract_address", "creator_address", "abi", "risk_score", "risk_reason", "created_at"))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to prepare copy statement", err)
	}

	now := time.Now().Unix()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp, r.ContractAddress, r.CreatorAddress,
			r.ABI, string(r.RiskScore), r.RiskReason, now); err != nil {
			stmt.Close()
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to copy record", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to flush copy", err)
	}
	if err := stmt.Close(); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to close copy statement", err)
	}

	if err := tx.Commit(); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err)
	}
	return nil
}

// GetRecords lists archived records, newest first
func (p *PostgreSQLStorage) GetRecords(ctx context.Context, filter models.RecordFilter) ([]*models.OutputRecord, error) {
	query, args := recordSelect(filter, dollar)

	rows, err := p.db.QueryContext(ctx, query, args...)
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
func (p *PostgreSQLStorage) GetRecordCount(ctx context.Context, filter models.RecordFilter) (int64, error) {
	where, args := recordWhere(filter, dollar)

	var count int64
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM risk_records"+where, args...).Scan(&count); err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to count records", err)
	}
	return count, nil
}

// GetLatestProcessedBlock returns the discovery cursor
func (p *PostgreSQLStorage) GetLatestProcessedBlock() (uint64, error) {
	var blockNumber int64
	err := p.db.QueryRow("SELECT value::bigint FROM system_state WHERE key = 'latest_processed_block'").Scan(&blockNumber)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get latest processed block", err)
	}
	return uint64(blockNumber), nil
}

// SetLatestProcessedBlock stores the discovery cursor
func (p *PostgreSQLStorage) SetLatestProcessedBlock(blockNumber uint64) error {
	_, err := p.db.Exec(`
		INSERT INTO system_state (key, value, updated_at)
		VALUES ('latest_processed_block', $1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, strconv.FormatUint(blockNumber, 10), time.Now().Unix())
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to set latest processed block", err)
	}
	return nil
}

// SaveBlacklist replaces the persisted blacklist snapshot
func (p *PostgreSQLStorage) SaveBlacklist(ctx context.Context, entries []models.BlacklistEntry) error {
	addresses := make([]string, 0, len(entries))
	comments := make([]string, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		if e.Address == "" {
			continue
		}
		if i, ok := seen[e.Address]; ok {
			comments[i] = e.Comment
			continue
		}
		seen[e.Address] = len(addresses)
		addresses = append(addresses, e.Address)
		comments = append(comments, e.Comment)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM blacklist_entries"); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to clear blacklist", err)
	}
	if len(addresses) > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO blacklist_entries (address, comment, updated_at)
			SELECT a, c, $3 FROM unnest($1::text[], $2::text[]) AS t(a, c)`,
			pq.Array(addresses), pq.Array(comments), time.Now().Unix())
		if err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save blacklist", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to commit blacklist", err)
	}
	return nil
}

// GetBlacklist loads the persisted blacklist snapshot
func (p *PostgreSQLStorage) GetBlacklist(ctx context.Context) ([]models.BlacklistEntry, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT address, comment FROM blacklist_entries ORDER BY address")
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
func (p *PostgreSQLStorage) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{RecordsByLevel: make(map[string]int64)}

	if err := p.db.QueryRow("SELECT COUNT(*) FROM risk_records").Scan(&stats.TotalRecords); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get record count", err)
	}

	rows, err := p.db.Query("SELECT risk_score, COUNT(*) FROM risk_records GROUP BY risk_score")
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

	if err := p.db.QueryRow("SELECT COUNT(*) FROM blacklist_entries").Scan(&stats.BlacklistSize); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get blacklist size", err)
	}

	var oldest, latest sql.NullInt64
	if err := p.db.QueryRow("SELECT MIN(created_at), MAX(created_at) FROM risk_records").Scan(&oldest, &latest); err == nil {
		stats.OldestRecord = unixPtr(oldest)
		stats.LatestRecord = unixPtr(latest)
	}

	var cleanup sql.NullInt64
	if err := p.db.QueryRow("SELECT value::bigint FROM system_state WHERE key = 'last_cleanup'").Scan(&cleanup); err == nil {
		stats.LastCleanup = unixPtr(cleanup)
	}

	stats.LatestBlock, _ = p.GetLatestProcessedBlock()

	if err := p.db.QueryRow("SELECT pg_database_size(current_database())").Scan(&stats.DatabaseSize); err != nil {
		stats.DatabaseSize = 0
	}

	return stats, nil
}

// Cleanup removes archived records older than retentionDays
func (p *PostgreSQLStorage) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	now := time.Now()
	cutoff := now.AddDate(0, 0, -retentionDays).Unix()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin cleanup transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM risk_records WHERE created_at < $1", cutoff)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to cleanup old records", err)
	}
	deleted, _ := result.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_at) VALUES ('last_cleanup', $1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		strconv.FormatInt(now.Unix(), 10), now.Unix())
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to update last cleanup time", err)
	}

	if err := tx.Commit(); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to commit cleanup transaction", err)
	}

	p.logger.WithFields(logrus.Fields{
		"records_deleted": deleted,
		"retention_days":  retentionDays,
	}).Info("Database cleanup completed")
	return nil
}

// GetHealth reports connectivity
func (p *PostgreSQLStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "postgres",
		Healthy:     p.Ping() == nil,
		LastPing:    time.Now(),
	}
}
