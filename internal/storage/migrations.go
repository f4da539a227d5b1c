package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
	Checksum    string    `db:"checksum"`
}

// checksum returns the hex sha256 of the migration body
func (m *Migration) checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS migrations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					version TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL,
					checksum TEXT NOT NULL,
					applied_at INTEGER NOT NULL
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create risk_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS risk_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp TEXT NOT NULL,
					contract_address TEXT NOT NULL,
					creator_address TEXT NOT NULL DEFAULT '',
					abi TEXT,
					risk_score TEXT NOT NULL,
					risk_reason TEXT NOT NULL DEFAULT '',
					created_at INTEGER NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_records_contract ON risk_records(contract_address);
				CREATE INDEX IF NOT EXISTS idx_records_creator ON risk_records(creator_address);
				CREATE INDEX IF NOT EXISTS idx_records_score ON risk_records(risk_score);
				CREATE INDEX IF NOT EXISTS idx_records_created_at ON risk_records(created_at);
			`,
		},
		{
			Version:     "003",
			Description: "Create blacklist_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS blacklist_entries (
					address TEXT PRIMARY KEY,
					comment TEXT NOT NULL DEFAULT '',
					updated_at INTEGER NOT NULL
				);
			`,
		},
		{
			Version:     "004",
			Description: "Create system_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL DEFAULT 0
				);

				INSERT OR IGNORE INTO system_state (key, value) VALUES ('latest_processed_block', '0');
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS migrations (
					id SERIAL PRIMARY KEY,
					version TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL,
					checksum TEXT NOT NULL,
					applied_at BIGINT NOT NULL
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create risk_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS risk_records (
					id BIGSERIAL PRIMARY KEY,
					timestamp TEXT NOT NULL,
					contract_address TEXT NOT NULL,
					creator_address TEXT NOT NULL DEFAULT '',
					abi TEXT,
					risk_score TEXT NOT NULL,
					risk_reason TEXT NOT NULL DEFAULT '',
					created_at BIGINT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_records_contract ON risk_records(contract_address);
				CREATE INDEX IF NOT EXISTS idx_records_creator ON risk_records(creator_address);
				CREATE INDEX IF NOT EXISTS idx_records_score ON risk_records(risk_score);
				CREATE INDEX IF NOT EXISTS idx_records_created_at ON risk_records(created_at);
			`,
		},
		{
			Version:     "003",
			Description: "Create blacklist_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS blacklist_entries (
					address TEXT PRIMARY KEY,
					comment TEXT NOT NULL DEFAULT '',
					updated_at BIGINT NOT NULL
				);
			`,
		},
		{
			Version:     "004",
			Description: "Create system_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at BIGINT NOT NULL DEFAULT 0
				);

				INSERT INTO system_state (key, value) VALUES ('latest_processed_block', '0')
				ON CONFLICT (key) DO NOTHING;
			`,
		},
	}
}

// runMigrations applies every migration not yet recorded in the migrations
// table. The first migration creates that table and must be idempotent.
func runMigrations(db *sql.DB, migrations []*Migration, ph placeholderFunc, logger *logrus.Entry) error {
	logger.Info("Starting database migrations")

	applied := 0
	for i, migration := range migrations {
		if i > 0 {
			var count int
			err := db.QueryRow("SELECT COUNT(*) FROM migrations WHERE version = "+ph(1), migration.Version).Scan(&count)
			if err != nil {
				return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read migration state", err)
			}
			if count > 0 {
				continue
			}
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := db.Exec(migration.SQL); err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version), err)
		}

		_, err := db.Exec(
			fmt.Sprintf("INSERT INTO migrations (version, description, checksum, applied_at) VALUES (%s, %s, %s, %s) ON CONFLICT (version) DO NOTHING",
				ph(1), ph(2), ph(3), ph(4)),
			migration.Version, migration.Description, migration.checksum(), time.Now().Unix())
		if err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to record migration %s", migration.Version), err)
		}
		applied++
	}

	logger.WithField("applied", applied).Info("Database migrations completed")
	return nil
}
