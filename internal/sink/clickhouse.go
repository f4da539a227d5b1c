package sink

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// ClickHouseConfig configures the ClickHouse sink
type ClickHouseConfig struct {
	Addr        []string
	Database    string
	Username    string
	Password    string
	Table       string
	DialTimeout time.Duration
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouseSink inserts records into a MergeTree table for indexing
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// NewClickHouseSink opens a connection and ensures the target table exists
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	if len(cfg.Addr) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "ClickHouse address is required")
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid ClickHouse table name", cfg.Table)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Protocol: clickhouse.Native,
		Addr:     cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeConnection, "Failed to open ClickHouse connection", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, utils.WrapAppError(utils.ErrCodeConnection, "Failed to ping ClickHouse", err)
	}

	s := &ClickHouseSink{conn: conn, table: cfg.Table}
	if err := s.ensureTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (c *ClickHouseSink) ensureTable(ctx context.Context) error {
	err := c.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp String,
			contract_address String,
			creator_address String,
			abi Nullable(String),
			risk_score LowCardinality(String),
			risk_reason String,
			inserted_at DateTime DEFAULT now()
		) ENGINE = MergeTree()
		ORDER BY (contract_address, inserted_at)
	`, c.table))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to create ClickHouse table", err)
	}
	return nil
}

// Name implements Sink
func (c *ClickHouseSink) Name() string { return "clickhouse" }

// Send implements Sink
func (c *ClickHouseSink) Send(ctx context.Context, record *models.OutputRecord) error {
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (timestamp, contract_address, creator_address, abi, risk_score, risk_reason)", c.table))
	if err != nil {
		return deliveryError(c.Name(), fmt.Errorf("prepare batch: %w", err))
	}

	if err := batch.Append(
		record.Timestamp,
		record.ContractAddress,
		record.CreatorAddress,
		record.ABI,
		string(record.RiskScore),
		record.RiskReason,
	); err != nil {
		return deliveryError(c.Name(), fmt.Errorf("append to batch: %w", err))
	}

	if err := batch.Send(); err != nil {
		return deliveryError(c.Name(), fmt.Errorf("send batch: %w", err))
	}
	return nil
}

// Close implements Sink
func (c *ClickHouseSink) Close() error {
	return c.conn.Close()
}
