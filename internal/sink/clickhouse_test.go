package sink

import (
	"context"
	"testing"
	"time"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestClickHouseSinkConfig(t *testing.T) {
	_, err := NewClickHouseSink(context.Background(), ClickHouseConfig{Table: "records"})
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))

	_, err = NewClickHouseSink(context.Background(), ClickHouseConfig{
		Addr:  []string{"localhost:9000"},
		Table: "records; DROP TABLE x",
	})
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))
}

func TestClickHouseSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
			Env: map[string]string{
				"CLICKHOUSE_DB":       "test",
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	s, err := NewClickHouseSink(ctx, ClickHouseConfig{
		Addr:        []string{host + ":" + port.Port()},
		Database:    "test",
		Username:    "default",
		Table:       "contract_risk_records",
		DialTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	defer s.Close()

	abi := `[{"type":"function","name":"selfdestruct"}]`
	require.NoError(t, s.Send(ctx, &models.OutputRecord{
		Timestamp:       "2024-06-01T12:00:00.000000Z",
		ContractAddress: "0xc1",
		CreatorAddress:  "0xd1",
		ABI:             &abi,
		RiskScore:       models.RiskHigh,
		RiskReason:      "dangerous capability present in interface",
	}))
	require.NoError(t, s.Send(ctx, &models.OutputRecord{
		Timestamp:       "2024-06-01T12:00:01.000000Z",
		ContractAddress: "0xc2",
		RiskScore:       models.RiskMedium,
		RiskReason:      "insufficient data to assess age/activity",
	}))

	var count uint64
	require.NoError(t, s.conn.QueryRow(ctx, "SELECT count() FROM contract_risk_records").Scan(&count))
	assert.Equal(t, uint64(2), count)

	var nullABI uint64
	require.NoError(t, s.conn.QueryRow(ctx, "SELECT count() FROM contract_risk_records WHERE abi IS NULL").Scan(&nullABI))
	assert.Equal(t, uint64(1), nullABI)
}
