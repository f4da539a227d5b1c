package sink

import (
	"context"

	"github.com/smartdevs17/contract-risk-watcher/internal/config"
	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// Dependencies are the shared components some sinks need
type Dependencies struct {
	Store   RecordStore
	Hub     *Hub
	Metrics *metrics.Manager
}

// NewFromConfig builds the configured sinks wrapped in a Multi
func NewFromConfig(ctx context.Context, cfg *config.SinkConfig, deps Dependencies) (*Multi, error) {
	var sinks []Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	for _, t := range cfg.Types {
		var (
			s   Sink
			err error
		)
		switch t {
		case "http":
			s, err = NewHTTPSink(HTTPConfig{
				Name:          "http",
				URL:           cfg.HTTP.URL,
				Headers:       cfg.HTTP.Headers,
				Timeout:       cfg.Timeout,
				RetryAttempts: cfg.HTTP.RetryAttempts,
				RetryDelay:    cfg.HTTP.RetryDelay,
				MaxRetryDelay: cfg.HTTP.MaxRetryDelay,
				Backoff:       cfg.HTTP.Backoff,
			})
		case "database":
			if deps.Store == nil {
				err = utils.NewAppError(utils.ErrCodeConfiguration, "database sink requires storage")
				break
			}
			s = NewDatabaseSink(deps.Store)
		case "clickhouse":
			s, err = NewClickHouseSink(ctx, ClickHouseConfig{
				Addr:        cfg.ClickHouse.Addr,
				Database:    cfg.ClickHouse.Database,
				Username:    cfg.ClickHouse.Username,
				Password:    cfg.ClickHouse.Password,
				Table:       cfg.ClickHouse.Table,
				DialTimeout: cfg.ClickHouse.DialTimeout,
			})
		case "log":
			s = NewLogSink()
		case "broadcast":
			if deps.Hub == nil {
				err = utils.NewAppError(utils.ErrCodeConfiguration, "broadcast sink requires a hub")
				break
			}
			s = NewBroadcastSink(deps.Hub)
		default:
			err = utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported sink type", t)
		}
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if cfg.Alert.Enabled {
		level, err := models.ParseRiskLevel(cfg.Alert.MinLevel)
		if err != nil {
			closeAll()
			return nil, utils.WrapAppError(utils.ErrCodeConfiguration, "Invalid alert level", err)
		}
		webhook, err := NewHTTPSink(HTTPConfig{
			Name:          "alert",
			URL:           cfg.Alert.URL,
			Headers:       cfg.Alert.Headers,
			Timeout:       cfg.Timeout,
			RetryAttempts: cfg.HTTP.RetryAttempts,
			RetryDelay:    cfg.HTTP.RetryDelay,
			MaxRetryDelay: cfg.HTTP.MaxRetryDelay,
			Backoff:       cfg.HTTP.Backoff,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, NewAlertSink(webhook, level))
	}

	if len(sinks) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "No sinks configured")
	}
	return NewMulti(deps.Metrics, sinks...), nil
}
