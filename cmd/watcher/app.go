package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/blacklist"
	"github.com/smartdevs17/contract-risk-watcher/internal/config"
	"github.com/smartdevs17/contract-risk-watcher/internal/connection"
	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/internal/monitor"
	"github.com/smartdevs17/contract-risk-watcher/internal/processor"
	"github.com/smartdevs17/contract-risk-watcher/internal/provider"
	"github.com/smartdevs17/contract-risk-watcher/internal/risk"
	"github.com/smartdevs17/contract-risk-watcher/internal/server"
	"github.com/smartdevs17/contract-risk-watcher/internal/sink"
	"github.com/smartdevs17/contract-risk-watcher/internal/storage"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// Application wires the watcher's components together
type Application struct {
	config     *config.Config
	logger     *logrus.Entry
	metrics    *metrics.Manager
	storage    storage.Storage
	blacklist  *blacklist.Store
	explorer   *provider.Client
	connection *connection.ConnectionManager
	hub        *sink.Hub
	sinks      *sink.Multi
	pipeline   *processor.Pipeline
	monitor    *monitor.Monitor
	server     *server.HTTPServer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.ComponentLogger("app")
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Debug("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.metrics = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := app.initializeBlacklist(); err != nil {
		return fmt.Errorf("failed to initialize blacklist: %w", err)
	}
	if err := app.initializePipeline(); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	if err := app.initializeMonitor(); err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}

	if app.config.Server.Enabled {
		app.server = server.NewHTTPServer(&app.config.Server, AppVersion, server.Dependencies{
			Storage:        app.storage,
			Assessor:       app.pipeline,
			Blacklist:      app.blacklist,
			Monitor:        app.monitor,
			Sinks:          app.sinks,
			Hub:            app.hub,
			MetricsManager: app.metrics,
		})
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage connects and migrates the database
func (app *Application) initializeStorage() error {
	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return err
	}
	if err := store.Connect(); err != nil {
		return err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return err
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	return nil
}

// initializeBlacklist builds the store and seeds it from the last persisted snapshot
func (app *Application) initializeBlacklist() error {
	app.blacklist = blacklist.NewStore(newBlacklistFeed(&app.config.Blacklist), app.storage)

	if err := app.blacklist.Seed(app.ctx); err != nil {
		app.logger.WithError(err).Warn("Starting with an empty blacklist")
	}
	return nil
}

// newBlacklistFeed picks the remote feed when configured, else the static
// entries. With neither it returns nil and the persisted snapshot is used as is.
func newBlacklistFeed(cfg *config.BlacklistConfig) blacklist.Feed {
	if cfg.URL != "" {
		return blacklist.NewHTTPFeed(cfg.URL, cfg.Headers, cfg.Timeout)
	}
	if len(cfg.Entries) == 0 {
		return nil
	}
	return blacklist.StaticFeed(cfg.Entries)
}

// initializePipeline builds the explorer client, risk engine, sinks and pipeline
func (app *Application) initializePipeline() error {
	var err error
	app.explorer, err = newExplorerClient(app.config)
	if err != nil {
		return err
	}

	engine := risk.NewEngine(risk.Config{
		MinContractAge: app.config.Risk.MinContractAge,
		MinTxCount:     app.config.Risk.MinTxCount,
	})

	app.hub = sink.NewHub(64)
	app.sinks, err = sink.NewFromConfig(app.ctx, &app.config.Sink, sink.Dependencies{
		Store:   app.storage,
		Hub:     app.hub,
		Metrics: app.metrics,
	})
	if err != nil {
		return err
	}

	app.pipeline = processor.NewPipeline(app.explorer, app.blacklist, engine, app.sinks, processor.Config{
		Workers:      app.config.Pipeline.Workers,
		FetchTimeout: app.config.Pipeline.FetchTimeout,
		SinkTimeout:  app.config.Sink.Timeout,
	}, processor.WithMetrics(app.metrics))

	return nil
}

func newExplorerClient(cfg *config.Config) (*provider.Client, error) {
	return provider.NewClient(provider.Config{
		BaseURL:     cfg.Etherscan.BaseURL,
		APIKey:      cfg.Etherscan.APIKey,
		ChainID:     cfg.Etherscan.ChainID,
		Timeout:     cfg.Etherscan.Timeout,
		MaxRetries:  cfg.Etherscan.MaxRetries,
		BackoffBase: cfg.Etherscan.BackoffBase,
		LogAddress:  cfg.Discovery.LogAddress,
		LogTopic:    cfg.Discovery.LogTopic,
	}, nil)
}

// initializeMonitor selects the discovery source and builds the monitor
func (app *Application) initializeMonitor() error {
	var source monitor.Source

	switch strings.ToLower(app.config.Discovery.Source) {
	case "rpc":
		app.connection = connection.NewConnectionManager(&app.config.RPC, app.metrics)
		source = monitor.NewBlockPoller(connection.NewChainClient(app.connection, app.metrics))
	case "etherscan":
		source = monitor.NewExplorerSource(app.explorer)
	default:
		return utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported discovery source", app.config.Discovery.Source)
	}

	app.monitor = monitor.NewMonitor(source, app.storage, app.pipeline, &monitor.MonitorConfig{
		PollInterval:  app.config.Discovery.PollInterval,
		StartBlock:    app.config.Discovery.StartBlock,
		Confirmations: app.config.Discovery.Confirmations,
		MaxBlockRange: app.config.Discovery.MaxBlockRange,
	}, app.metrics)

	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
		"source":      app.config.Discovery.Source,
		"sinks":       app.sinks.Sinks(),
	}).Info("Starting contract risk watcher")

	if app.blacklist.HasFeed() {
		if _, err := app.blacklist.Refresh(app.ctx); err != nil {
			app.logger.WithError(err).Warn("Initial blacklist refresh failed, using persisted snapshot")
		}
	}

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			return err
		}
	}

	if err := app.monitor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	if app.config.Storage.RetentionDays > 0 {
		app.wg.Add(1)
		go app.retentionLoop()
	}

	app.logger.WithField("server_address", fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port)).
		Info("Contract risk watcher started successfully")
	return nil
}

// retentionLoop prunes archived records older than the retention window
func (app *Application) retentionLoop() {
	defer app.wg.Done()

	interval := app.config.Storage.CleanupInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			if err := app.storage.Cleanup(app.ctx, app.config.Storage.RetentionDays); err != nil {
				app.logger.WithError(err).Error("Record retention cleanup failed")
			}
		}
	}
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	if app.logger != nil {
		app.logger.Info("Stopping contract risk watcher")
	}

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.monitor != nil && app.monitor.IsRunning() {
		if err := app.monitor.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop monitor")
		}
	}

	app.cancel()
	app.wg.Wait()

	if app.sinks != nil {
		if err := app.sinks.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close sinks")
		}
	}

	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	return nil
}
