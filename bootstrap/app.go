package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"harvester/config"
	"harvester/core"
	"harvester/fim"
	"harvester/ingest"

	"go.uber.org/zap"
)

// App is the running harvester
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage      *StorageComponents
	Orchestrator *fim.Orchestrator
	Pool         *core.WorkerPool
	DLQ          *ingest.DLQ
	Listener     *ingest.Listener

	shutdownOnce sync.Once
}

// NewApp loads the configuration at configPath and initializes every component
func NewApp(ctx context.Context, configPath string) (*App, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	logger, sugar, err := InitLogger(level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sugar.Info("Harvester starting...")

	cfg, err := InitConfig(configPath, sugar)
	if err != nil {
		return nil, err
	}
	if err := ApplyLogLevel(level, cfg); err != nil {
		return nil, err
	}

	return NewAppWithConfig(ctx, cfg, logger)
}

// NewAppWithConfig initializes every component from an already loaded config
func NewAppWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sugar := logger.Sugar()
	app := &App{Config: cfg, Logger: logger, Sugar: sugar}

	storageComponents, err := InitStorage(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = storageComponents

	orchestrator, err := fim.NewOrchestrator(storageComponents.Registry, fim.ClusterInfo{
		Name: cfg.Cluster.Name,
		Node: cfg.Cluster.NodeName,
	}, sugar)
	if err != nil {
		storageComponents.Close()
		return nil, fmt.Errorf("failed to build handler chains: %w", err)
	}
	app.Orchestrator = orchestrator

	if cfg.DLQ.Enabled {
		dlq, err := ingest.OpenDLQ(cfg.DLQ.Path, sugar)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\n%s\n\n", ClassifyDLQError(err, cfg.DLQ.Path))
			storageComponents.Close()
			return nil, err
		}
		app.DLQ = dlq
	} else {
		sugar.Warn("Dead letter queue disabled, failed events are dropped")
	}

	app.Pool = core.NewWorkerPool(ctx, "fim-events", cfg.Workers.Count, cfg.Workers.QueueSize, sugar)
	app.Listener = ingest.NewListener(cfg, orchestrator, app.Pool, app.DLQ, sugar)
	return app, nil
}

// Start starts the worker pool, then the listener that feeds it
func (a *App) Start(ctx context.Context) error {
	if err := a.Pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.Listener.Start(); err != nil {
		return fmt.Errorf("failed to start ingest listener: %w", err)
	}
	a.Sugar.Infow("Harvester started",
		"connector", a.Config.Indexer.Connector,
		"workers", a.Config.Workers.Count)
	return nil
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is cancelled
func (a *App) WaitForShutdown(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Received signal", "signal", sig.String())
	case <-ctx.Done():
	}
}

// Shutdown stops accepting events, drains the pool, flushes the connectors and
// closes the dead letter queue. Safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - stop intake
	a.Sugar.Info("Phase 1: Stopping ingest listener...")
	if a.Listener != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.Listener.Stop(ctx); err != nil {
			a.Sugar.Errorw("Error stopping ingest listener", "error", err)
		}
		cancel()
	}

	// Phase 2 - finish queued events while the connectors are still open
	a.Sugar.Info("Phase 2: Draining worker pool...")
	if a.Pool != nil {
		a.Pool.Stop()
	}

	// Phase 3 - final flush, then the shared clients
	a.Sugar.Info("Phase 3: Closing indexer connectors...")
	if a.Storage != nil {
		start := time.Now()
		a.Storage.Close()
		a.Sugar.Infow("Indexer connectors closed", "duration", time.Since(start))
	}

	// Phase 4 - dead letters written during the drain are in by now
	a.Sugar.Info("Phase 4: Closing dead letter queue...")
	if a.DLQ != nil {
		if err := a.DLQ.Close(); err != nil {
			a.Sugar.Errorw("Error closing dead letter queue", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
