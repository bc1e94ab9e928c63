package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"yideng/edu-market/edu-market-backend/internal/audit"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/internal/config"
	"yideng/edu-market/edu-market-backend/internal/platform"
)

// AuditWorker checks a shared postgres world state on an interval, outside the API process
type AuditWorker struct {
	auditor *audit.Auditor
	logger  *zap.Logger
	config  AuditWorkerConfig
	done    chan struct{}
}

// AuditWorkerConfig configuration for the audit worker
type AuditWorkerConfig struct {
	PollInterval time.Duration
	CheckTimeout time.Duration
}

// DefaultAuditWorkerConfig returns default configuration
func DefaultAuditWorkerConfig() AuditWorkerConfig {
	return AuditWorkerConfig{
		PollInterval: time.Minute,
		CheckTimeout: 30 * time.Second,
	}
}

func NewAuditWorker(auditor *audit.Auditor, logger *zap.Logger, config AuditWorkerConfig) *AuditWorker {
	return &AuditWorker{
		auditor: auditor,
		logger:  logger,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called
func (w *AuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting audit worker", zap.Duration("poll_interval", w.config.PollInterval))

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.check(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Audit worker shutting down")
			return nil
		case <-w.done:
			w.logger.Info("Audit worker stopped")
			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// Stop stops the audit worker
func (w *AuditWorker) Stop() {
	close(w.done)
}

func (w *AuditWorker) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, w.config.CheckTimeout)
	defer cancel()

	result, err := w.auditor.Check(checkCtx)
	if err != nil {
		w.logger.Error("Supply audit failed", zap.Error(err))
		return
	}
	w.logger.Info("Supply audit complete",
		zap.Bool("balanced", result.Report.Balanced),
		zap.String("total_supply", result.Report.TotalSupply.String()),
		zap.Int("holders", result.Report.Holders))
}

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Chain.Store != config.StorePostgres {
		logger.Fatal("Audit worker needs a shared store; set CHAIN_STORE=postgres")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	logger.Info("Connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := chain.NewExecutor(chain.NewGormStore(gdb), logger)
	deployment, err := platform.Attach(ctx, exec)
	if err != nil {
		logger.Fatal("Failed to attach to platform", zap.Error(err))
	}

	workerConfig := DefaultAuditWorkerConfig()
	worker := NewAuditWorker(audit.NewAuditor(exec, deployment.Ledger, logger, cfg.Audit.Schedule), logger, workerConfig)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := worker.Start(ctx); err != nil {
		logger.Error("Worker error", zap.Error(err))
	}

	logger.Info("Audit worker stopped")
}
