package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"yideng/edu-market/edu-market-backend/internal/audit"
	"yideng/edu-market/edu-market-backend/internal/auth"
	"yideng/edu-market/edu-market-backend/internal/certificate"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/internal/config"
	"yideng/edu-market/edu-market-backend/internal/history"
	"yideng/edu-market/edu-market-backend/internal/market"
	"yideng/edu-market/edu-market-backend/internal/notifications"
	"yideng/edu-market/edu-market-backend/internal/notifications/websocket"
	"yideng/edu-market/edu-market-backend/internal/platform"
	"yideng/edu-market/edu-market-backend/internal/token"
)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// World state and transaction history
	var (
		store       chain.Store
		historyRepo history.Repository
	)
	switch cfg.Chain.Store {
	case config.StorePostgres:
		dbURL := cfg.Database.GetDatabaseURL()
		logger.Info("Connecting to database",
			zap.String("host", cfg.Database.Host),
			zap.String("db_name", cfg.Database.DBName))

		gdb, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{})
		if err != nil {
			logger.Fatal("Failed to open world state database", zap.Error(err))
		}
		gormStore := chain.NewGormStore(gdb)
		if err := gormStore.AutoMigrate(); err != nil {
			logger.Fatal("Failed to migrate world state", zap.Error(err))
		}
		store = gormStore

		db, err := sqlx.Connect("postgres", dbURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.MaxLifetime.Std())
		historyRepo = history.NewPostgresRepository(db)

	default:
		logger.Warn("Using in-memory world state; nothing survives a restart")
		memStore := chain.NewMemoryStore()
		store = memStore
		historyRepo = history.NewReceiptRepository(memStore)
	}

	exec := chain.NewExecutor(store, logger)

	// Components
	opts, err := deployOptions(cfg)
	if err != nil {
		logger.Fatal("Invalid deployment options", zap.Error(err))
	}
	deployer := chain.AddressFromSeed(cfg.Chain.DeployerSeed)
	deployment, err := platform.Open(ctx, exec, deployer, opts, logger)
	if err != nil {
		logger.Fatal("Failed to open platform", zap.Error(err))
	}

	issuer, err := auth.NewIssuer(cfg.Security.JWTSecret, cfg.Security.TokenTTL.Std())
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}

	// Event stream
	wsManager := websocket.NewManager(logger)
	defer wsManager.Close()
	detach := notifications.NewService(wsManager, logger).Attach(exec)
	defer detach()

	// Supply audit
	auditor := audit.NewAuditor(exec, deployment.Ledger, logger, cfg.Audit.Schedule)
	if cfg.Audit.Enabled {
		if err := auditor.Start(ctx); err != nil {
			logger.Fatal("Failed to start supply auditor", zap.Error(err))
		}
		defer auditor.Stop()
	}

	// Handlers
	authHandler := auth.NewHandler(issuer, logger)
	tokenHandler := token.NewHandler(exec, deployment.Ledger, logger)
	certificateHandler := certificate.NewHandler(exec, deployment.Registry, logger)
	marketHandler := market.NewHandler(exec, deployment.Market, logger)
	historyHandler := history.NewHandler(history.NewService(historyRepo, logger), logger)
	wsHandler := websocket.NewHandler(wsManager, logger)
	auditHandler := audit.NewHandler(auditor, logger)

	// Setup Router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	api := router.Group("/api/v1")
	api.Use(auth.Middleware(issuer))
	{
		if cfg.Security.DevTokens {
			logger.Warn("Development token endpoint enabled")
			authHandler.RegisterRoutes(api)
		} else {
			api.GET("/auth/me", authHandler.Me)
		}
		tokenHandler.RegisterRoutes(api)
		certificateHandler.RegisterRoutes(api)
		marketHandler.RegisterRoutes(api)
		historyHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
		auditHandler.RegisterRoutes(api)
	}

	api.GET("/platform", func(c *gin.Context) {
		c.JSON(http.StatusOK, deployment.Record)
	})

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"store":     cfg.Chain.Store,
			"timestamp": time.Now(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("market", deployment.Record.Market.String()))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func deployOptions(cfg *config.Config) (platform.Options, error) {
	rate, err := cfg.Token.Rate()
	if err != nil {
		return platform.Options{}, err
	}
	settings := market.Settings{AllowRecertification: cfg.Market.AllowRecertification}
	if cfg.Market.Treasury != "" {
		treasury, err := chain.ParseAddress(cfg.Market.Treasury)
		if err != nil {
			return platform.Options{}, fmt.Errorf("market.treasury: %w", err)
		}
		settings.Treasury = treasury
	}
	return platform.Options{
		Token: token.InitParams{
			Name:         cfg.Token.Name,
			Symbol:       cfg.Token.Symbol,
			PurchaseRate: rate,
		},
		Certificate: platform.CertificateOptions{
			Name:    cfg.Certificate.Name,
			Symbol:  cfg.Certificate.Symbol,
			BaseURI: cfg.Certificate.BaseURI,
		},
		Market: settings,
	}, nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
