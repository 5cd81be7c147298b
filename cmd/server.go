package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/depot/services/bagtrack/config"
	"example.com/depot/services/bagtrack/internal/api"
	"example.com/depot/services/bagtrack/internal/audit"
	"example.com/depot/services/bagtrack/internal/cache"
	"example.com/depot/services/bagtrack/internal/db"
	"example.com/depot/services/bagtrack/internal/messagebus"
	"example.com/depot/services/bagtrack/internal/search"
	"example.com/depot/services/bagtrack/internal/service"
)

const (
	auditPublishInterval = 15 * time.Second
	auditPublishBatch    = 100
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		// Load configuration
		cfg, err := config.Load()
		if err != nil {
			logrus.Fatalf("Failed to load configuration: %v", err)
		}

		// Setup logger
		logger := logrus.New()
		if cfg.Logging.JSON {
			logger.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logger.SetFormatter(&logrus.TextFormatter{
				FullTimestamp: true,
			})
		}

		level, err := logrus.ParseLevel(cfg.Logging.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		if debug {
			level = logrus.DebugLevel
		}
		logger.SetLevel(level)

		// Connect to database
		dbConn, err := db.Connect(&cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}

		// Run migrations
		if err := db.Migrate(dbConn); err != nil {
			logger.Fatalf("Failed to run database migrations: %v", err)
		}

		// Initialize cache
		cacheClient := cache.NewDisabledClient()
		if cfg.Redis.Enabled {
			cacheClient, err = cache.NewRedisClient(&cfg.Redis)
			if err != nil {
				logger.Fatalf("Failed to connect to Redis: %v", err)
			}
		}

		// Initialize message bus
		var messageBusClient messagebus.Client
		if cfg.ServiceBus.Enabled {
			messageBusClient, err = messagebus.NewClient(&cfg.ServiceBus)
			if err != nil {
				logger.Fatalf("Failed to initialize message bus: %v", err)
			}
		}

		// Initialize search
		var esClient search.Client
		if cfg.Elasticsearch.Enabled {
			esClient, err = search.NewClient(&cfg.Elasticsearch)
			if err != nil {
				logger.Fatalf("Failed to initialize Elasticsearch: %v", err)
			}
		}

		// Initialize New Relic
		var nrApp *newrelic.Application
		if cfg.NewRelic.Enabled {
			nrApp, err = newrelic.NewApplication(
				newrelic.ConfigAppName(cfg.NewRelic.AppName),
				newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			)
			if err != nil {
				logger.Fatalf("Failed to initialize New Relic: %v", err)
			}
		}

		// Create services
		statsService := service.NewStatisticsService(dbConn, cacheClient)
		bagService := service.NewBagService(dbConn, statsService, cfg.Database.LockTimeout)
		linkerService := service.NewLinkerService(
			dbConn,
			statsService,
			cfg.Linker.ParentCapacity,
			cfg.Billing.UnitWeight,
			cfg.Database.LockTimeout,
		)
		billService := service.NewBillService(
			dbConn,
			statsService,
			cacheClient,
			cfg.Billing.UnitWeight,
			cfg.Linker.ParentCapacity,
			cfg.Database.LockTimeout,
		)
		undoService := service.NewUndoService(
			dbConn,
			statsService,
			cfg.Undo.Window,
			cfg.Billing.UnitWeight,
			cfg.Linker.ParentCapacity,
			cfg.Database.LockTimeout,
		)

		// Warm the statistics cache so the dashboard never sees an empty row
		if err := statsService.Refresh(context.Background()); err != nil {
			logger.Warnf("Initial statistics refresh failed: %v", err)
		}

		// Start the audit publisher when a collaborator is configured
		publisherCtx, cancelPublisher := context.WithCancel(context.Background())
		defer cancelPublisher()
		if messageBusClient != nil || esClient != nil {
			publisher := audit.NewPublisher(dbConn, messageBusClient, esClient, cfg.ServiceBus.AuditQueue)
			go publisher.Run(publisherCtx, auditPublishInterval, auditPublishBatch)
		}

		// Create API handler and server
		handler := api.NewHandler(bagService, linkerService, billService, undoService, statsService)
		server := api.NewServer(cfg, handler, logger, nrApp)

		// Start server in a goroutine
		go func() {
			if err := server.Start(); err != nil {
				logger.Fatalf("Failed to start server: %v", err)
			}
		}()

		// Wait for interrupt signal
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		// Create context with timeout for graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.Info("Shutting down server...")
		cancelPublisher()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Fatalf("Server shutdown failed: %v", err)
		}

		if messageBusClient != nil {
			if err := messageBusClient.Close(shutdownCtx); err != nil {
				logger.Errorf("Message bus closure failed: %v", err)
			}
		}

		logger.Info("Server shutdown complete")
	},
}
