package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/api"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/auth"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/crypto"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database/models"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/push"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/service"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	// Parse command line flags
	flags, configFile, showVersion := config.ParseFlags()

	// Handle version flag
	if showVersion {
		fmt.Println("COVID Certificate Delivery v" + version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting COVID Certificate Delivery",
		zap.String("version", version),
		zap.String("database", cfg.Database.Type),
		zap.Bool("push", cfg.Push.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	engines := crypto.NewEngines(crypto.NewKeyCache(cfg.Delivery.KeyCacheSize, cfg.Delivery.KeyCacheTTL))
	transfers := service.NewTransferRegistry(db, cfg)
	pushes := service.NewPushRegistry(db)
	delivery := service.NewDeliveryService(transfers, engines, security.NewValidator(cfg.Delivery.TimestampWindow), logger)

	clients, err := pushClients(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize push clients", zap.Error(err))
	}
	dispatcher := service.NewHeartbeatDispatcher(pushes, clients, cfg.Push.SendTimeout, cfg.Push.Concurrency, logger)

	// Background jobs
	scheduler := service.NewScheduler(db, cfg.Scheduler.LockAtMostFor, logger)
	if cfg.Push.Cron != "" {
		if err := scheduler.AddJob(service.NewSilentPushJob(dispatcher, cfg.Push, cfg.Scheduler)); err != nil {
			logger.Fatal("Failed to schedule heartbeat pushes", zap.Error(err))
		}
	} else {
		logger.Info("Heartbeat pushes are not scheduled")
	}
	if err := scheduler.AddJob(service.NewCleanupJob(transfers, cfg.Scheduler, logger)); err != nil {
		logger.Fatal("Failed to schedule cleanup", zap.Error(err))
	}
	scheduler.Start(ctx)

	services := &api.Services{
		Delivery: delivery,
		Push:     pushes,
		DB:       db,
	}
	if cfg.JWT.Enabled {
		validator, err := auth.NewUploadValidator(ctx, cfg.JWT, logger.With(zap.String("component", "jwt")))
		if err != nil {
			logger.Fatal("Failed to initialize upload authentication", zap.Error(err))
		}
		services.Upload = validator
	}

	// Initialize router
	router := api.NewRouter(cfg, services, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("address", srv.Addr),
			zap.Bool("tls", cfg.Server.TLSEnabled),
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("Scheduler did not stop in time", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// pushClients returns the heartbeat client per push type. Without push
// delivery enabled both APNs environments only log.
func pushClients(cfg *config.Config, logger *zap.Logger) (map[models.PushType]push.Client, error) {
	if !cfg.Push.Enabled {
		return map[models.PushType]push.Client{
			models.PushTypeIOS: push.NewLoggingClient(logger, "production"),
			models.PushTypeIOD: push.NewLoggingClient(logger, "sandbox"),
		}, nil
	}

	production, err := push.NewAPNsClient(cfg.Push.IOS, cfg.Push.Topic, true)
	if err != nil {
		return nil, err
	}
	sandbox, err := push.NewAPNsClient(cfg.Push.IOS, cfg.Push.Topic, false)
	if err != nil {
		return nil, err
	}
	return map[models.PushType]push.Client{
		models.PushTypeIOS: production,
		models.PushTypeIOD: sandbox,
	}, nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Set log level
	switch cfg.Logging.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if cfg.Logging.Output != "" && cfg.Logging.Output != "stdout" {
		zapConfig.OutputPaths = []string{cfg.Logging.Output}
	}

	return zapConfig.Build()
}
