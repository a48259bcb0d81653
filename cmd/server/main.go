package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/config"
	"github.com/KevinKickass/OpenDO96/internal/storage"
	"github.com/KevinKickass/OpenDO96/internal/system"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file (empty: defaults and environment only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully",
		zap.String("path", *configPath),
		zap.Int("cards", len(cfg.Cards)))

	ctx := context.Background()

	var db *storage.PostgresClient
	if cfg.Database.Enabled {
		db, err = storage.NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Database connected successfully")
	} else {
		logger.Warn("Database disabled: no card registry, journal or user login")
	}

	lifecycle, err := system.NewLifecycleManager(db, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create lifecycle manager", zap.Error(err))
	}

	if err := lifecycle.Start(ctx); err != nil {
		logger.Error("Failed to start system", zap.Error(err))
		shutdown(lifecycle, cfg.Server.ShutdownTimeout, logger)
		os.Exit(1)
	}

	logger.Info("OpenDO96 started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case <-lifecycle.Done():
		// Shut down through the API.
		logger.Info("OpenDO96 stopped")
		return
	}

	if err := shutdown(lifecycle, cfg.Server.ShutdownTimeout, logger); err != nil {
		os.Exit(1)
	}

	logger.Info("OpenDO96 stopped successfully")
}

func shutdown(lifecycle *system.LifecycleManager, timeout time.Duration, logger *zap.Logger) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}

	return zc.Build()
}
