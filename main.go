package main

import (
	"database/sql"
	"log/slog"
	"os"

	"tripledger/config"
	"tripledger/database"

	_ "github.com/mattn/go-sqlite3"
)

// tripledger brings the store schema to the latest version and verifies the
// data layer before the application opens it for general traffic.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Migrations run on a raw store handle, before the pool opens.
	db, err := sql.Open("sqlite3", cfg.DatabasePath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return err
	}

	runner, err := database.NewMigrationRunner(db, logger)
	if err != nil {
		db.Close()
		return err
	}
	if err := runner.LoadDirectory(cfg.MigrationsDir); err != nil {
		db.Close()
		return err
	}
	if err := runner.MigrateUp(0); err != nil {
		db.Close()
		return err
	}

	status, err := runner.Status()
	if err != nil {
		db.Close()
		return err
	}
	logger.Info("schema ready",
		"version", status.CurrentVersion,
		"applied", status.AppliedCount,
		"pending", status.PendingCount,
	)
	if err := db.Close(); err != nil {
		return err
	}

	manager, err := database.NewManager(database.ManagerOptions{
		DatabasePath: cfg.DatabasePath,
		PoolSize:     cfg.PoolSize,
		Optimizer: database.OptimizerOptions{
			CacheSize:    cfg.CacheSize,
			CacheEnabled: cfg.CacheEnabled,
			CacheTTL:     cfg.CacheTTL,
			Logger:       logger,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	// Self-check: a trivial read through the full checkout/execute path.
	if _, err := manager.Query("SELECT COUNT(*) AS n FROM schema_migrations"); err != nil {
		return err
	}

	logger.Info("data layer ready",
		"path", cfg.DatabasePath,
		"pool_size", cfg.PoolSize,
		"cache", manager.Optimizer().CacheStats().String(),
		"statements", manager.Optimizer().Statements().Len(),
	)
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     getLogLevel(cfg.LogLevel),
		AddSource: cfg.Env == "development",
	}

	if cfg.Env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func getLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
