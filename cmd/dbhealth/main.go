// Connectivity check for the record store. Exits 0 when the database is
// reachable and migrations are current enough to query the receipts table.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/repository"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		logger.Error("DB_URL env var is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pool, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.HealthCheck(ctx, pool, time.Second, logger); err != nil {
		logger.Error("database health: FAIL", "error", err)
		os.Exit(1)
	}

	var count int64
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM receipts`).Scan(&count); err != nil {
		logger.Error("receipts table check: FAIL", "error", err)
		os.Exit(1)
	}
	logger.Info("database health: OK", "receipts", count)
}
