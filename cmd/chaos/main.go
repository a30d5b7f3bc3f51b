// cmd/chaos/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"shelfshare/internal/chaos"
	"shelfshare/internal/clients"
	"shelfshare/internal/config"
	"shelfshare/internal/membership"
	"shelfshare/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chaos: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadChaos()
	logger, err := observability.NewLogger("chaos", "dev")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdownTracing := observability.InitTracing(ctx, "chaos", cfg.OTLPEndpoint, logger)
	defer shutdownTracing(context.Background())

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Signals are sent synchronously so rollbacks land before the runner exits.
	trigger := clients.NewResyncClient(cfg.Resync.ReconcilerURL, cfg.InternalToken, logger)

	engine := chaos.NewEngine(logger)
	engine.RegisterExperiments(chaos.Target{
		DB:            db,
		Rentals:       clients.NewRentalsClient(cfg.RentalsURL),
		Tokens:        membership.NewTokenManager(cfg.JWTSecret, time.Hour),
		Resync:        trigger,
		Concurrency:   cfg.Concurrency,
		SweepInterval: cfg.SweepInterval,
	})

	failed, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Weekly Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		logger.Error("game day finished with failed experiments", zap.Int("failed", failed))
		return fmt.Errorf("%d experiments failed", failed)
	}
	logger.Info("game day passed")
	return nil
}
