// cmd/catalog/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"shelfshare/internal/catalog"
	"shelfshare/internal/clients"
	"shelfshare/internal/config"
	"shelfshare/internal/httpx"
	"shelfshare/internal/membership"
	"shelfshare/internal/observability"
	"shelfshare/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "catalog: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadCatalog()
	logger, err := observability.NewLogger("catalog", cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdownTracing := observability.InitTracing(ctx, "catalog", cfg.OTLPEndpoint, logger)
	defer shutdownTracing(context.Background())

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}

	trigger, closeTrigger := clients.NewResyncTrigger(cfg.Resync, cfg.InternalToken, logger)
	defer func() {
		trigger.Wait()
		if err := closeTrigger(); err != nil {
			logger.Warn("failed to close resync transport", zap.Error(err))
		}
	}()

	svc := catalog.NewService(catalog.NewPostgresRepository(db), trigger, logger)
	handler := catalog.NewHandler(svc, membership.NewTokenManager(cfg.JWTSecret, 0), cfg.InternalToken, logger)

	router := httpx.NewRouter(observability.Metrics)
	router.Handle("/metrics", observability.MetricsHandler())
	router.Mount("/", handler.Routes())

	return httpx.Serve(ctx, ":"+cfg.Port, router, logger)
}
