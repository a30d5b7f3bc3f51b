// cmd/membership/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"shelfshare/internal/config"
	"shelfshare/internal/httpx"
	"shelfshare/internal/membership"
	"shelfshare/internal/observability"
	"shelfshare/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "membership: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadMembership()
	logger, err := observability.NewLogger("membership", cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdownTracing := observability.InitTracing(ctx, "membership", cfg.OTLPEndpoint, logger)
	defer shutdownTracing(context.Background())

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}

	tokens := membership.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	svc := membership.NewService(membership.NewPostgresRepository(db), tokens, logger)

	router := httpx.NewRouter(observability.Metrics)
	router.Handle("/metrics", observability.MetricsHandler())
	router.Mount("/", membership.NewHandler(svc, logger).Routes(tokens))

	return httpx.Serve(ctx, ":"+cfg.Port, router, logger)
}
