// cmd/rentals/main.go
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shelfshare/internal/clients"
	"shelfshare/internal/config"
	"shelfshare/internal/httpx"
	"shelfshare/internal/inventory"
	"shelfshare/internal/membership"
	"shelfshare/internal/observability"
	"shelfshare/internal/orders"
	"shelfshare/internal/projector"
	"shelfshare/internal/reservation"
	"shelfshare/migrations"
	"shelfshare/pkg/eventstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rentals: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadRentals()
	logger, err := observability.NewLogger("rentals", cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdownTracing := observability.InitTracing(ctx, "rentals", cfg.OTLPEndpoint, logger)
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

	store := orders.NewPostgresStore(db)
	listings := clients.NewCatalogClient(cfg.CatalogServiceURL, cfg.InternalToken, logger)
	ledger := inventory.NewLedger(store, listings, inventory.NewPostgresRepository(db), logger)
	proj := projector.New(ledger, listings, logger)

	opts := []reservation.Option{
		reservation.WithJournal(reservation.NewEventJournal(eventstore.NewEventStore(db))),
		reservation.WithResync(trigger),
		reservation.WithStrict(cfg.StrictCheckout),
	}
	if cfg.RedisURL != "" {
		client, err := redisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, reservation.WithGateway(reservation.NewRedisGateway(client)))
	} else {
		logger.Info("REDIS_URL not set, checkout idempotency is kept in memory")
	}
	svc := reservation.NewService(store, listings, proj, logger, opts...)

	tokens := membership.NewTokenManager(cfg.JWTSecret, 0)
	router := httpx.NewRouter(observability.Metrics)
	router.Handle("/metrics", observability.MetricsHandler())
	router.Mount("/", reservation.NewHandler(svc, logger).Routes(tokens))

	logger.Info("rentals configured", zap.Bool("strict_checkout", cfg.StrictCheckout))
	return httpx.Serve(ctx, ":"+cfg.Port, router, logger)
}

func redisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return client, nil
}
