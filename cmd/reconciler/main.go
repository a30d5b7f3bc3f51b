// cmd/reconciler/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"shelfshare/internal/clients"
	"shelfshare/internal/config"
	"shelfshare/internal/httpx"
	"shelfshare/internal/inventory"
	"shelfshare/internal/observability"
	"shelfshare/internal/orders"
	"shelfshare/internal/projector"
	"shelfshare/internal/resync"
	"shelfshare/migrations"
	"shelfshare/pkg/eventstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reconciler: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadReconciler()
	logger, err := observability.NewLogger("reconciler", cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdownTracing := observability.InitTracing(ctx, "reconciler", cfg.OTLPEndpoint, logger)
	defer shutdownTracing(context.Background())

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}

	listings := clients.NewCatalogClient(cfg.CatalogServiceURL, cfg.InternalToken, logger)
	ledger := inventory.NewLedger(orders.NewPostgresStore(db), listings, inventory.NewPostgresRepository(db), logger)
	proj := projector.New(ledger, listings, logger)
	sweeper := projector.NewSweeper(proj, cfg.SweepInterval, logger)
	follower := projector.NewFollower(proj, eventstore.NewEventStore(db), cfg.JournalInterval, logger)

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.Error("background loop stopped", zap.String("loop", name), zap.Error(err))
			}
		}()
	}
	background("sweeper", sweeper.Run)
	background("journal", follower.Run)
	if cfg.Resync.Transport == "kafka" {
		consumer := resync.NewKafkaConsumer(cfg.Resync.KafkaBrokers, cfg.Resync.KafkaTopic, cfg.Resync.KafkaGroupID, logger)
		defer consumer.Close()
		background("kafka", func(ctx context.Context) error {
			return consumer.Run(ctx, sweeper.Notify)
		})
	}

	router := httpx.NewRouter(observability.Metrics)
	router.Handle("/metrics", observability.MetricsHandler())
	router.Mount("/", resync.NewHandler(sweeper, cfg.InternalToken, logger).Routes())

	logger.Info("reconciler configured",
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("journal_interval", cfg.JournalInterval),
		zap.String("transport", cfg.Resync.Transport))
	err = httpx.Serve(ctx, ":"+cfg.Port, router, logger)
	stop()
	wg.Wait()
	return err
}
