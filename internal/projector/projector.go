// Package projector republishes listing availability from the inventory
// ledger. It is the only writer of a listing's derived fields.
package projector

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"shelfshare/internal/catalog"
	"shelfshare/internal/errs"
	"shelfshare/internal/inventory"
)

var (
	projections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_projections_total",
		Help: "Listing projections by outcome.",
	}, []string{"outcome"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "projector_sweep_duration_seconds",
		Help:    "Duration of full and partial projection sweeps.",
		Buckets: prometheus.DefBuckets,
	})
)

// Recomputer rederives a listing's ledger entry.
type Recomputer interface {
	Recompute(ctx context.Context, listingID uuid.UUID) (inventory.Entry, error)
}

// Projector copies ledger entries onto listings.
type Projector struct {
	ledger   Recomputer
	catalog  catalog.Store
	logger   *zap.Logger
	tracer   trace.Tracer
	maxTries uint
	backoff  func() backoff.BackOff
}

// Option tunes a Projector.
type Option func(*Projector)

// WithRetry sets how often a sweep retries a listing whose projection failed
// with a transient error, and the first wait between tries.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(p *Projector) {
		p.maxTries = maxTries
		p.backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = 20 * initial
			return b
		}
	}
}

func New(ledger Recomputer, store catalog.Store, logger *zap.Logger, opts ...Option) *Projector {
	p := &Projector{
		ledger:  ledger,
		catalog: store,
		logger:  logger,
		tracer:  otel.Tracer("shelfshare/projector"),
	}
	WithRetry(3, 200*time.Millisecond)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProjectOne recomputes the listing's ledger entry and writes the derived
// fields onto the listing. Errors are returned to the caller unchanged.
func (p *Projector) ProjectOne(ctx context.Context, listingID uuid.UUID) (inventory.Entry, error) {
	ctx, span := p.tracer.Start(ctx, "projector.project_one",
		trace.WithAttributes(attribute.String("listing.id", listingID.String())),
	)
	defer span.End()

	entry, err := p.ledger.Recompute(ctx, listingID)
	if err != nil {
		span.RecordError(err)
		projections.WithLabelValues("failed").Inc()
		return inventory.Entry{}, err
	}
	err = p.catalog.UpdateListingAvailability(ctx, listingID, catalog.Availability{
		AvailableQuantity: entry.AvailableQuantity,
		RentedQuantity:    entry.RentedQuantity,
		Available:         entry.Available(),
	})
	if err != nil {
		span.RecordError(err)
		projections.WithLabelValues("failed").Inc()
		return inventory.Entry{}, fmt.Errorf("publish availability of %s: %w", listingID, err)
	}
	projections.WithLabelValues("succeeded").Inc()
	return entry, nil
}

// Failure records one listing a sweep could not project.
type Failure struct {
	ListingID uuid.UUID
	Err       error
}

// Report summarizes a sweep.
type Report struct {
	Total     int
	Succeeded int
	Failures  []Failure
	Duration  time.Duration
}

func (r Report) Failed() int { return len(r.Failures) }

// ProjectAll projects every listing. A listing that keeps failing is logged
// and skipped; the sweep carries on. The only error returned is a failure to
// enumerate listings.
func (p *Projector) ProjectAll(ctx context.Context) (Report, error) {
	ctx, span := p.tracer.Start(ctx, "projector.project_all")
	defer span.End()

	ids, err := p.catalog.ListAllListingIDs(ctx)
	if err != nil {
		span.RecordError(err)
		return Report{}, fmt.Errorf("list listings: %w", err)
	}
	report := p.ProjectMany(ctx, ids)
	span.SetAttributes(
		attribute.Int("sweep.total", report.Total),
		attribute.Int("sweep.failed", report.Failed()),
	)
	return report, nil
}

// ProjectMany projects the given listings with the same isolation as
// ProjectAll.
func (p *Projector) ProjectMany(ctx context.Context, ids []uuid.UUID) Report {
	start := time.Now()
	report := Report{Total: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("listing projection skipped",
				zap.String("listing_id", id.String()),
				zap.Error(err))
			report.Failures = append(report.Failures, Failure{ListingID: id, Err: err})
			continue
		}
		if err := p.projectWithRetry(ctx, id); err != nil {
			p.logger.Error("listing projection failed",
				zap.String("listing_id", id.String()),
				zap.Error(err))
			report.Failures = append(report.Failures, Failure{ListingID: id, Err: err})
			continue
		}
		report.Succeeded++
	}
	report.Duration = time.Since(start)
	sweepDuration.Observe(report.Duration.Seconds())
	return report
}

func (p *Projector) projectWithRetry(ctx context.Context, id uuid.UUID) error {
	_, err := backoff.Retry(ctx, func() (inventory.Entry, error) {
		entry, err := p.ProjectOne(ctx, id)
		if err != nil && !errs.IsRetriable(err) {
			return entry, backoff.Permanent(err)
		}
		return entry, err
	}, backoff.WithBackOff(p.backoff()), backoff.WithMaxTries(p.maxTries))
	return err
}
