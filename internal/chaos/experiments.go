package chaos

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"shelfshare/internal/errs"
	"shelfshare/internal/membership"
	"shelfshare/internal/resync"
)

// Checkouter places a single weekly checkout as the bearer of token.
type Checkouter interface {
	Checkout(ctx context.Context, token string, listingID uuid.UUID) error
}

// Target is the deployment the experiments run against.
type Target struct {
	DB            *sqlx.DB
	Rentals       Checkouter
	Tokens        *membership.TokenManager
	Resync        resync.Trigger
	Concurrency   int
	SweepInterval time.Duration
	// Listings, when set, limits the drift experiments to these listings
	// instead of a random share of the catalog.
	Listings []uuid.UUID
}

// RegisterExperiments registers the consistency experiments for t.
func (e *Engine) RegisterExperiments(t Target) {
	e.RegisterExperiment(DoubleBookingExperiment(t))
	e.RegisterExperiment(DriftExperiment(t, true))
	e.RegisterExperiment(DriftExperiment(t, false))
}

const activeOrders = `(SELECT COUNT(*) FROM orders o WHERE o.listing_id = l.id AND o.status = 'Ordered')`

// overbookedCopies counts active orders beyond the listing's copies.
func overbookedCopies(db *sqlx.DB, id *uuid.UUID) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		var n int
		err := db.GetContext(ctx, &n, `
			SELECT COALESCE((
				SELECT GREATEST(`+activeOrders+` - l.listed_quantity, 0)
				FROM listings l WHERE l.id = $1
			), 0)
		`, *id)
		return float64(n), errs.FromDB(err)
	}
}

// driftedListings counts listings among ids whose published availability
// disagrees with their active orders.
func driftedListings(db *sqlx.DB, ids *[]uuid.UUID) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		if len(*ids) == 0 {
			return 0, nil
		}
		var n int
		err := db.GetContext(ctx, &n, `
			SELECT COUNT(*) FROM listings l
			WHERE l.id = ANY($1::uuid[])
			  AND (l.available_quantity <> GREATEST(l.listed_quantity - `+activeOrders+`, 0)
			   OR l.available <> (GREATEST(l.listed_quantity - `+activeOrders+`, 0) > 0))
		`, pq.Array(idStrings(*ids)))
		return float64(n), errs.FromDB(err)
	}
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// sample picks the listings a drift experiment corrupts.
func sample(ctx context.Context, t Target, share float64) ([]uuid.UUID, error) {
	if len(t.Listings) > 0 {
		return append([]uuid.UUID(nil), t.Listings...), nil
	}
	var total int
	if err := t.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM listings`); err != nil {
		return nil, errs.FromDB(err)
	}
	n := int(math.Ceil(float64(total) * share))
	if n < 1 {
		n = 1
	}
	var ids []uuid.UUID
	err := t.DB.SelectContext(ctx, &ids, `SELECT id FROM listings ORDER BY random() LIMIT $1`, n)
	return ids, errs.FromDB(err)
}

func zero(v float64) bool { return v == 0 }

// DoubleBookingExperiment fires concurrent checkouts from distinct members
// at one fresh single-copy listing.
func DoubleBookingExperiment(t Target) Experiment {
	var (
		listingID uuid.UUID
		winners   atomic.Int64
	)
	concurrency := t.Concurrency
	if concurrency <= 0 {
		concurrency = 50
	}

	return Experiment{
		Name:       "concurrent-checkout-double-booking",
		Hypothesis: "Exactly one of many simultaneous checkouts of a single-copy listing succeeds",
		SteadyState: []Metric{
			{
				Name:      "overbooked_copies",
				Query:     overbookedCopies(t.DB, &listingID),
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name:      "winning_checkouts",
				Query:     func(context.Context) (float64, error) { return float64(winners.Load()), nil },
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:   "seed-listing",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					listingID = uuid.New()
					winners.Store(0)
					_, err := t.DB.ExecContext(ctx, `
						INSERT INTO listings (id, title, listed_quantity, available_quantity, available, price_per_week, price_per_month)
						VALUES ($1, $2, 1, 1, TRUE, 1, 3)
					`, listingID, "chaos "+listingID.String()[:8])
					return errs.FromDB(err)
				},
			},
			{
				Type:       "concurrent-requests",
				Target:     "rentals",
				Parameters: map[string]any{"concurrency": concurrency},
				Execute: func(ctx context.Context) error {
					return stampede(ctx, t, listingID, concurrency, &winners)
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "release-listing",
				Target: "orders",
				Execute: func(ctx context.Context) error {
					_, err := t.DB.ExecContext(ctx, `
						UPDATE orders SET status = 'Cancelled', updated_at = NOW()
						WHERE listing_id = $1 AND status = 'Ordered'
					`, listingID)
					if err != nil {
						return errs.FromDB(err)
					}
					return t.Resync.Notify(ctx, resync.ForListings("chaos_rollback", listingID))
				},
			},
		},
		Validation: []Assertion{
			{Metric: "overbooked_copies", Condition: zero, Message: "The listing may not have more active orders than copies"},
			{Metric: "winning_checkouts", Condition: func(v float64) bool { return v == 1 }, Message: "Exactly one checkout should win"},
		},
		Duration:    10 * time.Second,
		BlastRadius: 0,
	}
}

// stampede releases every checkout at once. Any failure other than
// OutOfStock is reported.
func stampede(ctx context.Context, t Target, listingID uuid.UUID, n int, winners *atomic.Int64) error {
	tokens := make([]string, n)
	for i := range tokens {
		tok, err := t.Tokens.Issue(&membership.Member{ID: uuid.New(), Role: membership.RoleMember})
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		tokens[i] = tok
	}

	start := make(chan struct{})
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		unexpected []error
	)
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			<-start
			err := t.Rentals.Checkout(ctx, tok, listingID)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, errs.ErrOutOfStock):
			default:
				mu.Lock()
				unexpected = append(unexpected, err)
				mu.Unlock()
			}
		}(tok)
	}
	close(start)
	wg.Wait()
	return errors.Join(unexpected...)
}

// DriftExperiment corrupts the published availability of a share of the
// listings, the way a crash between an order write and its projection
// would. With notify set the reconciler is told at once; otherwise only
// the periodic sweep can heal it.
func DriftExperiment(t Target, notify bool) Experiment {
	const share = 0.1
	name := "availability-drift-resync"
	hypothesis := "A resync signal heals corrupted listing availability"
	duration := 30 * time.Second
	if !notify {
		name = "availability-drift-sweep"
		hypothesis = "The periodic sweep heals corrupted listing availability without any signal"
		duration = t.SweepInterval + 30*time.Second
	}

	var touched []uuid.UUID
	method := []Action{
		{
			Type:       "corrupt-availability",
			Target:     "listings",
			Parameters: map[string]any{"share": share},
			Execute: func(ctx context.Context) error {
				ids, err := sample(ctx, t, share)
				if err != nil {
					return err
				}
				touched = ids
				_, err = t.DB.ExecContext(ctx, `
					UPDATE listings
					SET available = NOT available,
					    available_quantity = CASE WHEN available THEN 0 ELSE listed_quantity END,
					    updated_at = NOW()
					WHERE id = ANY($1::uuid[])
				`, pq.Array(idStrings(ids)))
				return errs.FromDB(err)
			},
		},
	}
	if notify {
		method = append(method, Action{
			Type:   "resync",
			Target: "reconciler",
			Execute: func(ctx context.Context) error {
				return t.Resync.Notify(ctx, resync.Full("chaos_drift"))
			},
		})
	}

	return Experiment{
		Name:       name,
		Hypothesis: hypothesis,
		SteadyState: []Metric{
			{
				Name:      "drifted_listings",
				Query:     driftedListings(t.DB, &touched),
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: method,
		Validation: []Assertion{
			{Metric: "drifted_listings", Condition: zero, Message: "Every listing should match its active orders again"},
		},
		Duration:    duration,
		BlastRadius: share,
	}
}
