// Package inventory derives per-listing copy counters from the active
// orders. Entries are recomputed, never incremented, so a rerun after any
// partial failure converges on the right numbers.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"shelfshare/internal/catalog"
	"shelfshare/internal/keylock"
)

// Entry is one ledger row.
type Entry struct {
	ListingID         uuid.UUID `json:"listing_id" db:"listing_id"`
	ListedQuantity    int       `json:"listed_quantity" db:"listed_quantity"`
	RentedQuantity    int       `json:"rented_quantity" db:"rented_quantity"`
	AvailableQuantity int       `json:"available_quantity" db:"available_quantity"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Available reports whether at least one copy can be rented.
func (e Entry) Available() bool { return e.AvailableQuantity > 0 }

// Derive computes the counters for a listing with listed copies and active
// orders. Available quantity is floored at zero when a listing is overbooked.
func Derive(listingID uuid.UUID, listed, active int) Entry {
	available := listed - active
	if available < 0 {
		available = 0
	}
	return Entry{
		ListingID:         listingID,
		ListedQuantity:    listed,
		RentedQuantity:    active,
		AvailableQuantity: available,
	}
}

// ActiveCounter counts the active orders of a listing.
type ActiveCounter interface {
	CountActive(ctx context.Context, listingID uuid.UUID) (int, error)
}

// ListingReader resolves a listing's listed quantity.
type ListingReader interface {
	GetListing(ctx context.Context, id uuid.UUID) (*catalog.Listing, error)
}

// Repository persists ledger entries.
type Repository interface {
	Upsert(ctx context.Context, e Entry) error
	Get(ctx context.Context, listingID uuid.UUID) (*Entry, error)
}

// Ledger recomputes entries from the order store.
type Ledger struct {
	orders   ActiveCounter
	listings ListingReader
	repo     Repository
	locks    *keylock.Locker
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

func NewLedger(orders ActiveCounter, listings ListingReader, repo Repository, logger *zap.Logger) *Ledger {
	return &Ledger{
		orders:   orders,
		listings: listings,
		repo:     repo,
		locks:    keylock.New(),
		tracer:   otel.Tracer("shelfshare/inventory"),
		logger:   logger,
		now:      time.Now,
	}
}

// Recompute counts the listing's active orders and persists the entry.
// Recomputes of one listing are serialized within the process; across
// processes the last writer wins, which is safe since every writer derives
// from the same order rows.
func (l *Ledger) Recompute(ctx context.Context, listingID uuid.UUID) (Entry, error) {
	ctx, span := l.tracer.Start(ctx, "inventory.recompute",
		trace.WithAttributes(attribute.String("listing.id", listingID.String())),
	)
	defer span.End()

	unlock, err := l.locks.Lock(ctx, listingID)
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	listing, err := l.listings.GetListing(ctx, listingID)
	if err != nil {
		span.RecordError(err)
		return Entry{}, fmt.Errorf("recompute %s: %w", listingID, err)
	}
	active, err := l.orders.CountActive(ctx, listingID)
	if err != nil {
		span.RecordError(err)
		return Entry{}, fmt.Errorf("recompute %s: count active orders: %w", listingID, err)
	}

	entry := Derive(listingID, listing.ListedQuantity, active)
	entry.UpdatedAt = l.now().UTC()
	if err := l.repo.Upsert(ctx, entry); err != nil {
		span.RecordError(err)
		return Entry{}, fmt.Errorf("recompute %s: persist entry: %w", listingID, err)
	}

	span.SetAttributes(
		attribute.Int("inventory.rented", entry.RentedQuantity),
		attribute.Int("inventory.available", entry.AvailableQuantity),
	)
	if active > listing.ListedQuantity {
		l.logger.Warn("listing is overbooked",
			zap.String("listing_id", listingID.String()),
			zap.Int("active_orders", active),
			zap.Int("listed_quantity", listing.ListedQuantity))
	}
	return entry, nil
}

// Get returns the stored entry without recomputing it.
func (l *Ledger) Get(ctx context.Context, listingID uuid.UUID) (Entry, error) {
	e, err := l.repo.Get(ctx, listingID)
	if err != nil {
		return Entry{}, err
	}
	return *e, nil
}
