package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"shelfshare/internal/catalog"
	"shelfshare/internal/errs"
	"shelfshare/internal/orders"
	"shelfshare/internal/pgtest"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLedger(listings *catalog.MemoryRepository, store orders.Store, repo Repository) *Ledger {
	l := NewLedger(store, listings, repo, zap.NewNop())
	l.now = func() time.Time { return fixedNow }
	return l
}

func TestDerive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		listed := rapid.IntRange(0, 10).Draw(t, "listed")
		active := rapid.IntRange(0, 12).Draw(t, "active")
		e := Derive(uuid.Nil, listed, active)

		want := listed - active
		if want < 0 {
			want = 0
		}
		if e.AvailableQuantity != want {
			t.Fatalf("available %d, want %d", e.AvailableQuantity, want)
		}
		if e.RentedQuantity != active || e.ListedQuantity != listed {
			t.Fatalf("counters not carried: %+v", e)
		}
		if e.Available() != (want > 0) {
			t.Fatalf("available flag %v with quantity %d", e.Available(), want)
		}
	})
}

// TestRecomputeMatchesActiveOrders drives random checkout, cancel and return
// sequences and checks the ledger against the order set.
func TestRecomputeMatchesActiveOrders(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		listed := rapid.IntRange(0, 4).Draw(t, "listed")
		listing := &catalog.Listing{ID: uuid.New(), Title: "x", ListedQuantity: listed}
		store := orders.NewMemoryStore()
		repo := NewMemoryRepository()
		ledger := newLedger(catalog.NewMemoryRepository(listing), store, repo)

		var placed []uuid.UUID
		steps := rapid.IntRange(0, 25).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				o, _, err := store.CreateOrder(ctx, orders.NewOrder{
					ListingID: listing.ID,
					UserID:    uuid.New(),
					Frequency: orders.Weekly,
					Price:     decimal.NewFromInt(1),
					StartDate: fixedNow,
					EndDate:   fixedNow.AddDate(0, 0, 7),
				})
				if err != nil {
					t.Fatalf("create: %v", err)
				}
				placed = append(placed, o.ID)
			case 1, 2:
				if len(placed) == 0 {
					continue
				}
				id := placed[rapid.IntRange(0, len(placed)-1).Draw(t, "order")]
				status := orders.StatusCancelled
				if i%2 == 0 {
					status = orders.StatusReturned
				}
				_, err := store.SetStatus(ctx, id, status)
				if err != nil && !errors.Is(err, errs.ErrInvalidState) {
					t.Fatalf("set status: %v", err)
				}
			}
		}

		active, err := store.CountActive(ctx, listing.ID)
		if err != nil {
			t.Fatal(err)
		}
		first, err := ledger.Recompute(ctx, listing.ID)
		if err != nil {
			t.Fatal(err)
		}
		if first != Derive(listing.ID, listed, active).withTime(fixedNow) {
			t.Fatalf("entry %+v does not match %d active of %d listed", first, active, listed)
		}

		second, err := ledger.Recompute(ctx, listing.ID)
		if err != nil {
			t.Fatal(err)
		}
		if first != second {
			t.Fatalf("recompute not idempotent: %+v then %+v", first, second)
		}
		stored, err := ledger.Get(ctx, listing.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored != second {
			t.Fatalf("stored %+v, recomputed %+v", stored, second)
		}
	})
}

func (e Entry) withTime(t time.Time) Entry {
	e.UpdatedAt = t
	return e
}

func TestRecomputePropagatesErrors(t *testing.T) {
	ctx := context.Background()
	store := orders.NewMemoryStore()
	ledger := newLedger(catalog.NewMemoryRepository(), store, NewMemoryRepository())

	_, err := ledger.Recompute(ctx, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)

	listing := &catalog.Listing{ID: uuid.New(), ListedQuantity: 1}
	store.Fail = func(op string) error {
		if op == "count_active" {
			return errs.Unavailable(errors.New("db down"))
		}
		return nil
	}
	ledger = newLedger(catalog.NewMemoryRepository(listing), store, NewMemoryRepository())
	_, err = ledger.Recompute(ctx, listing.ID)
	assert.True(t, errs.IsRetriable(err))
}

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgresRepository(pgtest.Open(t))
	id := uuid.New()

	_, err := repo.Get(ctx, id)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, Derive(id, 2, 1).withTime(fixedNow)))
	require.NoError(t, repo.Upsert(ctx, Derive(id, 2, 2).withTime(fixedNow)))
	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableQuantity)
	assert.Equal(t, 2, got.RentedQuantity)
}
