package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfshare/internal/errs"
	"shelfshare/internal/pgtest"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newOrder(listing, user uuid.UUID) NewOrder {
	return NewOrder{
		ListingID: listing,
		UserID:    user,
		Frequency: Weekly,
		Price:     decimal.RequireFromString("4.50"),
		StartDate: day(2026, 1, 10),
		EndDate:   day(2026, 1, 17),
	}
}

// runStoreContract checks the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		o, created, err := s.CreateOrder(ctx, newOrder(uuid.New(), uuid.New()))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, StatusOrdered, o.Status)
		assert.True(t, o.AmountPaid.IsZero())

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		assert.True(t, got.Price.Equal(decimal.RequireFromString("4.50")))
		assert.True(t, got.EndDate.Equal(day(2026, 1, 17)))

		_, err = s.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("retry returns existing order", func(t *testing.T) {
		s := newStore(t)
		in := newOrder(uuid.New(), uuid.New())
		first, _, err := s.CreateOrder(ctx, in)
		require.NoError(t, err)

		again, created, err := s.CreateOrder(ctx, in)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		n, err := s.CountActive(ctx, in.ListingID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("strict capacity", func(t *testing.T) {
		s := newStore(t)
		listing := uuid.New()
		in := newOrder(listing, uuid.New())
		in.Strict, in.Capacity = true, 1
		_, _, err := s.CreateOrder(ctx, in)
		require.NoError(t, err)

		other := newOrder(listing, uuid.New())
		other.Strict, other.Capacity = true, 1
		_, _, err = s.CreateOrder(ctx, other)
		assert.ErrorIs(t, err, errs.ErrOutOfStock)

		// the original caller retrying is a replay, not a second copy
		_, created, err := s.CreateOrder(ctx, in)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("concurrent strict creates", func(t *testing.T) {
		s := newStore(t)
		listing := uuid.New()
		var wg sync.WaitGroup
		results := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				in := newOrder(listing, uuid.New())
				in.Strict, in.Capacity = true, 2
				_, _, results[i] = s.CreateOrder(ctx, in)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range results {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, errs.ErrOutOfStock)
		}
		assert.Equal(t, 2, ok)
	})

	t.Run("terminal statuses", func(t *testing.T) {
		s := newStore(t)
		o, _, err := s.CreateOrder(ctx, newOrder(uuid.New(), uuid.New()))
		require.NoError(t, err)

		cancelled, err := s.SetStatus(ctx, o.ID, StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)

		_, err = s.SetStatus(ctx, o.ID, StatusReturned)
		assert.ErrorIs(t, err, errs.ErrInvalidState)
		_, err = s.SetStatus(ctx, o.ID, StatusOrdered)
		assert.ErrorIs(t, err, errs.ErrInvalidInput)
		_, err = s.SetStatus(ctx, uuid.New(), StatusReturned)
		assert.ErrorIs(t, err, errs.ErrNotFound)

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)

		active, err := s.ListActive(ctx, o.ListingID)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("extend once", func(t *testing.T) {
		s := newStore(t)
		o, _, err := s.CreateOrder(ctx, newOrder(uuid.New(), uuid.New()))
		require.NoError(t, err)

		_, err = s.Extend(ctx, o.ID, Extension{From: day(2000, 1, 1), To: day(2026, 1, 24), Frequency: Weekly, Price: decimal.NewFromInt(4)})
		assert.ErrorIs(t, err, errs.ErrInvalidState)

		ext, err := s.Extend(ctx, o.ID, Extension{From: o.EndDate, To: day(2026, 1, 24), Frequency: Weekly, Price: decimal.NewFromInt(4)})
		require.NoError(t, err)
		assert.True(t, ext.EndDate.Equal(day(2026, 1, 24)))
		require.NotNil(t, ext.ExtendFrequency)
		assert.Equal(t, Weekly, *ext.ExtendFrequency)
		assert.True(t, ext.ExtendPrice.Equal(decimal.NewFromInt(4)))
		assert.Equal(t, StatusOrdered, ext.Status)

		_, err = s.Extend(ctx, o.ID, Extension{From: ext.EndDate, To: day(2026, 2, 24), Frequency: Monthly, Price: decimal.NewFromInt(12)})
		assert.ErrorIs(t, err, errs.ErrInvalidState)

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, got.EndDate.Equal(day(2026, 1, 24)))
		assert.Equal(t, Weekly, *got.ExtendFrequency)
		assert.True(t, got.ExtendPrice.Equal(decimal.NewFromInt(4)))
	})

	t.Run("payments", func(t *testing.T) {
		s := newStore(t)
		o, _, err := s.CreateOrder(ctx, newOrder(uuid.New(), uuid.New()))
		require.NoError(t, err)
		_, err = s.RecordPayment(ctx, o.ID, decimal.RequireFromString("2.25"))
		require.NoError(t, err)
		paid, err := s.RecordPayment(ctx, o.ID, decimal.RequireFromString("2.25"))
		require.NoError(t, err)
		assert.True(t, paid.Equal(decimal.RequireFromString("4.50")))

		_, err = s.RecordPayment(ctx, uuid.New(), decimal.NewFromInt(1))
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("list for user", func(t *testing.T) {
		s := newStore(t)
		user := uuid.New()
		older := newOrder(uuid.New(), user)
		newer := newOrder(uuid.New(), user)
		newer.StartDate, newer.EndDate = day(2026, 2, 1), day(2026, 2, 8)
		_, _, err := s.CreateOrder(ctx, older)
		require.NoError(t, err)
		_, _, err = s.CreateOrder(ctx, newer)
		require.NoError(t, err)

		got, err := s.ListForUser(ctx, user, StatusOrdered)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, newer.ListingID, got[0].ListingID)

		none, err := s.ListForUser(ctx, user, StatusReturned)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestPostgresStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewPostgresStore(pgtest.Open(t)) })
}

func TestOrderBalance(t *testing.T) {
	o := &Order{
		Price:       decimal.NewFromInt(10),
		ExtendPrice: decimal.NewFromInt(5),
		AmountPaid:  decimal.NewFromInt(12),
	}
	assert.True(t, o.Balance().Equal(decimal.NewFromInt(3)))
	o.AmountPaid = decimal.NewFromInt(20)
	assert.True(t, o.Balance().IsZero())
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	s := NewMemoryStore()
	s.Fail = func(op string) error {
		if op == "create" {
			return errs.Unavailable(assert.AnError)
		}
		return nil
	}
	_, _, err := s.CreateOrder(context.Background(), newOrder(uuid.New(), uuid.New()))
	assert.True(t, errs.IsRetriable(err))
}
