package projector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"shelfshare/internal/catalog"
	"shelfshare/internal/errs"
	"shelfshare/internal/inventory"
	"shelfshare/internal/orders"
	"shelfshare/internal/resync"
	"shelfshare/pkg/eventstore"
)

type fixture struct {
	listings  *catalog.MemoryRepository
	orders    *orders.MemoryStore
	projector *Projector
}

func newFixture(store catalog.Store, listings *catalog.MemoryRepository) *fixture {
	o := orders.NewMemoryStore()
	ledger := inventory.NewLedger(o, listings, inventory.NewMemoryRepository(), zap.NewNop())
	if store == nil {
		store = listings
	}
	return &fixture{
		listings:  listings,
		orders:    o,
		projector: New(ledger, store, zap.NewNop(), WithRetry(3, time.Millisecond)),
	}
}

func listing(qty int) *catalog.Listing {
	return &catalog.Listing{ID: uuid.New(), Title: "t", ListedQuantity: qty, AvailableQuantity: qty, Available: qty > 0}
}

func (f *fixture) place(t *testing.T, listingID uuid.UUID) *orders.Order {
	t.Helper()
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	o, _, err := f.orders.CreateOrder(context.Background(), orders.NewOrder{
		ListingID: listingID,
		UserID:    uuid.New(),
		Frequency: orders.Weekly,
		Price:     decimal.NewFromInt(3),
		StartDate: start,
		EndDate:   start.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) listing(t *testing.T, id uuid.UUID) *catalog.Listing {
	t.Helper()
	l, err := f.listings.GetListing(context.Background(), id)
	require.NoError(t, err)
	return l
}

func TestProjectOneFollowsOrders(t *testing.T) {
	ctx := context.Background()
	x := listing(1)
	f := newFixture(nil, catalog.NewMemoryRepository(x))

	o := f.place(t, x.ID)
	_, err := f.projector.ProjectOne(ctx, x.ID)
	require.NoError(t, err)
	got := f.listing(t, x.ID)
	assert.Equal(t, 0, got.AvailableQuantity)
	assert.Equal(t, 1, got.RentedQuantity)
	assert.False(t, got.Available)

	_, err = f.orders.SetStatus(ctx, o.ID, orders.StatusCancelled)
	require.NoError(t, err)
	entry, err := f.projector.ProjectOne(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AvailableQuantity)
	got = f.listing(t, x.ID)
	assert.Equal(t, 1, got.AvailableQuantity)
	assert.True(t, got.Available)
}

func TestProjectOneUsesListedQuantity(t *testing.T) {
	x := listing(3)
	f := newFixture(nil, catalog.NewMemoryRepository(x))
	f.place(t, x.ID)
	f.place(t, x.ID)

	_, err := f.projector.ProjectOne(context.Background(), x.ID)
	require.NoError(t, err)
	got := f.listing(t, x.ID)
	assert.Equal(t, 1, got.AvailableQuantity)
	assert.True(t, got.Available)
}

func TestProjectAllIsolatesFailures(t *testing.T) {
	a, b, c := listing(1), listing(1), listing(2)
	repo := catalog.NewMemoryRepository(a, b, c)
	repo.FailUpdates[b.ID] = errors.New("constraint violated")
	f := newFixture(nil, repo)
	f.place(t, a.ID)
	f.place(t, c.ID)

	report, err := f.projector.ProjectAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	require.Equal(t, 1, report.Failed())
	assert.Equal(t, b.ID, report.Failures[0].ListingID)
	assert.Equal(t, report.Total-report.Failed(), report.Succeeded)

	assert.False(t, f.listing(t, a.ID).Available)
	assert.Equal(t, 1, f.listing(t, c.ID).AvailableQuantity)
}

// flakyStore fails availability writes with a transient error a set number
// of times.
type flakyStore struct {
	catalog.Store
	mu       sync.Mutex
	failures int
	calls    int
	listErr  error
}

func (s *flakyStore) UpdateListingAvailability(ctx context.Context, id uuid.UUID, a catalog.Availability) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return errs.Unavailable(errors.New("catalog timeout"))
	}
	return s.Store.UpdateListingAvailability(ctx, id, a)
}

func (s *flakyStore) ListAllListingIDs(ctx context.Context) ([]uuid.UUID, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListAllListingIDs(ctx)
}

func TestProjectAllRetriesTransientFailures(t *testing.T) {
	x := listing(1)
	repo := catalog.NewMemoryRepository(x)
	flaky := &flakyStore{Store: repo, failures: 2}
	f := newFixture(flaky, repo)

	report, err := f.projector.ProjectAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 3, flaky.calls)
}

func TestProjectAllGivesUpAfterMaxTries(t *testing.T) {
	x := listing(1)
	repo := catalog.NewMemoryRepository(x)
	flaky := &flakyStore{Store: repo, failures: 10}
	f := newFixture(flaky, repo)

	report, err := f.projector.ProjectAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())
	assert.True(t, errs.IsRetriable(report.Failures[0].Err))
	assert.Equal(t, 3, flaky.calls)
}

func TestProjectAllFailsWhenListingsCannotBeListed(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	f := newFixture(&flakyStore{Store: repo, listErr: errs.Unavailable(errors.New("down"))}, repo)

	_, err := f.projector.ProjectAll(context.Background())
	assert.True(t, errs.IsRetriable(err))
}

func TestSweeperHandlesSignals(t *testing.T) {
	x := listing(1)
	f := newFixture(nil, catalog.NewMemoryRepository(x))
	s := NewSweeper(f.projector, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	f.place(t, x.ID)
	require.NoError(t, s.Notify(ctx, resync.ForListings("checkout", x.ID)))
	assert.Eventually(t, func() bool {
		return !f.listing(t, x.ID).Available
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSweeperDrainMergesSignals(t *testing.T) {
	s := NewSweeper(nil, time.Hour, zap.NewNop())
	a, b := uuid.New(), uuid.New()
	require.NoError(t, s.Notify(context.Background(), resync.ForListings("x", b, a)))
	ids := s.drain(resync.ForListings("x", a))
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ids)

	require.NoError(t, s.Notify(context.Background(), resync.Full("x")))
	assert.Nil(t, s.drain(resync.ForListings("x", a)))
}

type memJournal struct {
	events  []eventstore.Event
	cursors map[string]int64
}

func (j *memJournal) StreamEvents(_ context.Context, fromID int64, batchSize int) ([]eventstore.Event, error) {
	var out []eventstore.Event
	for _, e := range j.events {
		if e.ID > fromID && len(out) < batchSize {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *memJournal) LoadCursor(_ context.Context, name string) (int64, error) {
	return j.cursors[name], nil
}

func (j *memJournal) SaveCursor(_ context.Context, name string, pos int64) error {
	j.cursors[name] = pos
	return nil
}

func TestFollowerProjectsTouchedListings(t *testing.T) {
	x, y := listing(1), listing(1)
	repo := catalog.NewMemoryRepository(x, y)
	f := newFixture(nil, repo)
	f.place(t, x.ID)
	f.place(t, y.ID)

	journal := &memJournal{cursors: map[string]int64{}}
	for i, id := range []uuid.UUID{x.ID, x.ID, uuid.Nil} {
		md := eventstore.Metadata{ListingKey: id.String()}
		if id == uuid.Nil {
			md = eventstore.Metadata{ListingKey: "garbage"}
		}
		journal.events = append(journal.events, eventstore.Event{ID: int64(i + 1), Metadata: md})
	}

	follower := NewFollower(f.projector, journal, time.Hour, zap.NewNop())
	follower.batchSize = 2
	n, err := follower.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), journal.cursors["listing-availability"])

	assert.False(t, f.listing(t, x.ID).Available)
	// y was not in the journal, so it was left alone
	assert.True(t, f.listing(t, y.ID).Available)

	n, err = follower.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFollowerHoldsCursorOnFailure(t *testing.T) {
	x := listing(1)
	repo := catalog.NewMemoryRepository(x)
	repo.FailUpdates[x.ID] = errors.New("rejected")
	f := newFixture(nil, repo)

	journal := &memJournal{
		cursors: map[string]int64{},
		events:  []eventstore.Event{{ID: 1, Metadata: eventstore.Metadata{ListingKey: x.ID.String()}}},
	}
	follower := NewFollower(f.projector, journal, time.Hour, zap.NewNop())
	n, err := follower.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, journal.cursors["listing-availability"])
}

func TestFollowerWaitsForEventsToSettle(t *testing.T) {
	x, y := listing(1), listing(1)
	repo := catalog.NewMemoryRepository(x, y)
	f := newFixture(nil, repo)
	f.place(t, x.ID)
	f.place(t, y.ID)

	now := time.Date(2027, 1, 31, 12, 0, 0, 0, time.UTC)
	journal := &memJournal{
		cursors: map[string]int64{},
		events: []eventstore.Event{
			{ID: 1, CreatedAt: now.Add(-time.Minute), Metadata: eventstore.Metadata{ListingKey: x.ID.String()}},
			{ID: 3, CreatedAt: now.Add(-time.Second), Metadata: eventstore.Metadata{ListingKey: y.ID.String()}},
		},
	}
	follower := NewFollower(f.projector, journal, time.Hour, zap.NewNop())
	follower.now = func() time.Time { return now }

	n, err := follower.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), journal.cursors["listing-availability"], "cursor stays below the young event")
	assert.False(t, f.listing(t, x.ID).Available)
	assert.True(t, f.listing(t, y.ID).Available)

	// id 2 commits late, after id 3
	journal.events = append(journal.events[:1], append([]eventstore.Event{
		{ID: 2, CreatedAt: now.Add(-2 * time.Second), Metadata: eventstore.Metadata{ListingKey: y.ID.String()}},
	}, journal.events[1:]...)...)
	now = now.Add(settleLag)

	n, err = follower.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(3), journal.cursors["listing-availability"])
	assert.False(t, f.listing(t, y.ID).Available)
}

func TestProjectManyLogsListingsSkippedOnCancel(t *testing.T) {
	x, y := listing(1), listing(2)
	repo := catalog.NewMemoryRepository(x, y)
	o := orders.NewMemoryStore()
	core, logs := observer.New(zap.WarnLevel)
	ledger := inventory.NewLedger(o, repo, inventory.NewMemoryRepository(), zap.NewNop())
	p := New(ledger, repo, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := p.ProjectMany(ctx, []uuid.UUID{x.ID, y.ID})
	assert.Equal(t, 2, report.Failed())
	for _, fail := range report.Failures {
		assert.ErrorIs(t, fail.Err, context.Canceled)
	}

	skipped := logs.FilterMessage("listing projection skipped").All()
	require.Len(t, skipped, 2)
	var logged []string
	for _, e := range skipped {
		logged = append(logged, e.ContextMap()["listing_id"].(string))
	}
	assert.ElementsMatch(t, []string{x.ID.String(), y.ID.String()}, logged)
}
