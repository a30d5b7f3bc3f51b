package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"shelfshare/internal/errs"
)

// MemoryRepository keeps listings in process. FailUpdates lets tests make
// availability writes fail for chosen listings.
type MemoryRepository struct {
	mu          sync.RWMutex
	listings    map[uuid.UUID]Listing
	FailUpdates map[uuid.UUID]error
}

func NewMemoryRepository(seed ...*Listing) *MemoryRepository {
	r := &MemoryRepository{listings: make(map[uuid.UUID]Listing), FailUpdates: make(map[uuid.UUID]error)}
	for _, l := range seed {
		r.listings[l.ID] = *l
	}
	return r
}

func (r *MemoryRepository) CreateListing(_ context.Context, l *Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings[l.ID] = *l
	return nil
}

func (r *MemoryRepository) GetListing(_ context.Context, id uuid.UUID) (*Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, errs.NotFound("listing", id)
	}
	return &l, nil
}

func (r *MemoryRepository) ListListings(_ context.Context, f ListFilter) ([]*Listing, error) {
	r.mu.RLock()
	var out []*Listing
	for _, l := range r.listings {
		if f.AvailableOnly && !l.Available {
			continue
		}
		l := l
		out = append(out, &l)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListAllListingIDs(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.listings))
	for id := range r.listings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (r *MemoryRepository) SetListedQuantity(_ context.Context, id uuid.UUID, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return errs.NotFound("listing", id)
	}
	l.ListedQuantity = qty
	r.listings[id] = l
	return nil
}

func (r *MemoryRepository) UpdateListingAvailability(_ context.Context, id uuid.UUID, a Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailUpdates[id]; err != nil {
		return err
	}
	l, ok := r.listings[id]
	if !ok {
		return errs.NotFound("listing", id)
	}
	l.AvailableQuantity = a.AvailableQuantity
	l.RentedQuantity = a.RentedQuantity
	l.Available = a.Available
	r.listings[id] = l
	return nil
}
