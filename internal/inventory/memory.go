package inventory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"shelfshare/internal/errs"
)

// MemoryRepository keeps entries in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
	writes  int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[uuid.UUID]Entry)}
}

func (r *MemoryRepository) Upsert(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ListingID] = e
	r.writes++
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, listingID uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[listingID]
	if !ok {
		return nil, errs.NotFound("inventory entry", listingID)
	}
	return &e, nil
}

// Writes reports how many upserts have been made.
func (r *MemoryRepository) Writes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}
