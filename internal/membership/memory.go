package membership

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"shelfshare/internal/errs"
)

// MemoryRepository keeps members in process. Used by tests and local runs
// without a database.
type MemoryRepository struct {
	mu          sync.RWMutex
	members     map[uuid.UUID]Member
	byEmail     map[string]uuid.UUID
	credentials map[uuid.UUID]Credential
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		members:     make(map[uuid.UUID]Member),
		byEmail:     make(map[string]uuid.UUID),
		credentials: make(map[uuid.UUID]Credential),
	}
}

func (r *MemoryRepository) Insert(_ context.Context, member *Member, credential *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[member.Email]; ok {
		return errs.InvalidInput("email %s already registered", member.Email)
	}
	r.members[member.ID] = *member
	r.byEmail[member.Email] = member.ID
	r.credentials[member.ID] = *credential
	return nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*Member, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return nil, errs.NotFound("member", id)
	}
	return &m, nil
}

func (r *MemoryRepository) GetCredential(_ context.Context, memberID uuid.UUID) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.credentials[memberID]
	if !ok {
		return nil, errs.NotFound("credential", memberID)
	}
	return &c, nil
}

func (r *MemoryRepository) UpdateRole(_ context.Context, id uuid.UUID, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return errs.NotFound("member", id)
	}
	m.Role = role
	r.members[id] = m
	return nil
}
