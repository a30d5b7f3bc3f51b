// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, email, name, password string) (*Member, error)
	Authenticate(ctx context.Context, email, password string) (*Member, string, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	SetRole(ctx context.Context, id uuid.UUID, role Role) error
}

// Repository persists members and their credentials.
type Repository interface {
	Insert(ctx context.Context, member *Member, credential *Credential) error
	GetByEmail(ctx context.Context, email string) (*Member, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Member, error)
	GetCredential(ctx context.Context, memberID uuid.UUID) (*Credential, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role Role) error
}
