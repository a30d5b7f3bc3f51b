// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Store is the part of the catalog the reconciliation core depends on.
// UpdateListingAvailability is the only mutation it issues.
type Store interface {
	GetListing(ctx context.Context, id uuid.UUID) (*Listing, error)
	UpdateListingAvailability(ctx context.Context, id uuid.UUID, a Availability) error
	ListAllListingIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Repository persists listings.
type Repository interface {
	Store
	CreateListing(ctx context.Context, l *Listing) error
	ListListings(ctx context.Context, f ListFilter) ([]*Listing, error)
	SetListedQuantity(ctx context.Context, id uuid.UUID, qty int) error
}

// Service defines the interface for the catalog service.
type Service interface {
	Store
	CreateListing(ctx context.Context, in NewListing) (*Listing, error)
	ListListings(ctx context.Context, f ListFilter) ([]*Listing, error)
	SetListedQuantity(ctx context.Context, id uuid.UUID, qty int) (*Listing, error)
}
