// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shelfshare/internal/errs"
	"shelfshare/internal/resync"
)

const maxPageSize = 100

// service implements the Service interface.
type service struct {
	repo   Repository
	resync resync.Trigger
	logger *zap.Logger
}

// NewService creates a new catalog service instance. Quantity changes are
// reported to trigger so the projector can republish availability.
func NewService(repo Repository, trigger resync.Trigger, logger *zap.Logger) Service {
	return &service{repo: repo, resync: trigger, logger: logger}
}

// CreateListing adds a listing. Its derived fields start at zero and the
// projector is asked to publish them.
func (s *service) CreateListing(ctx context.Context, in NewListing) (*Listing, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errs.InvalidInput("title is required")
	}
	if in.ListedQuantity < 0 {
		return nil, errs.InvalidInput("listed_quantity must not be negative")
	}
	if in.PricePerWeek.IsNegative() || in.PricePerMonth.IsNegative() {
		return nil, errs.InvalidInput("prices must not be negative")
	}

	now := time.Now().UTC()
	l := &Listing{
		ID:             uuid.New(),
		Title:          title,
		ListedQuantity: in.ListedQuantity,
		PricePerWeek:   in.PricePerWeek,
		PricePerMonth:  in.PricePerMonth,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateListing(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	s.logger.Info("listing created", zap.String("listing_id", l.ID.String()), zap.Int("listed_quantity", l.ListedQuantity))
	if err := s.resync.Notify(ctx, resync.ForListings("listing_created", l.ID)); err != nil {
		s.logger.Warn("resync trigger failed", zap.String("listing_id", l.ID.String()), zap.Error(err))
	}
	return l, nil
}

// GetListing retrieves a listing by its ID.
func (s *service) GetListing(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return s.repo.GetListing(ctx, id)
}

func (s *service) ListListings(ctx context.Context, f ListFilter) ([]*Listing, error) {
	if f.Limit <= 0 || f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.ListListings(ctx, f)
}

func (s *service) ListAllListingIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListAllListingIDs(ctx)
}

// SetListedQuantity changes how many copies are owned. The derived fields are
// left for the projector, which is asked to run for this listing.
func (s *service) SetListedQuantity(ctx context.Context, id uuid.UUID, qty int) (*Listing, error) {
	if qty < 0 {
		return nil, errs.InvalidInput("listed_quantity must not be negative")
	}
	if err := s.repo.SetListedQuantity(ctx, id, qty); err != nil {
		return nil, fmt.Errorf("failed to set listed quantity: %w", err)
	}
	if err := s.resync.Notify(ctx, resync.ForListings("listed_quantity_changed", id)); err != nil {
		s.logger.Warn("resync trigger failed", zap.String("listing_id", id.String()), zap.Error(err))
	}
	return s.repo.GetListing(ctx, id)
}

// UpdateListingAvailability writes the derived fields. Only the projector
// calls this, through the internal endpoint or directly.
func (s *service) UpdateListingAvailability(ctx context.Context, id uuid.UUID, a Availability) error {
	if a.AvailableQuantity < 0 || a.RentedQuantity < 0 {
		return errs.InvalidInput("quantities must not be negative")
	}
	if a.Available != (a.AvailableQuantity > 0) {
		return errs.InvalidInput("available must equal available_quantity > 0")
	}
	return s.repo.UpdateListingAvailability(ctx, id, a)
}
