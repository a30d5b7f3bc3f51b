// Package orders is the durable record of rental orders.
package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store persists orders. Transitions out of a terminal status fail with
// errs.ErrInvalidState and unknown ids with errs.ErrNotFound.
type Store interface {
	// CreateOrder inserts an Ordered order. A retry of the same (user,
	// listing, frequency, start date) returns the active order created the
	// first time and created=false.
	CreateOrder(ctx context.Context, in NewOrder) (o *Order, created bool, err error)
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Order, error)
	Extend(ctx context.Context, id uuid.UUID, ext Extension) (*Order, error)
	// RecordPayment adds amount to amount_paid and returns the new total.
	RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	ListActive(ctx context.Context, listingID uuid.UUID) ([]*Order, error)
	CountActive(ctx context.Context, listingID uuid.UUID) (int, error)
	// ListForUser returns the user's orders in status, newest start first.
	ListForUser(ctx context.Context, userID uuid.UUID, status Status) ([]*Order, error)
	List(ctx context.Context, f Filter) ([]*Order, error)
}
