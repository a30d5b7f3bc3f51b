// internal/reservation/service.go
package reservation

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"shelfshare/internal/inventory"
	"shelfshare/internal/membership"
	"shelfshare/internal/orders"
)

// Service defines the reservation workflow.
type Service interface {
	Checkout(ctx context.Context, cart Cart) ([]*orders.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*orders.Order, error)
	Return(ctx context.Context, orderID uuid.UUID) (*orders.Order, error)
	Extend(ctx context.Context, orderID uuid.UUID, freq orders.Frequency) (*orders.Order, error)
	RecordPayment(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, kind PaymentKind) (decimal.Decimal, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*orders.Order, error)
	MyRentals(ctx context.Context) (*RentalsView, error)
	ListOrders(ctx context.Context, f orders.Filter) ([]*orders.Order, error)
}

// Auth reports the caller of a request.
type Auth interface {
	CurrentUser(ctx context.Context) (membership.Principal, bool)
}

// Projector republishes one listing's availability.
type Projector interface {
	ProjectOne(ctx context.Context, listingID uuid.UUID) (inventory.Entry, error)
}

// Entry is one journaled transition of an order.
type Entry struct {
	OrderID   uuid.UUID
	ListingID uuid.UUID
	Type      string
	Payload   any
}

// Journal records order transitions.
type Journal interface {
	Record(ctx context.Context, e Entry) error
}

// Gateway guards a checkout against concurrent resubmission. Reserve
// returns replay=true when the key already completed, and an
// errs.ErrInvalidState error while another request holds it.
type Gateway interface {
	Reserve(ctx context.Context, key string) (replay bool, err error)
	MarkSuccess(ctx context.Context, key string) error
	MarkFailure(ctx context.Context, key string) error
}
