// internal/reservation/domain.go
package reservation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"shelfshare/internal/orders"
)

// CartItem is one listing the caller wants to rent for a frequency.
type CartItem struct {
	ListingID uuid.UUID        `json:"listing_id" validate:"required"`
	Frequency orders.Frequency `json:"frequency" validate:"required,oneof=weekly monthly"`
}

// Cart holds at most one item per (listing, frequency) pair, in the order
// the pairs were first added. The zero value is an empty cart.
type Cart struct {
	items []CartItem
}

// NewCart builds a cart from items, dropping repeated pairs.
func NewCart(items ...CartItem) Cart {
	var c Cart
	for _, it := range items {
		c.Add(it)
	}
	return c
}

// Add puts item in the cart, replacing an entry for the same pair.
func (c *Cart) Add(item CartItem) {
	for i, it := range c.items {
		if it == item {
			c.items[i] = item
			return
		}
	}
	c.items = append(c.items, item)
}

// Remove drops the entry for the pair, if present.
func (c *Cart) Remove(listingID uuid.UUID, freq orders.Frequency) {
	for i, it := range c.items {
		if it.ListingID == listingID && it.Frequency == freq {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			return
		}
	}
}

// Items returns a copy of the cart's entries.
func (c Cart) Items() []CartItem {
	return append([]CartItem(nil), c.items...)
}

func (c Cart) Len() int { return len(c.items) }

// ListingIDs returns each listing in the cart once.
func (c Cart) ListingIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(c.items))
	var ids []uuid.UUID
	for _, it := range c.items {
		if !seen[it.ListingID] {
			seen[it.ListingID] = true
			ids = append(ids, it.ListingID)
		}
	}
	return ids
}

// PaymentKind says which part of an order a payment settles.
type PaymentKind string

const (
	PaymentBase      PaymentKind = "base"
	PaymentExtension PaymentKind = "extension"
)

func (k PaymentKind) Valid() bool { return k == PaymentBase || k == PaymentExtension }

// DueState classifies an active rental by its end date.
type DueState string

const (
	DueOverdue DueState = "overdue"
	DueSoon    DueState = "due_soon"
	DueOK      DueState = "ok"
)

// Rental is an active order as its renter sees it.
type Rental struct {
	*orders.Order
	Balance  decimal.Decimal `json:"balance"`
	DueState DueState        `json:"due_state"`
	DaysLeft int             `json:"days_left"`
}

// Summary totals a renter's active rentals.
type Summary struct {
	Count       int             `json:"count"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Overdue     int             `json:"overdue"`
}

// RentalsView is the my-rentals page.
type RentalsView struct {
	Rentals []Rental `json:"rentals"`
	Summary Summary  `json:"summary"`
}

// Journal event types.
const (
	EventOrderPlaced     = "OrderPlaced"
	EventOrderCancelled  = "OrderCancelled"
	EventOrderReturned   = "OrderReturned"
	EventOrderExtended   = "OrderExtended"
	EventPaymentRecorded = "PaymentRecorded"
)

// OrderPlaced is journaled when checkout creates an order.
type OrderPlaced struct {
	OrderID   uuid.UUID        `json:"order_id"`
	ListingID uuid.UUID        `json:"listing_id"`
	UserID    uuid.UUID        `json:"user_id"`
	Frequency orders.Frequency `json:"frequency"`
	Price     decimal.Decimal  `json:"price"`
	StartDate time.Time        `json:"start_date"`
	EndDate   time.Time        `json:"end_date"`
}

// OrderClosed is journaled for cancellations and returns.
type OrderClosed struct {
	OrderID   uuid.UUID     `json:"order_id"`
	ListingID uuid.UUID     `json:"listing_id"`
	Status    orders.Status `json:"status"`
	By        uuid.UUID     `json:"by"`
}

// OrderExtended is journaled when an order's end date moves.
type OrderExtended struct {
	OrderID   uuid.UUID        `json:"order_id"`
	ListingID uuid.UUID        `json:"listing_id"`
	From      time.Time        `json:"from"`
	To        time.Time        `json:"to"`
	Frequency orders.Frequency `json:"frequency"`
	Price     decimal.Decimal  `json:"price"`
}

// PaymentRecorded is journaled for every recorded payment.
type PaymentRecorded struct {
	OrderID    uuid.UUID       `json:"order_id"`
	ListingID  uuid.UUID       `json:"listing_id"`
	Kind       PaymentKind     `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
}
