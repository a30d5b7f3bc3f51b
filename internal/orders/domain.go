package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Frequency is the rental period an order is billed by.
type Frequency string

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

func (f Frequency) Valid() bool { return f == Weekly || f == Monthly }

// Status is an order's lifecycle state. Returned and Cancelled are terminal.
type Status string

const (
	StatusOrdered   Status = "Ordered"
	StatusReturned  Status = "Returned"
	StatusCancelled Status = "Cancelled"
)

func (s Status) Valid() bool {
	return s == StatusOrdered || s == StatusReturned || s == StatusCancelled
}

func (s Status) Terminal() bool { return s == StatusReturned || s == StatusCancelled }

// Order is one rental agreement. StartDate and EndDate are calendar dates at
// UTC midnight.
type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	ListingID       uuid.UUID       `json:"listing_id" db:"listing_id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	Frequency       Frequency       `json:"frequency" db:"frequency"`
	Price           decimal.Decimal `json:"price" db:"price"`
	StartDate       time.Time       `json:"start_date" db:"start_date"`
	EndDate         time.Time       `json:"end_date" db:"end_date"`
	Status          Status          `json:"status" db:"status"`
	ExtendFrequency *Frequency      `json:"extend_frequency,omitempty" db:"extend_frequency"`
	ExtendPrice     decimal.Decimal `json:"extend_price" db:"extend_price"`
	AmountPaid      decimal.Decimal `json:"amount_paid" db:"amount_paid"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Active reports whether the order holds a copy of its listing.
func (o *Order) Active() bool { return o.Status == StatusOrdered }

// Extended reports whether the order already used its one extension.
func (o *Order) Extended() bool { return o.ExtendFrequency != nil || !o.ExtendPrice.IsZero() }

// Total is the base price plus the extension.
func (o *Order) Total() decimal.Decimal { return o.Price.Add(o.ExtendPrice) }

// Balance is what remains to be paid, never below zero.
func (o *Order) Balance() decimal.Decimal {
	b := o.Total().Sub(o.AmountPaid)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// NewOrder is the input to CreateOrder. When Strict is set the store rejects
// the order with ErrOutOfStock once Capacity active orders exist for the
// listing.
type NewOrder struct {
	ListingID uuid.UUID
	UserID    uuid.UUID
	Frequency Frequency
	Price     decimal.Decimal
	StartDate time.Time
	EndDate   time.Time
	Strict    bool
	Capacity  int
}

// Extension moves an active order's end date. An order is extended at most
// once; From must equal the stored end date, so two racing extensions cannot
// both apply.
type Extension struct {
	From      time.Time
	To        time.Time
	Frequency Frequency
	Price     decimal.Decimal
}

// Filter narrows List. A zero Status matches every status.
type Filter struct {
	Status Status
	Limit  int
	Offset int
}
