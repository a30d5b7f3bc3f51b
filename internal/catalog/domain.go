// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Listing represents a rentable item. RentedQuantity, AvailableQuantity and
// Available are derived and written only through UpdateListingAvailability.
type Listing struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	Title             string          `json:"title" db:"title"`
	ListedQuantity    int             `json:"listed_quantity" db:"listed_quantity"`
	RentedQuantity    int             `json:"rented_quantity" db:"rented_quantity"`
	AvailableQuantity int             `json:"available_quantity" db:"available_quantity"`
	Available         bool            `json:"available" db:"available"`
	PricePerWeek      decimal.Decimal `json:"price_per_week" db:"price_per_week"`
	PricePerMonth     decimal.Decimal `json:"price_per_month" db:"price_per_month"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Availability is the derived part of a listing.
type Availability struct {
	AvailableQuantity int  `json:"available_quantity"`
	RentedQuantity    int  `json:"rented_quantity"`
	Available         bool `json:"available"`
}

// Availability returns the listing's current derived fields.
func (l *Listing) Availability() Availability {
	return Availability{
		AvailableQuantity: l.AvailableQuantity,
		RentedQuantity:    l.RentedQuantity,
		Available:         l.Available,
	}
}

// NewListing is the input for creating a listing.
type NewListing struct {
	Title          string          `json:"title" validate:"required,max=200"`
	ListedQuantity int             `json:"listed_quantity" validate:"gte=0"`
	PricePerWeek   decimal.Decimal `json:"price_per_week"`
	PricePerMonth  decimal.Decimal `json:"price_per_month"`
}

// ListFilter narrows ListListings.
type ListFilter struct {
	AvailableOnly bool
	Limit         int
	Offset        int
}
