package reservation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"shelfshare/internal/catalog"
	"shelfshare/internal/errs"
	"shelfshare/internal/orders"
)

const dueSoonDays = 3

// dateOf truncates t to its UTC calendar date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// addMonthsClamped moves t by n months keeping the day of month, or the
// last day of the target month when it is shorter.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// periodEnd is the end of one rental period starting at start.
func periodEnd(start time.Time, freq orders.Frequency) (time.Time, error) {
	switch freq {
	case orders.Weekly:
		return start.AddDate(0, 0, 7), nil
	case orders.Monthly:
		return addMonthsClamped(start, 1), nil
	}
	return time.Time{}, errs.InvalidInput("frequency %q", freq)
}

// priceFor reads the listing's rate for one period.
func priceFor(l *catalog.Listing, freq orders.Frequency) (decimal.Decimal, error) {
	switch freq {
	case orders.Weekly:
		return l.PricePerWeek, nil
	case orders.Monthly:
		return l.PricePerMonth, nil
	}
	return decimal.Zero, errs.InvalidInput("frequency %q", freq)
}

// daysUntil counts whole calendar days from today to end.
func daysUntil(end, today time.Time) int {
	return int(dateOf(end).Sub(dateOf(today)).Hours() / 24)
}

func dueState(end, today time.Time) DueState {
	switch days := daysUntil(end, today); {
	case days < 0:
		return DueOverdue
	case days <= dueSoonDays:
		return DueSoon
	default:
		return DueOK
	}
}

// checkPayment enforces which part of the order a payment may settle.
func checkPayment(o *orders.Order, kind PaymentKind) error {
	switch kind {
	case PaymentBase:
		if o.AmountPaid.LessThan(o.Price) {
			return nil
		}
		return errs.InvalidState("base price of order %s is already paid", o.ID)
	case PaymentExtension:
		if o.ExtendPrice.IsZero() {
			return errs.InvalidState("order %s has no extension to pay", o.ID)
		}
		if o.AmountPaid.LessThan(o.Price) {
			return errs.InvalidState("base price of order %s must be paid first", o.ID)
		}
		if o.AmountPaid.LessThan(o.Total()) {
			return nil
		}
		return errs.InvalidState("extension of order %s is already paid", o.ID)
	}
	return errs.InvalidInput("payment kind %q", kind)
}

func describe(item CartItem) string {
	return fmt.Sprintf("%s/%s", item.ListingID, item.Frequency)
}
