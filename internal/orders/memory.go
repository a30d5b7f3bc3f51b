package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"shelfshare/internal/errs"
)

// MemoryStore keeps orders in process with the same semantics as
// PostgresStore. The whole store is one critical section, so strict
// creates are trivially serialized. Fail, when set, is returned by every
// call whose operation name it reports true for.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*Order
	now    func() time.Time
	Fail   func(op string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[uuid.UUID]*Order), now: time.Now}
}

func (s *MemoryStore) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

func (s *MemoryStore) CreateOrder(_ context.Context, in NewOrder) (*Order, bool, error) {
	if err := s.fail("create"); err != nil {
		return nil, false, err
	}
	if !in.Frequency.Valid() {
		return nil, false, errs.InvalidInput("frequency %q", in.Frequency)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, o := range s.orders {
		if o.ListingID != in.ListingID || !o.Active() {
			continue
		}
		if o.UserID == in.UserID && o.Frequency == in.Frequency && o.StartDate.Equal(in.StartDate) {
			c := *o
			return &c, false, nil
		}
		active++
	}
	if in.Strict && active >= in.Capacity {
		return nil, false, fmt.Errorf("listing %s has %d of %d copies out: %w", in.ListingID, active, in.Capacity, errs.ErrOutOfStock)
	}

	now := s.now().UTC()
	o := &Order{
		ID:          uuid.New(),
		ListingID:   in.ListingID,
		UserID:      in.UserID,
		Frequency:   in.Frequency,
		Price:       in.Price,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Status:      StatusOrdered,
		ExtendPrice: decimal.Zero,
		AmountPaid:  decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.orders[o.ID] = o
	c := *o
	return &c, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Order, error) {
	if err := s.fail("get"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errs.NotFound("order", id)
	}
	c := *o
	return &c, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id uuid.UUID, status Status) (*Order, error) {
	if err := s.fail("set_status"); err != nil {
		return nil, err
	}
	if !status.Terminal() {
		return nil, errs.InvalidInput("cannot move an order to %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errs.NotFound("order", id)
	}
	if !o.Active() {
		return nil, errs.InvalidState("cannot set status %s: order %s is %s", status, id, o.Status)
	}
	o.Status = status
	o.UpdatedAt = s.now().UTC()
	c := *o
	return &c, nil
}

func (s *MemoryStore) Extend(_ context.Context, id uuid.UUID, ext Extension) (*Order, error) {
	if err := s.fail("extend"); err != nil {
		return nil, err
	}
	if !ext.Frequency.Valid() {
		return nil, errs.InvalidInput("frequency %q", ext.Frequency)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errs.NotFound("order", id)
	}
	if !o.Active() {
		return nil, errs.InvalidState("cannot extend: order %s is %s", id, o.Status)
	}
	if o.Extended() {
		return nil, errs.InvalidState("cannot extend: order %s was already extended", id)
	}
	if !o.EndDate.Equal(ext.From) {
		return nil, errs.InvalidState("cannot extend: order %s changed concurrently", id)
	}
	freq := ext.Frequency
	o.EndDate = ext.To
	o.ExtendFrequency = &freq
	o.ExtendPrice = ext.Price
	o.UpdatedAt = s.now().UTC()
	c := *o
	return &c, nil
}

func (s *MemoryStore) RecordPayment(_ context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := s.fail("record_payment"); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return decimal.Zero, errs.NotFound("order", id)
	}
	o.AmountPaid = o.AmountPaid.Add(amount)
	o.UpdatedAt = s.now().UTC()
	return o.AmountPaid, nil
}

func (s *MemoryStore) ListActive(_ context.Context, listingID uuid.UUID) ([]*Order, error) {
	if err := s.fail("list_active"); err != nil {
		return nil, err
	}
	out := s.collect(func(o *Order) bool { return o.ListingID == listingID && o.Active() })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountActive(ctx context.Context, listingID uuid.UUID) (int, error) {
	if err := s.fail("count_active"); err != nil {
		return 0, err
	}
	return len(s.collect(func(o *Order) bool { return o.ListingID == listingID && o.Active() })), nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID uuid.UUID, status Status) ([]*Order, error) {
	if err := s.fail("list_for_user"); err != nil {
		return nil, err
	}
	out := s.collect(func(o *Order) bool { return o.UserID == userID && o.Status == status })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Order, error) {
	if err := s.fail("list"); err != nil {
		return nil, err
	}
	out := s.collect(func(o *Order) bool { return f.Status == "" || o.Status == f.Status })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) collect(keep func(*Order) bool) []*Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if keep(o) {
			c := *o
			out = append(out, &c)
		}
	}
	return out
}
