// internal/reservation/implementation.go
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"shelfshare/internal/catalog"
	"shelfshare/internal/errs"
	"shelfshare/internal/keylock"
	"shelfshare/internal/membership"
	"shelfshare/internal/orders"
	"shelfshare/internal/resync"
)

var checkouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reservation_checkouts_total",
	Help: "Checkouts by outcome.",
}, []string{"outcome"})

// service implements the Service interface.
type service struct {
	orders    orders.Store
	listings  catalog.Store
	projector Projector
	auth      Auth
	journal   Journal
	gateway   Gateway
	resync    resync.Trigger
	locks     *keylock.Locker
	strict    bool
	now       func() time.Time
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures the workflow's optional collaborators.
type Option func(*service)

// WithAuth replaces the default, which reads the principal from the
// request context.
func WithAuth(a Auth) Option { return func(s *service) { s.auth = a } }

func WithJournal(j Journal) Option { return func(s *service) { s.journal = j } }

func WithGateway(g Gateway) Option { return func(s *service) { s.gateway = g } }

func WithResync(t resync.Trigger) Option { return func(s *service) { s.resync = t } }

// WithStrict turns capacity enforcement at checkout on or off.
func WithStrict(strict bool) Option { return func(s *service) { s.strict = strict } }

func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

// NewService creates the reservation workflow. Strict checkout is on unless
// turned off with WithStrict.
func NewService(store orders.Store, listings catalog.Store, projector Projector, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		orders:    store,
		listings:  listings,
		projector: projector,
		auth:      membership.ContextAuth{},
		gateway:   NewMemoryGateway(),
		resync:    resync.Noop{},
		locks:     keylock.New(),
		strict:    true,
		now:       time.Now,
		logger:    logger,
		tracer:    otel.Tracer("shelfshare/reservation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) caller(ctx context.Context) (membership.Principal, error) {
	p, ok := s.auth.CurrentUser(ctx)
	if !ok {
		return membership.Principal{}, errs.ErrAuthRequired
	}
	return p, nil
}

// owned loads an order the caller may act on: their own, or any order when
// they can manage orders.
func (s *service) owned(ctx context.Context, p membership.Principal, id uuid.UUID) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if o.UserID != p.UserID && !p.Can(membership.CapManageOrders) {
		return nil, fmt.Errorf("order %s belongs to another member: %w", id, errs.ErrForbidden)
	}
	return o, nil
}

func (s *service) require(p membership.Principal, c membership.Capability) error {
	if !p.Can(c) {
		return fmt.Errorf("%s required: %w", c, errs.ErrForbidden)
	}
	return nil
}

// Checkout turns every cart item into an Ordered order starting today. If
// one item fails, orders this call created are cancelled again and the
// error is returned.
func (s *service) Checkout(ctx context.Context, cart Cart) (placed []*orders.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "reservation.checkout",
		trace.WithAttributes(attribute.Int("cart.items", cart.Len()), attribute.Bool("strict", s.strict)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		checkouts.WithLabelValues(outcome(err)).Inc()
		span.End()
	}()

	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	items := cart.Items()
	if len(items) == 0 {
		return nil, errs.InvalidInput("cart is empty")
	}
	for _, it := range items {
		if !it.Frequency.Valid() {
			return nil, errs.InvalidInput("frequency %q", it.Frequency)
		}
	}

	today := dateOf(s.now())
	key := checkoutKey(p.UserID, today, items)
	if _, err := s.gateway.Reserve(ctx, key); err != nil {
		return nil, err
	}
	defer func() {
		mark := s.gateway.MarkSuccess
		if err != nil {
			mark = s.gateway.MarkFailure
		}
		if merr := mark(context.WithoutCancel(ctx), key); merr != nil {
			s.logger.Warn("failed to settle checkout key", zap.String("key", key), zap.Error(merr))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, checkoutTimeout)
	defer cancel()

	listingIDs := cart.ListingIDs()
	if s.strict {
		unlock, err := s.locks.LockAll(ctx, listingIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to lock listings: %w", err)
		}
		defer unlock()
	}

	var created []*orders.Order
	for _, it := range items {
		o, isNew, err := s.place(ctx, p, it, today)
		if err != nil {
			s.logger.Warn("checkout failed",
				zap.String("user_id", p.UserID.String()),
				zap.String("item", describe(it)),
				zap.Error(err))
			s.compensate(ctx, p, created)
			s.projectAll(ctx, listingIDs)
			s.notify(ctx, "checkout_failed", listingIDs)
			return nil, err
		}
		placed = append(placed, o)
		if !isNew {
			continue
		}
		created = append(created, o)
		s.record(ctx, Entry{OrderID: o.ID, ListingID: o.ListingID, Type: EventOrderPlaced, Payload: OrderPlaced{
			OrderID:   o.ID,
			ListingID: o.ListingID,
			UserID:    o.UserID,
			Frequency: o.Frequency,
			Price:     o.Price,
			StartDate: o.StartDate,
			EndDate:   o.EndDate,
		}})
	}

	projErr := s.projectAll(ctx, listingIDs)
	s.notify(ctx, "checkout", listingIDs)
	if projErr != nil {
		return nil, projErr
	}

	s.logger.Info("checkout completed",
		zap.String("user_id", p.UserID.String()),
		zap.Int("orders", len(placed)),
		zap.Int("created", len(created)))
	return placed, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "placed"
	case errors.Is(err, errs.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, errs.ErrInvalidState):
		return "rejected"
	default:
		return "failed"
	}
}

// place creates one order priced from the listing's current rate.
func (s *service) place(ctx context.Context, p membership.Principal, it CartItem, today time.Time) (*orders.Order, bool, error) {
	listing, err := s.listings.GetListing(ctx, it.ListingID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get listing: %w", err)
	}
	price, err := priceFor(listing, it.Frequency)
	if err != nil {
		return nil, false, err
	}
	end, err := periodEnd(today, it.Frequency)
	if err != nil {
		return nil, false, err
	}
	o, created, err := s.orders.CreateOrder(ctx, orders.NewOrder{
		ListingID: it.ListingID,
		UserID:    p.UserID,
		Frequency: it.Frequency,
		Price:     price,
		StartDate: today,
		EndDate:   end,
		Strict:    s.strict,
		Capacity:  listing.ListedQuantity,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create order for %s: %w", describe(it), err)
	}
	return o, created, nil
}

// compensate cancels orders created by a checkout that later failed.
func (s *service) compensate(ctx context.Context, p membership.Principal, created []*orders.Order) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range created {
		if _, err := s.orders.SetStatus(ctx, o.ID, orders.StatusCancelled); err != nil {
			s.logger.Error("failed to compensate order",
				zap.String("order_id", o.ID.String()),
				zap.String("listing_id", o.ListingID.String()),
				zap.Error(err))
			continue
		}
		s.record(ctx, Entry{OrderID: o.ID, ListingID: o.ListingID, Type: EventOrderCancelled, Payload: OrderClosed{
			OrderID: o.ID, ListingID: o.ListingID, Status: orders.StatusCancelled, By: p.UserID,
		}})
	}
}

// projectAll projects every listing and returns the first failure.
func (s *service) projectAll(ctx context.Context, ids []uuid.UUID) error {
	var first error
	for _, id := range ids {
		if _, err := s.projector.ProjectOne(ctx, id); err != nil {
			s.logger.Warn("failed to project listing", zap.String("listing_id", id.String()), zap.Error(err))
			if first == nil {
				first = fmt.Errorf("failed to project listing %s: %w", id, err)
			}
		}
	}
	return first
}

func (s *service) notify(ctx context.Context, reason string, ids []uuid.UUID) {
	if err := s.resync.Notify(ctx, resync.ForListings(reason, ids...)); err != nil {
		s.logger.Warn("resync trigger failed", zap.String("reason", reason), zap.Error(err))
	}
}

func (s *service) record(ctx context.Context, e Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, e); err != nil {
		s.logger.Warn("failed to journal order event",
			zap.String("order_id", e.OrderID.String()),
			zap.String("event", e.Type),
			zap.Error(err))
	}
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.cancel",
		trace.WithAttributes(attribute.String("order.id", orderID.String())),
	)
	defer span.End()

	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.owned(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	return s.close(ctx, p, o, orders.StatusCancelled, EventOrderCancelled)
}

func (s *service) Return(ctx context.Context, orderID uuid.UUID) (*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.return",
		trace.WithAttributes(attribute.String("order.id", orderID.String())),
	)
	defer span.End()

	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.require(p, membership.CapManageOrders); err != nil {
		return nil, err
	}
	o, err := s.owned(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	return s.close(ctx, p, o, orders.StatusReturned, EventOrderReturned)
}

// close moves an active order to a terminal status and republishes its
// listing.
func (s *service) close(ctx context.Context, p membership.Principal, o *orders.Order, status orders.Status, event string) (*orders.Order, error) {
	if !o.Active() {
		return nil, errs.InvalidState("order %s is %s", o.ID, o.Status)
	}
	updated, err := s.orders.SetStatus(ctx, o.ID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to set order status: %w", err)
	}
	s.record(ctx, Entry{OrderID: o.ID, ListingID: o.ListingID, Type: event, Payload: OrderClosed{
		OrderID: o.ID, ListingID: o.ListingID, Status: status, By: p.UserID,
	}})

	projErr := s.projectAll(ctx, []uuid.UUID{o.ListingID})
	s.notify(ctx, string(status), []uuid.UUID{o.ListingID})
	if projErr != nil {
		return nil, projErr
	}
	s.logger.Info("order closed",
		zap.String("order_id", o.ID.String()),
		zap.String("listing_id", o.ListingID.String()),
		zap.String("status", string(status)))
	return updated, nil
}

// Extend adds one period of freq to the order's end date and charges the
// listing's current rate for it.
func (s *service) Extend(ctx context.Context, orderID uuid.UUID, freq orders.Frequency) (*orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.extend",
		trace.WithAttributes(attribute.String("order.id", orderID.String()), attribute.String("frequency", string(freq))),
	)
	defer span.End()

	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if !freq.Valid() {
		return nil, errs.InvalidInput("frequency %q", freq)
	}
	o, err := s.owned(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Active() {
		return nil, errs.InvalidState("cannot extend: order %s is %s", o.ID, o.Status)
	}
	if o.Extended() {
		return nil, errs.InvalidState("cannot extend: order %s was already extended", o.ID)
	}
	listing, err := s.listings.GetListing(ctx, o.ListingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	price, err := priceFor(listing, freq)
	if err != nil {
		return nil, err
	}
	to, err := periodEnd(o.EndDate, freq)
	if err != nil {
		return nil, err
	}

	updated, err := s.orders.Extend(ctx, o.ID, orders.Extension{From: o.EndDate, To: to, Frequency: freq, Price: price})
	if err != nil {
		return nil, fmt.Errorf("failed to extend order: %w", err)
	}
	s.record(ctx, Entry{OrderID: o.ID, ListingID: o.ListingID, Type: EventOrderExtended, Payload: OrderExtended{
		OrderID: o.ID, ListingID: o.ListingID, From: o.EndDate, To: to, Frequency: freq, Price: price,
	}})
	s.notify(ctx, "extend", []uuid.UUID{o.ListingID})
	return updated, nil
}

// RecordPayment adds amount to what was paid on the order. It never changes
// the order's status.
func (s *service) RecordPayment(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, kind PaymentKind) (decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.record_payment",
		trace.WithAttributes(attribute.String("order.id", orderID.String()), attribute.String("kind", string(kind))),
	)
	defer span.End()

	p, err := s.caller(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.require(p, membership.CapManageOrders); err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, errs.InvalidInput("amount must be positive")
	}
	o, err := s.owned(ctx, p, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := checkPayment(o, kind); err != nil {
		return decimal.Zero, err
	}

	paid, err := s.orders.RecordPayment(ctx, o.ID, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to record payment: %w", err)
	}
	s.record(ctx, Entry{OrderID: o.ID, ListingID: o.ListingID, Type: EventPaymentRecorded, Payload: PaymentRecorded{
		OrderID: o.ID, ListingID: o.ListingID, Kind: kind, Amount: amount, AmountPaid: paid,
	}})
	return paid, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*orders.Order, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	return s.owned(ctx, p, orderID)
}

// MyRentals lists the caller's active orders with what is still owed and
// when each is due.
func (s *service) MyRentals(ctx context.Context) (*RentalsView, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.orders.ListForUser(ctx, p.UserID, orders.StatusOrdered)
	if err != nil {
		return nil, fmt.Errorf("failed to list rentals: %w", err)
	}

	today := dateOf(s.now())
	view := &RentalsView{Rentals: make([]Rental, 0, len(active)), Summary: Summary{Outstanding: decimal.Zero}}
	for _, o := range active {
		r := Rental{
			Order:    o,
			Balance:  o.Balance(),
			DueState: dueState(o.EndDate, today),
			DaysLeft: daysUntil(o.EndDate, today),
		}
		view.Rentals = append(view.Rentals, r)
		view.Summary.Count++
		view.Summary.Outstanding = view.Summary.Outstanding.Add(r.Balance)
		if r.DueState == DueOverdue {
			view.Summary.Overdue++
		}
	}
	return view, nil
}

func (s *service) ListOrders(ctx context.Context, f orders.Filter) ([]*orders.Order, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.require(p, membership.CapManageOrders); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, errs.InvalidInput("status %q", f.Status)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 200
	}
	list, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return list, nil
}
