package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shelfshare/internal/errs"
)

const orderColumns = `id, listing_id, user_id, frequency, price, start_date, end_date, status,
	extend_frequency, extend_price, amount_paid, created_at, updated_at`

// PostgresStore keeps orders in the orders table. Strict creates take a
// transaction-scoped advisory lock on the listing, so the capacity check and
// the insert cannot interleave with another checkout of the same listing on
// any replica.
type PostgresStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, tracer: otel.Tracer("shelfshare/orders")}
}

func (s *PostgresStore) CreateOrder(ctx context.Context, in NewOrder) (*Order, bool, error) {
	ctx, span := s.tracer.Start(ctx, "orders.create",
		trace.WithAttributes(
			attribute.String("listing.id", in.ListingID.String()),
			attribute.String("order.frequency", string(in.Frequency)),
			attribute.Bool("checkout.strict", in.Strict),
		),
	)
	defer span.End()

	if !in.Frequency.Valid() {
		return nil, false, errs.InvalidInput("frequency %q", in.Frequency)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, errs.FromDB(err)
	}
	defer tx.Rollback()

	if in.Strict {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, in.ListingID); err != nil {
			return nil, false, errs.FromDB(err)
		}
		existing, err := findActiveRequest(ctx, tx, in)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			span.SetAttributes(attribute.Bool("order.replayed", true))
			return existing, false, errs.FromDB(tx.Commit())
		}
		var active int
		if err := tx.GetContext(ctx, &active, `
			SELECT COUNT(*) FROM orders WHERE listing_id = $1 AND status = 'Ordered'
		`, in.ListingID); err != nil {
			return nil, false, errs.FromDB(err)
		}
		if active >= in.Capacity {
			span.SetStatus(codes.Error, "out of stock")
			return nil, false, fmt.Errorf("listing %s has %d of %d copies out: %w", in.ListingID, active, in.Capacity, errs.ErrOutOfStock)
		}
	}

	now := time.Now().UTC()
	o := &Order{}
	err = tx.GetContext(ctx, o, `
		INSERT INTO orders (id, listing_id, user_id, frequency, price, start_date, end_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'Ordered', $8, $8)
		ON CONFLICT (user_id, listing_id, frequency, start_date) WHERE status = 'Ordered' DO NOTHING
		RETURNING `+orderColumns,
		uuid.New(), in.ListingID, in.UserID, in.Frequency, in.Price, in.StartDate, in.EndDate, now)
	created := true
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		o, err = findActiveRequest(ctx, tx, in)
		if err == nil && o == nil {
			err = errs.Unavailable(errors.New("conflicting order vanished during checkout"))
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, errs.FromDB(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, errs.FromDB(err)
	}
	span.SetAttributes(attribute.String("order.id", o.ID.String()), attribute.Bool("order.replayed", !created))
	return o, created, nil
}

func findActiveRequest(ctx context.Context, q sqlx.QueryerContext, in NewOrder) (*Order, error) {
	o := &Order{}
	err := sqlx.GetContext(ctx, q, o, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND listing_id = $2 AND frequency = $3 AND start_date = $4 AND status = 'Ordered'
	`, in.UserID, in.ListingID, in.Frequency, in.StartDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.FromDB(err)
	}
	return o, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o := &Order{}
	err := s.db.GetContext(ctx, o, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("order", id)
	}
	if err != nil {
		return nil, errs.FromDB(err)
	}
	return o, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.set_status",
		trace.WithAttributes(
			attribute.String("order.id", id.String()),
			attribute.String("order.status", string(status)),
		),
	)
	defer span.End()

	if !status.Terminal() {
		return nil, errs.InvalidInput("cannot move an order to %q", status)
	}
	o := &Order{}
	err := s.db.GetContext(ctx, o, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'Ordered'
		RETURNING `+orderColumns, status, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.explainMiss(ctx, id, "set status "+string(status))
	}
	if err != nil {
		span.RecordError(err)
		return nil, errs.FromDB(err)
	}
	return o, nil
}

func (s *PostgresStore) Extend(ctx context.Context, id uuid.UUID, ext Extension) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.extend",
		trace.WithAttributes(
			attribute.String("order.id", id.String()),
			attribute.String("extend.frequency", string(ext.Frequency)),
		),
	)
	defer span.End()

	if !ext.Frequency.Valid() {
		return nil, errs.InvalidInput("frequency %q", ext.Frequency)
	}
	o := &Order{}
	err := s.db.GetContext(ctx, o, `
		UPDATE orders
		SET end_date = $1, extend_frequency = $2, extend_price = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'Ordered' AND end_date = $5
		  AND extend_frequency IS NULL AND extend_price = 0
		RETURNING `+orderColumns, ext.To, ext.Frequency, ext.Price, id, ext.From)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.explainMiss(ctx, id, "extend")
	}
	if err != nil {
		span.RecordError(err)
		return nil, errs.FromDB(err)
	}
	return o, nil
}

// explainMiss turns a conditional update that matched nothing into
// NotFound or InvalidState.
func (s *PostgresStore) explainMiss(ctx context.Context, id uuid.UUID, action string) error {
	o, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status.Terminal() {
		return errs.InvalidState("cannot %s: order %s is %s", action, id, o.Status)
	}
	if action == "extend" && o.Extended() {
		return errs.InvalidState("cannot extend: order %s was already extended", id)
	}
	return errs.InvalidState("cannot %s: order %s changed concurrently", action, id)
}

func (s *PostgresStore) RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := s.db.GetContext(ctx, &paid, `
		UPDATE orders SET amount_paid = amount_paid + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING amount_paid
	`, amount, id)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, errs.NotFound("order", id)
	}
	return paid, errs.FromDB(err)
}

func (s *PostgresStore) ListActive(ctx context.Context, listingID uuid.UUID) ([]*Order, error) {
	var out []*Order
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE listing_id = $1 AND status = 'Ordered'
		ORDER BY created_at
	`, listingID)
	return out, errs.FromDB(err)
}

func (s *PostgresStore) CountActive(ctx context.Context, listingID uuid.UUID) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM orders WHERE listing_id = $1 AND status = 'Ordered'
	`, listingID)
	return n, errs.FromDB(err)
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID uuid.UUID, status Status) ([]*Order, error) {
	var out []*Order
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND status = $2
		ORDER BY start_date DESC, created_at DESC
	`, userID, status)
	return out, errs.FromDB(err)
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Order, error) {
	var out []*Order
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(f.Status), f.Limit, f.Offset)
	return out, errs.FromDB(err)
}
