package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shelfshare/internal/errs"
)

var tracer = otel.Tracer("shelfshare/catalog")

const listingColumns = `id, title, listed_quantity, rented_quantity, available_quantity, available,
	price_per_week, price_per_month, created_at, updated_at`

// PostgresRepository stores listings in the listings table.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateListing(ctx context.Context, l *Listing) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (:id, :title, :listed_quantity, :rented_quantity, :available_quantity, :available,
			:price_per_week, :price_per_month, :created_at, :updated_at)
	`, l)
	return errs.FromDB(err)
}

func (r *PostgresRepository) GetListing(ctx context.Context, id uuid.UUID) (*Listing, error) {
	l := &Listing{}
	err := r.db.GetContext(ctx, l, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("listing", id)
	}
	if err != nil {
		return nil, errs.FromDB(err)
	}
	return l, nil
}

func (r *PostgresRepository) ListListings(ctx context.Context, f ListFilter) ([]*Listing, error) {
	var listings []*Listing
	err := r.db.SelectContext(ctx, &listings, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE NOT $1 OR available
		ORDER BY title, id
		LIMIT $2 OFFSET $3
	`, f.AvailableOnly, f.Limit, f.Offset)
	return listings, errs.FromDB(err)
}

func (r *PostgresRepository) ListAllListingIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM listings ORDER BY id`)
	return ids, errs.FromDB(err)
}

func (r *PostgresRepository) SetListedQuantity(ctx context.Context, id uuid.UUID, qty int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE listings SET listed_quantity = $1, updated_at = NOW() WHERE id = $2
	`, qty, id)
	return affectedOne(res, err, id)
}

func (r *PostgresRepository) UpdateListingAvailability(ctx context.Context, id uuid.UUID, a Availability) error {
	ctx, span := tracer.Start(ctx, "catalog.update_availability", trace.WithAttributes(
		attribute.String("listing_id", id.String()),
		attribute.Int("available_quantity", a.AvailableQuantity),
	))
	defer span.End()

	res, err := r.db.ExecContext(ctx, `
		UPDATE listings
		SET available_quantity = $1, rented_quantity = $2, available = $3, updated_at = NOW()
		WHERE id = $4
	`, a.AvailableQuantity, a.RentedQuantity, a.Available, id)
	if err := affectedOne(res, err, id); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func affectedOne(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return errs.FromDB(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("listing", id)
	}
	return nil
}
