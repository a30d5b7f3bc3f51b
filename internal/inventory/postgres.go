package inventory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"shelfshare/internal/errs"
)

// PostgresRepository keeps entries in the inventory table.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, e Entry) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO inventory (listing_id, listed_quantity, rented_quantity, available_quantity, updated_at)
		VALUES (:listing_id, :listed_quantity, :rented_quantity, :available_quantity, :updated_at)
		ON CONFLICT (listing_id) DO UPDATE
		SET listed_quantity = EXCLUDED.listed_quantity,
		    rented_quantity = EXCLUDED.rented_quantity,
		    available_quantity = EXCLUDED.available_quantity,
		    updated_at = EXCLUDED.updated_at
	`, e)
	return errs.FromDB(err)
}

func (r *PostgresRepository) Get(ctx context.Context, listingID uuid.UUID) (*Entry, error) {
	e := &Entry{}
	err := r.db.GetContext(ctx, e, `
		SELECT listing_id, listed_quantity, rented_quantity, available_quantity, updated_at
		FROM inventory
		WHERE listing_id = $1
	`, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("inventory entry", listingID)
	}
	if err != nil {
		return nil, errs.FromDB(err)
	}
	return e, nil
}
