package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"shelfshare/internal/errs"
)

// PostgresRepository stores members in the members and credentials tables.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, member *Member, credential *Credential) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.FromDB(err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO members (id, email, name, role, status, created_at, updated_at)
		VALUES (:id, :email, :name, :role, :status, :created_at, :updated_at)
	`, member)
	if err != nil {
		if errs.IsUniqueViolation(err, "members_email_key") {
			return errs.InvalidInput("email %s already registered", member.Email)
		}
		return errs.FromDB(err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO credentials (member_id, password_hash)
		VALUES (:member_id, :password_hash)
	`, credential)
	if err != nil {
		return errs.FromDB(err)
	}
	return errs.FromDB(tx.Commit())
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Member, error) {
	member := &Member{}
	err := r.db.GetContext(ctx, member, `
		SELECT id, email, name, role, status, created_at, updated_at
		FROM members
		WHERE email = $1
	`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", email, errs.ErrNotFound)
	}
	return member, errs.FromDB(err)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Member, error) {
	member := &Member{}
	err := r.db.GetContext(ctx, member, `
		SELECT id, email, name, role, status, created_at, updated_at
		FROM members
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("member", id)
	}
	return member, errs.FromDB(err)
}

func (r *PostgresRepository) GetCredential(ctx context.Context, memberID uuid.UUID) (*Credential, error) {
	credential := &Credential{}
	err := r.db.GetContext(ctx, credential, `
		SELECT member_id, password_hash
		FROM credentials
		WHERE member_id = $1
	`, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("credential", memberID)
	}
	return credential, errs.FromDB(err)
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, id uuid.UUID, role Role) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE members
		SET role = $1, updated_at = NOW()
		WHERE id = $2
	`, role, id)
	if err != nil {
		return errs.FromDB(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("member", id)
	}
	return nil
}
