package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// UserRepository persists committed pledge users.
type UserRepository interface {
	ExistsByMobileNumber(ctx context.Context, mobile string) (bool, error)
	Create(ctx context.Context, pending PendingRegistration) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	CountToday(ctx context.Context) (int64, error)
}

// PostgresRepository implements UserRepository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed pledge user repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS t_pledge_users (
    pledge_id     BIGSERIAL PRIMARY KEY,
    full_name     VARCHAR(100) NOT NULL,
    age           SMALLINT NOT NULL,
    mobile_number VARCHAR(10) NOT NULL UNIQUE,
    email_id      VARCHAR(100) NOT NULL,
    gender        SMALLINT NOT NULL,
    state_id      INTEGER NOT NULL,
    district_id   INTEGER NOT NULL,
    pincode       VARCHAR(6) NOT NULL,
    status        SMALLINT NOT NULL DEFAULT 1,
    date_created  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    date_updated  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the pledge user table when it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure t_pledge_users: %w", err)
	}
	return nil
}

// ExistsByMobileNumber reports whether a user with mobile is already committed.
func (r *PostgresRepository) ExistsByMobileNumber(ctx context.Context, mobile string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM t_pledge_users WHERE mobile_number = $1)`, mobile).Scan(&exists)
	return exists, err
}

// Create inserts the pledge user and returns its generated id.
func (r *PostgresRepository) Create(ctx context.Context, p PendingRegistration) (int64, error) {
	var gender int
	if p.Gender != nil {
		gender = *p.Gender
	}
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO t_pledge_users (
        full_name, age, mobile_number, email_id, gender, state_id, district_id, pincode, status, date_created, date_updated
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()) RETURNING pledge_id`,
		p.FullName, p.Age, p.MobileNumber, p.Email, gender, p.StateID, p.DistrictID, p.Pincode, p.Status,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrDuplicateMobileNumber
		}
		return 0, err
	}
	return id, nil
}

// CountAll returns the number of committed pledge users.
func (r *PostgresRepository) CountAll(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM t_pledge_users WHERE status = $1`, StatusActive).Scan(&n)
	return n, err
}

// CountToday returns the number of pledge users committed since midnight.
func (r *PostgresRepository) CountToday(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM t_pledge_users WHERE status = $1 AND date_created >= CURRENT_DATE`, StatusActive).Scan(&n)
	return n, err
}
