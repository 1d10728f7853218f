package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/repository"
)

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    user_type TEXT NOT NULL CHECK (user_type IN ('user', 'employee')),
    full_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    phone TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// UserRepository implements user.Repository for PostgreSQL.
type UserRepository struct {
	db     *sql.DB
	region string
	now    func() time.Time
}

var _ user.Repository = (*UserRepository)(nil)

// NewUserRepository creates a user repository. region is the default
// region for phone numbers.
func NewUserRepository(db *sql.DB, region string) *UserRepository {
	return &UserRepository{db: db, region: region, now: time.Now}
}

// Migrate creates the users table if needed.
func (r *UserRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, usersSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_type, full_name, email, phone, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Type, &u.FullName, &u.Email, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// Upsert creates or replaces a user. Phone numbers are stored in E.164.
func (r *UserRepository) Upsert(ctx context.Context, u *user.User) error {
	if u.ID == "" || !u.Type.Valid() {
		return fmt.Errorf("%w: id and a known user_type are required", user.ErrInvalidInput)
	}
	phone, err := user.NormalizePhone(u.Phone, r.region)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	u.Phone = phone
	u.FullName = strings.TrimSpace(u.FullName)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, user_type, full_name, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			user_type = EXCLUDED.user_type,
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at`,
		u.ID, u.Type, u.FullName, u.Email, u.Phone, now,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return mapError("upsert user", err)
	}
	return nil
}
