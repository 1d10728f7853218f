package sqlite

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

// DefaultPhoneRegion is used to parse numbers without a country prefix.
const DefaultPhoneRegion = user.DefaultPhoneRegion

// UserRepository implements user.Repository for SQLite
type UserRepository struct {
	db     *DB
	region string
	now    func() time.Time
}

// NewUserRepository creates a new UserRepository. region is the default
// region for phone numbers; empty uses DefaultPhoneRegion.
func NewUserRepository(db *DB, region string) *UserRepository {
	if region == "" {
		region = DefaultPhoneRegion
	}
	return &UserRepository{db: db, region: region, now: time.Now}
}

// Get retrieves a user by ID
func (r *UserRepository) Get(ctx context.Context, id string) (*user.User, error) {
	query := `
		SELECT id, user_type, full_name, email, phone, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	var u user.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID,
		&u.Type,
		&u.FullName,
		&u.Email,
		&u.Phone,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
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
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Phone = phone
	u.FullName = strings.TrimSpace(u.FullName)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	query := `
		INSERT INTO users (id, user_type, full_name, email, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_type = excluded.user_type,
			full_name = excluded.full_name,
			email = excluded.email,
			phone = excluded.phone,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		u.ID,
		u.Type,
		u.FullName,
		u.Email,
		u.Phone,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
