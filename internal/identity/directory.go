package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/repository"
)

// DefaultCacheSize is the number of user records the directory keeps.
const DefaultCacheSize = 1024

// Directory resolves user records through an LRU cache over the users
// table. Token claims fill in for users the table does not know yet.
type Directory struct {
	repo   user.Repository
	cache  *lru.Cache[string, user.User]
	logger *slog.Logger
}

// NewDirectory creates a directory. size <= 0 uses DefaultCacheSize.
func NewDirectory(repo user.Repository, size int, logger *slog.Logger) (*Directory, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cache, err := lru.New[string, user.User](size)
	if err != nil {
		return nil, fmt.Errorf("creating user cache: %w", err)
	}
	return &Directory{repo: repo, cache: cache, logger: logger}, nil
}

// Lookup returns the stored user record.
func (d *Directory) Lookup(ctx context.Context, id string) (*user.User, error) {
	if u, ok := d.cache.Get(id); ok {
		return &u, nil
	}
	u, err := d.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, user.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", id, err)
	}
	d.cache.Add(id, *u)
	return u, nil
}

// Resolve maps verified claims to a user. The token's user_type is
// authoritative; the stored record contributes profile fields.
func (d *Directory) Resolve(ctx context.Context, claims *Claims) (*user.User, error) {
	u, err := d.Lookup(ctx, claims.Subject)
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		return &user.User{
			ID:       claims.Subject,
			Type:     claims.UserType,
			FullName: claims.Name,
			Email:    claims.Email,
		}, nil
	case err != nil:
		return nil, err
	}

	if u.Type != claims.UserType {
		d.logger.Warn("user_type differs between token and directory", "user_id", u.ID,
			"token", claims.UserType, "directory", u.Type)
		u.Type = claims.UserType
	}
	return u, nil
}

// Save upserts a profile and refreshes the cache.
func (d *Directory) Save(ctx context.Context, u *user.User) error {
	if err := d.repo.Upsert(ctx, u); err != nil {
		d.cache.Remove(u.ID)
		return err
	}
	d.cache.Add(u.ID, *u)
	return nil
}
