package user

import "context"

// Identity resolves the user behind the current session.
type Identity interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// Repository provides persistence for user records.
type Repository interface {
	Get(ctx context.Context, id string) (*User, error)
	Upsert(ctx context.Context, u *User) error
}
