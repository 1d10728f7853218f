package user

import "errors"

var (
	// ErrNoUser indicates there is no signed-in user.
	ErrNoUser = errors.New("no current user")
	// ErrUserNotFound indicates the user record doesn't exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidInput indicates invalid user input.
	ErrInvalidInput = errors.New("invalid user input")
)
