package user

import "time"

// Type is the role gate consumed by the report core
type Type string

const (
	TypeCitizen  Type = "user"
	TypeEmployee Type = "employee"
)

// Valid reports whether t is one of the known user types.
func (t Type) Valid() bool {
	return t == TypeCitizen || t == TypeEmployee
}

// User is identity reference data. The report core reads it, never writes it.
type User struct {
	ID        string    `json:"id"`
	Type      Type      `json:"user_type"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEmployee reports whether the user is municipal staff.
func (u User) IsEmployee() bool {
	return u.Type == TypeEmployee
}
