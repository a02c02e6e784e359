package models

import "time"

// User role constants
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is an account that can log into the console.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
