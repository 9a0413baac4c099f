package types

import (
	"strings"
	"time"
)

// Account is an identity record owned by the credential store.
type Account struct {
	// ID is the surrogate key of the account.
	ID int `json:"id" db:"id"`

	// Email is the unique login identity, stored lower-cased.
	Email string `json:"email" db:"email"`

	// FirstName and LastName form the display name.
	FirstName string `json:"firstname" db:"firstname"`
	LastName  string `json:"lastname" db:"lastname"`

	// PasswordHash stores the password digest.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Roles are the capability tags assigned to the account.
	Roles []Role `json:"roles" db:"-"`

	// Enabled is false for accounts that may no longer sign in.
	Enabled bool `json:"-" db:"enabled"`

	// AccountLocked is set by administrators to suspend an account.
	AccountLocked bool `json:"-" db:"account_locked"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName returns the display name used in token claims.
func (a Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// RoleNames returns the names of the assigned roles.
func (a Account) RoleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for _, role := range a.Roles {
		names = append(names, role.Name)
	}
	return names
}

// Role is a named capability tag, e.g. "USER".
type Role struct {
	ID   int    `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}
