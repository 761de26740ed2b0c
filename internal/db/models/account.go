// Package models - account.go defines the Account record owned by the user
// directory, the closed Role enumeration, and the hash-free summary exposed to
// the account administration view.
package models

import "fmt"

// Role is the coarse authorization label carried by every account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole converts s to a Role, rejecting anything outside the enumeration.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Account represents a console account as stored in the users table
type Account struct {
	ID           int64  `db:"id"`
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	Role         Role   `db:"role"`
	Approved     bool   `db:"approved"`
}

// Summary returns the account without its credential hash.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:       a.ID,
		Username: a.Username,
		Role:     a.Role,
		Approved: a.Approved,
	}
}

// AccountSummary is the listing view of an account
type AccountSummary struct {
	ID       int64  `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
	Role     Role   `db:"role" json:"role"`
	Approved bool   `db:"approved" json:"approved"`
}
