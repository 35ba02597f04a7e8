// Package models - user.go defines the global User identity. Users are not
// tenant-scoped; they reach organizations through memberships.
package models

import "time"

// User represents a person who can sign in
type User struct {
	ID              string     `db:"id" json:"id"`
	Email           string     `db:"email" json:"email"`
	Name            *string    `db:"name" json:"name"`
	PasswordHash    *string    `db:"password_hash" json:"-"`
	Image           *string    `db:"image" json:"image"`
	EmailVerifiedAt *time.Time `db:"email_verified_at" json:"emailVerified"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

// IsVerified reports whether the user confirmed their email address.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// DisplayName returns the name when set, otherwise the email.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.Email
}

// UserSummary is the user projection embedded in other resources.
type UserSummary struct {
	ID    string  `db:"id" json:"id"`
	Email string  `db:"email" json:"email"`
	Name  *string `db:"name" json:"name"`
}

// VerificationToken is a single-use email confirmation token.
type VerificationToken struct {
	Token      string    `db:"token"`
	Identifier string    `db:"identifier"` // email address
	ExpiresAt  time.Time `db:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
