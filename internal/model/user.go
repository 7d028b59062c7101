package model

import (
	"time"
)

type User struct {
	ID              string     `db:"id"`
	Email           string     `db:"email"`
	Name            *string    `db:"name"`
	Image           *string    `db:"image"`
	PasswordHash    *string    `db:"password_hash"` // Nullable for OAuth-only accounts
	EmailVerifiedAt *time.Time `db:"email_verified_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// PublicUser is the identity shape returned to clients and session
// callbacks. It never carries the password hash.
type PublicUser struct {
	ID    string  `json:"id"`
	Name  *string `json:"name"`
	Email string  `json:"email"`
	Image *string `json:"image"`
}

func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Image: u.Image,
	}
}
