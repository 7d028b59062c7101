package model

import (
	"time"
)

// Token is a single-use lookup key mailed to a user. Redemption deletes
// the row; expired rows stay around until rejected at read time.
type Token struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Type      string    `db:"type"` // "email_verify" or "password_reset"
	Token     string    `db:"token"`
	Email     string    `db:"email"` // address the token was mailed to
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

const (
	TokenTypeEmailVerify   = "email_verify"
	TokenTypePasswordReset = "password_reset"
)

func (t *Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
