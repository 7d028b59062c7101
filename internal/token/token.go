// Package token generates opaque lookup tokens and the short-lived
// auto-login payload handed out after email verification.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrPayloadMalformed = errors.New("auto-login payload is malformed")
	ErrPayloadExpired   = errors.New("auto-login payload has expired")
)

// New returns a cryptographically random opaque token: 32 bytes of
// entropy, hex-encoded. Uniqueness is enforced by the database index on
// the tokens table, not here.
func New() (string, error) {
	bytes := make([]byte, 32)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// AutoLoginPayload lets a user be signed in right after verifying their
// email without re-entering credentials.
type AutoLoginPayload struct {
	UserID      string `json:"user_id"`
	ExpiresAtMS int64  `json:"expires_at_ms"`
}

func (p AutoLoginPayload) IsExpired() bool {
	return p.ExpiresAtMS < time.Now().UnixMilli()
}

// Codec signs and verifies auto-login payloads. The encoded form is
// base64url(json) + "." + base64url(hmac-sha256).
type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

func (c *Codec) Encode(userID string, ttl time.Duration) (string, error) {
	payload := AutoLoginPayload{
		UserID:      userID,
		ExpiresAtMS: time.Now().Add(ttl).UnixMilli(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + c.sign(encoded), nil
}

// Decode verifies the signature and expiry. Malformed, tampered and
// expired values come back as errors, never as panics.
func (c *Codec) Decode(value string) (*AutoLoginPayload, error) {
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok || encoded == "" {
		return nil, ErrPayloadMalformed
	}

	if !hmac.Equal([]byte(c.sign(encoded)), []byte(sig)) {
		return nil, ErrPayloadMalformed
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrPayloadMalformed
	}

	var payload AutoLoginPayload
	err = json.Unmarshal(body, &payload)
	if err != nil || payload.UserID == "" {
		return nil, ErrPayloadMalformed
	}

	if payload.IsExpired() {
		return nil, ErrPayloadExpired
	}

	return &payload, nil
}

func (c *Codec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
