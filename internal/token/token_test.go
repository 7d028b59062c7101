package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	first, err := New()
	require.NoError(t, err)
	assert.Len(t, first, 64) // 32 bytes hex-encoded

	second, err := New()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec("test-secret")

	encoded, err := codec.Encode("user-123", time.Minute)
	require.NoError(t, err)

	payload, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "user-123", payload.UserID)
	assert.Greater(t, payload.ExpiresAtMS, time.Now().UnixMilli())
}

func TestCodecRejectsExpired(t *testing.T) {
	codec := NewCodec("test-secret")

	encoded, err := codec.Encode("user-123", -time.Second)
	require.NoError(t, err)

	_, err = codec.Decode(encoded)
	assert.ErrorIs(t, err, ErrPayloadExpired)
}

func TestCodecRejectsTampered(t *testing.T) {
	codec := NewCodec("test-secret")

	encoded, err := codec.Encode("user-123", time.Minute)
	require.NoError(t, err)

	// Flip a character in the body without re-signing
	tampered := "x" + encoded[1:]
	_, err = codec.Decode(tampered)
	assert.ErrorIs(t, err, ErrPayloadMalformed)

	// Strip the signature entirely
	body, _, _ := strings.Cut(encoded, ".")
	_, err = codec.Decode(body)
	assert.ErrorIs(t, err, ErrPayloadMalformed)
}

func TestCodecRejectsWrongSecret(t *testing.T) {
	encoded, err := NewCodec("secret-a").Encode("user-123", time.Minute)
	require.NoError(t, err)

	_, err = NewCodec("secret-b").Decode(encoded)
	assert.ErrorIs(t, err, ErrPayloadMalformed)
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec := NewCodec("test-secret")

	for _, value := range []string{"", ".", "not-a-token", "a.b.c", "!!!.???"} {
		_, err := codec.Decode(value)
		assert.ErrorIs(t, err, ErrPayloadMalformed, "value %q", value)
	}
}
