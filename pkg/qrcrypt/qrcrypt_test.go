package qrcrypt

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testClaims() Claims {
	return Claims{
		TicketID:     uuid.New(),
		TicketNumber: "TKT-20260301-000001",
		Version:      1,
		IssuedAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix(),
		ValidUntil:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).Unix(),
	}
}

func TestSealOpen(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	claims := testClaims()
	payload, hash, err := codec.Seal(claims)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(payload, "v1."))
	assert.NotContains(t, payload, claims.TicketNumber)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, codec.Hash(payload))

	opened, err := codec.Open(payload)
	require.NoError(t, err)
	assert.Equal(t, claims, *opened)
}

func TestSealIsRandomised(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	claims := testClaims()
	p1, h1, err := codec.Seal(claims)
	require.NoError(t, err)
	p2, h2, err := codec.Seal(claims)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.NotEqual(t, h1, h2)
}

func TestOpenRejectsTampering(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	payload, hash, err := codec.Seal(testClaims())
	require.NoError(t, err)

	// flip one character of the body
	body := []byte(payload)
	i := len(body) - 5
	if body[i] == 'A' {
		body[i] = 'B'
	} else {
		body[i] = 'A'
	}
	tampered := string(body)

	_, err = codec.Open(tampered)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.NotEqual(t, hash, codec.Hash(tampered))
}

func TestOpenRejectsGarbage(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	for _, payload := range []string{"", "v1.", "v2.abcd", "v1.!!!notbase64", "v1.AAAA", "TKT-20260301-000001"} {
		_, err := codec.Open(payload)
		assert.ErrorIs(t, err, ErrMalformed, payload)
	}
}

func TestOpenRejectsOtherKey(t *testing.T) {
	issuer, err := NewCodec(testSecret)
	require.NoError(t, err)
	other, err := NewCodec(strings.Repeat("z", 32))
	require.NoError(t, err)

	payload, hash, err := issuer.Seal(testClaims())
	require.NoError(t, err)

	_, err = other.Open(payload)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.NotEqual(t, hash, other.Hash(payload))
}

func TestNewCodecShortSecret(t *testing.T) {
	_, err := NewCodec("short")
	assert.Error(t, err)
}
