// Package qrcrypt seals ticket claims into opaque QR payloads.
//
// A payload is "v1." followed by base64url(nonce || ciphertext), sealed with
// XChaCha20-Poly1305 under a key derived from the service secret. The lookup
// hash is a keyed BLAKE2b-256 of the payload string, so any change to the
// payload changes the hash and breaks the AEAD tag.
package qrcrypt

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	versionPrefix = "v1."
	infoSeal      = "afc-qr-v1-seal"
	infoHash      = "afc-qr-v1-hash"
)

// ErrMalformed is returned for payloads that cannot be opened
var ErrMalformed = errors.New("malformed QR payload")

// Claims are the ticket facts carried inside a QR payload
type Claims struct {
	TicketID     uuid.UUID `json:"tid"`
	TicketNumber string    `json:"tno"`
	Version      int       `json:"ver"`
	IssuedAt     int64     `json:"iat"`
	ValidUntil   int64     `json:"exp"`
}

// Codec seals and opens QR payloads. It is safe for concurrent use.
type Codec struct {
	aead    cipher.AEAD
	hashKey []byte
	rand    io.Reader
}

// NewCodec derives the sealing and hashing keys from secret
func NewCodec(secret string) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("qr secret must be at least 32 bytes")
	}

	sealKey, err := deriveKey(secret, infoSeal, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	hashKey, err := deriveKey(secret, infoHash, 32)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &Codec{aead: aead, hashKey: hashKey, rand: rand.Reader}, nil
}

func deriveKey(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts claims and returns the payload and its lookup hash
func (c *Codec) Seal(claims Claims) (payload string, hash string, err error) {
	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode claims: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, []byte(versionPrefix))
	payload = versionPrefix + base64.RawURLEncoding.EncodeToString(sealed)
	return payload, c.Hash(payload), nil
}

// Open authenticates and decrypts a payload. Every failure is ErrMalformed
// so gates cannot distinguish a forged payload from a garbled scan.
func (c *Codec) Open(payload string) (*Claims, error) {
	if !strings.HasPrefix(payload, versionPrefix) {
		return nil, ErrMalformed
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(payload, versionPrefix))
	if err != nil || len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, ErrMalformed
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(versionPrefix))
	if err != nil {
		return nil, ErrMalformed
	}

	var claims Claims
	if err := json.Unmarshal(plaintext, &claims); err != nil || claims.TicketID == uuid.Nil {
		return nil, ErrMalformed
	}
	return &claims, nil
}

// Hash returns the hex keyed BLAKE2b-256 digest of a payload
func (c *Codec) Hash(payload string) string {
	h, err := blake2b.New256(c.hashKey)
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(err)
	}
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
