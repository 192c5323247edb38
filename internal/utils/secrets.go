package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Secrets is one full set of signing keys for a deployment
type Secrets struct {
	JWTSecret        string
	JWTRefreshSecret string
	QRSecret         string
	WebhookSecret    string
}

// GenerateSecrets generates independent 256-bit secrets for every signer
func GenerateSecrets() (*Secrets, error) {
	var s Secrets
	for _, target := range []struct {
		name string
		dst  *string
	}{
		{"JWT access", &s.JWTSecret},
		{"JWT refresh", &s.JWTRefreshSecret},
		{"QR", &s.QRSecret},
		{"webhook", &s.WebhookSecret},
	} {
		secret, err := GenerateSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s secret: %w", target.name, err)
		}
		*target.dst = secret
	}
	return &s, nil
}

// EnvLines renders the secrets as .env assignments
func (s *Secrets) EnvLines() []string {
	return []string{
		"JWT_SECRET=" + s.JWTSecret,
		"JWT_REFRESH_SECRET=" + s.JWTRefreshSecret,
		"QR_SECRET=" + s.QRSecret,
		"SANDBOX_WEBHOOK_SECRET=" + s.WebhookSecret,
	}
}
