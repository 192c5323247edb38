package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "test-access-secret-key-for-testing-purposes"
	testRefreshSecret = "test-refresh-secret-key-for-testing-purposes"
)

func newTestService() *Service {
	return NewService(testAccessSecret, testRefreshSecret, time.Hour, 24*time.Hour, 5*time.Minute)
}

func TestGenerateAccessToken(t *testing.T) {
	service := newTestService()
	userID := uuid.New()
	roles := []string{RoleUser}

	token, err := service.GenerateAccessToken(userID, "0771234567", roles)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "0771234567", claims.Phone)
	assert.Equal(t, roles, claims.Roles)
	assert.Equal(t, AccessToken, claims.TokenType)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.True(t, claims.HasRole(RoleUser))
	assert.False(t, claims.HasRole(RoleAdmin))
}

func TestGenerateServiceToken(t *testing.T) {
	service := newTestService()

	token, err := service.GenerateServiceToken("afc-payment")
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, ServiceToken, claims.TokenType)
	assert.Equal(t, "afc-payment", claims.Service)
	assert.Equal(t, "afc-payment", claims.Subject)
	assert.True(t, claims.HasRole(RoleService))

	expiry, err := service.GetTokenExpiry(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expiry, 5*time.Second)
}

func TestRefreshTokenIsNotAccessToken(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	refresh, err := service.GenerateRefreshToken(userID, "0771234567")
	require.NoError(t, err)

	claims, err := service.ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)

	_, err = service.ValidateAccessToken(refresh)
	assert.Error(t, err)

	access, err := service.GenerateAccessToken(userID, "0771234567", []string{RoleUser})
	require.NoError(t, err)
	_, err = service.ValidateRefreshToken(access)
	assert.Error(t, err)
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	t.Run("wrong secret", func(t *testing.T) {
		other := NewService("another-secret-key-for-testing-purposes", testRefreshSecret, time.Hour, time.Hour, time.Minute)
		token, err := other.GenerateAccessToken(userID, "", []string{RoleUser})
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewService(testAccessSecret, testRefreshSecret, -time.Minute, time.Hour, time.Minute)
		token, err := expired.GenerateAccessToken(userID, "", []string{RoleUser})
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := Claims{
			UserID:    userID,
			Roles:     []string{RoleAdmin},
			TokenType: AccessToken,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    "someone-else",
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAccessSecret))
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := Claims{UserID: userID, TokenType: AccessToken}
		claims.Issuer = issuer
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := service.ValidateAccessToken("not.a.token")
		assert.Error(t, err)
	})
}

func TestExtractClaims(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	token, err := service.GenerateAccessToken(userID, "0771234567", []string{RoleGate})
	require.NoError(t, err)

	claims, err := service.ExtractClaims(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, []string{RoleGate}, claims.Roles)

	_, err = service.ExtractClaims("invalid")
	assert.Error(t, err)
}
