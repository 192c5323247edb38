package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttransit/afc-backend/pkg/jwt"
)

func setupTestJWTService() *jwt.Service {
	return jwt.NewService(
		"test-access-secret-key-123456789",
		"test-refresh-secret-key-123456789",
		time.Hour,
		24*time.Hour,
		5*time.Minute,
	)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestAuthMiddleware_Success(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter()

	userID := uuid.New()
	phone := "+94712345678"

	token, err := jwtService.GenerateAccessToken(userID, phone, []string{jwt.RoleUser})
	require.NoError(t, err)

	router.GET("/protected", AuthMiddleware(jwtService, quietLogger()), func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		require.True(t, exists)
		c.JSON(http.StatusOK, gin.H{
			"message": "success",
			"user_id": userCtx.UserID,
			"phone":   userCtx.Phone,
		})
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "success")
	assert.Contains(t, w.Body.String(), phone)
}

func TestAuthMiddleware_ServiceToken(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter()

	token, err := jwtService.GenerateServiceToken("payment-service")
	require.NoError(t, err)

	router.GET("/internal", AuthMiddleware(jwtService, quietLogger()), RequireRole(jwt.RoleService), func(c *gin.Context) {
		userCtx := MustGetUserContext(c)
		assert.True(t, userCtx.IsPrivileged())
		c.JSON(http.StatusOK, gin.H{"service": userCtx.Service})
	})

	req := httptest.NewRequest("GET", "/internal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "payment-service")
}

func TestAuthMiddleware_MissingAuthHeader(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter()

	router.GET("/protected", AuthMiddleware(jwtService, quietLogger()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Authorization header is required")
	assert.Contains(t, w.Body.String(), "MISSING_AUTH_HEADER")
}

func TestAuthMiddleware_InvalidAuthFormat(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter()

	router.GET("/protected", AuthMiddleware(jwtService, quietLogger()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	tests := []struct {
		name   string
		header string
	}{
		{"Missing Bearer", "some-token"},
		{"Wrong prefix", "Basic some-token"},
		{"Empty Bearer", "Bearer "},
		{"No token", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected", nil)
			req.Header.Set("Authorization", tt.header)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "INVALID_AUTH_FORMAT")
		})
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter()

	router.GET("/protected", AuthMiddleware(jwtService, quietLogger()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	for _, token := range []string{"invalid.token.here", "randomstringnotavalidtoken"} {
		t.Run(token, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			body := w.Body.String()
			assert.True(t, strings.Contains(body, "INVALID_TOKEN") || strings.Contains(body, "TOKEN_EXPIRED"), body)
		})
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	jwtService := jwt.NewService(
		"test-access-secret-key-123456789",
		"test-refresh-secret-key-123456789",
		time.Millisecond,
		24*time.Hour,
		time.Minute,
	)
	router := setupTestRouter()

	token, err := jwtService.GenerateAccessToken(uuid.New(), "+94712345678", []string{jwt.RoleUser})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	router.GET("/protected", AuthMiddleware(jwtService, quietLogger()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_EXPIRED")
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	jwtService := setupTestJWTService()
	wrongService := jwt.NewService("wrong-secret-key", "wrong-refresh-secret", time.Hour, 24*time.Hour, time.Minute)

	token, err := wrongService.GenerateAccessToken(uuid.New(), "+94712345678", []string{jwt.RoleUser})
	require.NoError(t, err)

	router := setupTestRouter()
	router.GET("/protected", AuthMiddleware(jwtService, quietLogger()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
}

func TestGetUserContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Context exists", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		expected := UserContext{UserID: uuid.New(), Phone: "+94712345678", Roles: []string{jwt.RoleGate}}
		c.Set(UserContextKey, expected)

		userCtx, exists := GetUserContext(c)
		assert.True(t, exists)
		assert.Equal(t, expected, userCtx)
		assert.False(t, userCtx.IsPrivileged())
	})

	t.Run("Context not found", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		userCtx, exists := GetUserContext(c)
		assert.False(t, exists)
		assert.Equal(t, UserContext{}, userCtx)
	})

	t.Run("Context wrong type", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(UserContextKey, "wrong type")
		_, exists := GetUserContext(c)
		assert.False(t, exists)
	})
}

func TestMustGetUserContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Panics(t, func() { MustGetUserContext(c) })

	c.Set(UserContextKey, UserContext{UserID: uuid.New()})
	assert.NotPanics(t, func() { MustGetUserContext(c) })
}

func TestRequireRole(t *testing.T) {
	jwtService := setupTestJWTService()
	userID := uuid.New()

	tests := []struct {
		name     string
		roles    []string
		required []string
		want     int
		code     string
	}{
		{"has role", []string{jwt.RoleUser, jwt.RoleGate}, []string{jwt.RoleGate}, http.StatusOK, ""},
		{"lacks role", []string{jwt.RoleUser}, []string{jwt.RoleAdmin}, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS"},
		{"any of several", []string{jwt.RoleGate}, []string{jwt.RoleAdmin, jwt.RoleGate}, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwtService.GenerateAccessToken(userID, "+94712345678", tt.roles)
			require.NoError(t, err)

			router := setupTestRouter()
			router.GET("/r", AuthMiddleware(jwtService, quietLogger()), RequireRole(tt.required...), func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"message": "success"})
			})

			req := httptest.NewRequest("GET", "/r", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.code != "" {
				assert.Contains(t, w.Body.String(), tt.code)
			}
		})
	}

	t.Run("no user context", func(t *testing.T) {
		router := setupTestRouter()
		router.GET("/no-auth", RequireRole(jwt.RoleAdmin), func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
		})

		req := httptest.NewRequest("GET", "/no-auth", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "MISSING_USER_CONTEXT")
	})
}
