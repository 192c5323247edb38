package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/pkg/jwt"
)

// UserContextKey is the key used to store user information in Gin context
const UserContextKey = "user"

// UserContext represents the authenticated principal's information
type UserContext struct {
	UserID  uuid.UUID `json:"user_id"`
	Phone   string    `json:"phone"`
	Roles   []string  `json:"roles"`
	Service string    `json:"service,omitempty"`
}

// HasRole reports whether the principal carries any of roles
func (u UserContext) HasRole(roles ...string) bool {
	for _, required := range roles {
		for _, r := range u.Roles {
			if r == required {
				return true
			}
		}
	}
	return false
}

// IsPrivileged reports whether the principal may act on other users' entities
func (u UserContext) IsPrivileged() bool {
	return u.HasRole(jwt.RoleAdmin, jwt.RoleService)
}

// AuthMiddleware creates a middleware that validates JWT tokens
func AuthMiddleware(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.WithFields(logrus.Fields{
			"path": c.Request.URL.Path,
			"ip":   c.ClientIP(),
		})

		// Get Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warn("Auth failed: missing authorization header")
			abort(c, http.StatusUnauthorized, "unauthorized", "Authorization header is required", "MISSING_AUTH_HEADER")
			return
		}

		// Check Bearer token format
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			log.Warn("Auth failed: invalid authorization format")
			abort(c, http.StatusUnauthorized, "unauthorized", "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			log.Warn("Auth failed: empty token")
			abort(c, http.StatusUnauthorized, "unauthorized", "Token cannot be empty", "INVALID_AUTH_FORMAT")
			return
		}

		// Validate token
		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			if jwtService.IsTokenExpired(tokenString) {
				log.WithError(err).Warn("Auth failed: token expired")
				abort(c, http.StatusUnauthorized, "token_expired", "Access token has expired. Please refresh your token.", "TOKEN_EXPIRED")
			} else {
				log.WithError(err).Warn("Auth failed: invalid token")
				abort(c, http.StatusUnauthorized, "invalid_token", "Invalid access token", "INVALID_TOKEN")
			}
			return
		}

		c.Set(UserContextKey, UserContext{
			UserID:  claims.UserID,
			Phone:   claims.Phone,
			Roles:   claims.Roles,
			Service: claims.Service,
		})

		c.Next()
	}
}

// RequireRole creates a middleware that checks if the principal has any of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abort(c, http.StatusUnauthorized, "unauthorized", "User context not found. Auth middleware may not be applied.", "MISSING_USER_CONTEXT")
			return
		}

		if !userCtx.HasRole(roles...) {
			abort(c, http.StatusForbidden, "forbidden", "You don't have permission to access this resource", "INSUFFICIENT_PERMISSIONS")
			return
		}

		c.Next()
	}
}

// GetUserContext retrieves the user context from Gin context
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}

	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}

	return userCtx, true
}

// MustGetUserContext retrieves the user context or panics (use only after AuthMiddleware)
func MustGetUserContext(c *gin.Context) UserContext {
	userCtx, exists := GetUserContext(c)
	if !exists {
		panic("user context not found - ensure AuthMiddleware is applied")
	}
	return userCtx
}

func abort(c *gin.Context, status int, errCode, message, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   errCode,
		"message": message,
		"code":    code,
	})
}
