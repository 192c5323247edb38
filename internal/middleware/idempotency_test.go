package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type memoryIdempotencyStore struct {
	mu        sync.Mutex
	locks     map[string]bool
	responses map[string]*CachedResponse
	broken    bool
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{locks: map[string]bool{}, responses: map[string]*CachedResponse{}}
}

func (m *memoryIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken {
		return false, errors.New("redis down")
	}
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *memoryIdempotencyStore) Load(ctx context.Context, key string) (*CachedResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken {
		return nil, errors.New("redis down")
	}
	return m.responses[key], nil
}

func (m *memoryIdempotencyStore) Save(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = resp
	delete(m.locks, key)
	return nil
}

func (m *memoryIdempotencyStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func idempotentRouter(store IdempotencyStore, userID uuid.UUID, handler gin.HandlerFunc) *gin.Engine {
	router := setupTestRouter()
	router.Use(func(c *gin.Context) {
		c.Set(UserContextKey, UserContext{UserID: userID})
		c.Next()
	})
	router.Use(Idempotency(store, 10*time.Second, time.Hour, quietLogger()))
	router.POST("/bookings", handler)
	router.GET("/bookings", handler)
	return router
}

func send(router *gin.Engine, method, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/bookings", nil)
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	calls := 0
	router := idempotentRouter(newMemoryIdempotencyStore(), uuid.New(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"booking_number": "BK-20260301-000001"})
	})

	first := send(router, http.MethodPost, "key-1")
	second := send(router, http.MethodPost, "key-1")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.Empty(t, first.Header().Get(ReplayedHeader))
	assert.Contains(t, second.Header().Get("Content-Type"), "application/json")
}

func TestIdempotency_StoresClientErrors(t *testing.T) {
	calls := 0
	router := idempotentRouter(newMemoryIdempotencyStore(), uuid.New(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	})

	send(router, http.MethodPost, "key-1")
	w := send(router, http.MethodPost, "key-1")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIdempotency_ServerErrorsAreRetryable(t *testing.T) {
	calls := 0
	router := idempotentRouter(newMemoryIdempotencyStore(), uuid.New(), func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	assert.Equal(t, http.StatusInternalServerError, send(router, http.MethodPost, "key-1").Code)
	assert.Equal(t, http.StatusCreated, send(router, http.MethodPost, "key-1").Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotency_ConcurrentDuplicateIsRefused(t *testing.T) {
	store := newMemoryIdempotencyStore()
	userID := uuid.New()
	router := idempotentRouter(store, userID, func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	// A request for the same key is still in flight
	store.locks[userID.String()+":/bookings:key-1"] = true

	w := send(router, http.MethodPost, "key-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "REQUEST_IN_PROGRESS")
}

func TestIdempotency_ScopedPerCaller(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	}

	send(idempotentRouter(store, uuid.New(), handler), http.MethodPost, "shared")
	send(idempotentRouter(store, uuid.New(), handler), http.MethodPost, "shared")

	assert.Equal(t, 2, calls)
}

func TestIdempotency_PassThrough(t *testing.T) {
	calls := 0
	store := newMemoryIdempotencyStore()
	router := idempotentRouter(store, uuid.New(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{})
	})

	send(router, http.MethodPost, "")
	send(router, http.MethodPost, "")
	send(router, http.MethodGet, "key-1")
	send(router, http.MethodGet, "key-1")
	assert.Equal(t, 4, calls)

	store.broken = true
	send(router, http.MethodPost, "key-2")
	send(router, http.MethodPost, "key-2")
	assert.Equal(t, 6, calls)
}
