package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// IdempotencyHeader carries the client-chosen key of a retried POST
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency store
	ReplayedHeader = "Idempotent-Replayed"
)

// CachedResponse is a stored response replayed for a repeated key
type CachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore remembers in-flight and completed requests by key
type IdempotencyStore interface {
	// Reserve marks key as in flight; false means another request holds it
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Load returns the stored response, or nil when none exists
	Load(ctx context.Context, key string) (*CachedResponse, error)
	Save(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ============================================================================
// REDIS STORE
// ============================================================================

// RedisIdempotencyStore keeps reservations and responses in Redis
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore creates a Redis-backed store
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: "idempotency:"}
}

func (s *RedisIdempotencyStore) lockKey(key string) string { return s.prefix + key + ":lock" }
func (s *RedisIdempotencyStore) respKey(key string) string { return s.prefix + key }

// Reserve takes the in-flight lock with SETNX so a crashed request frees it after ttl
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.lockKey(key), "PROCESSING", ttl).Result()
}

// Load returns the stored response for key
func (s *RedisIdempotencyStore) Load(ctx context.Context, key string) (*CachedResponse, error) {
	raw, err := s.client.Get(ctx, s.respKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode cached response: %w", err)
	}
	return &resp, nil
}

// Save stores the response and drops the lock in one round trip
func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.respKey(key), raw, ttl)
	pipe.Del(ctx, s.lockKey(key))
	_, err = pipe.Exec(ctx)
	return err
}

// Release drops the lock so the client may retry
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.lockKey(key)).Err()
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response of a POST retried with the same
// Idempotency-Key. Keys are scoped to the caller and route. Server errors are
// not stored so the client can retry them. When the store is unreachable the
// request proceeds without protection.
func Idempotency(store IdempotencyStore, lockTTL, ttl time.Duration, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		clientKey := c.GetHeader(IdempotencyHeader)
		if clientKey == "" {
			c.Next()
			return
		}

		key := scopedKey(c, clientKey)
		ctx := c.Request.Context()
		log := logger.WithFields(logrus.Fields{"idempotency_key": clientKey, "path": c.FullPath()})

		// 1. Replay a finished request
		cached, err := store.Load(ctx, key)
		if err != nil {
			log.WithError(err).Warn("Idempotency store unavailable, processing without it")
			c.Next()
			return
		}
		if cached != nil {
			c.Header(ReplayedHeader, "true")
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		}

		// 2. Refuse a concurrent duplicate
		acquired, err := store.Reserve(ctx, key, lockTTL)
		if err != nil {
			log.WithError(err).Warn("Idempotency store unavailable, processing without it")
			c.Next()
			return
		}
		if !acquired {
			abort(c, http.StatusConflict, "request_in_progress", "A request with this Idempotency-Key is still being processed", "REQUEST_IN_PROGRESS")
			return
		}

		// 3. Process and remember the outcome
		writer := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		status := writer.Status()
		if status >= http.StatusInternalServerError {
			if err := store.Release(ctx, key); err != nil {
				log.WithError(err).Warn("Failed to release idempotency lock")
			}
			return
		}

		resp := &CachedResponse{
			Status:      status,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		}
		if err := store.Save(ctx, key, resp, ttl); err != nil {
			log.WithError(err).Warn("Failed to store idempotent response")
		}
	}
}

func scopedKey(c *gin.Context, clientKey string) string {
	owner := "anonymous"
	if userCtx, ok := GetUserContext(c); ok {
		owner = userCtx.UserID.String()
		if userCtx.Service != "" {
			owner = "service:" + userCtx.Service
		}
	}
	return fmt.Sprintf("%s:%s:%s", owner, c.Request.URL.Path, clientKey)
}
