package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/models"
)

// StationSource is where station and route data comes from. Lookups of
// unknown ids return nil, nil.
type StationSource interface {
	GetRoute(ctx context.Context, routeID string) (*models.RouteFare, error)
	GetStation(ctx context.Context, stationID string) (*models.Station, error)
}

// ============================================================================
// STATIC FILE
// ============================================================================

type directoryFile struct {
	Stations []struct {
		ID   string `yaml:"id"`
		Code string `yaml:"code"`
		Name string `yaml:"name"`
	} `yaml:"stations"`
	Routes []struct {
		ID         string   `yaml:"id"`
		Name       string   `yaml:"name"`
		BaseFare   float64  `yaml:"base_fare"`
		DistanceKM float64  `yaml:"distance_km"`
		Currency   string   `yaml:"currency"`
		Stations   []string `yaml:"stations"`
	} `yaml:"routes"`
}

// StaticDirectory serves stations and routes loaded from a YAML file
type StaticDirectory struct {
	routes   map[string]*models.RouteFare
	stations map[string]*models.Station
}

// LoadStaticDirectory reads a YAML station directory from path
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read station directory %s: %w", path, err)
	}
	return ParseStaticDirectory(data)
}

// ParseStaticDirectory parses a YAML station directory. Every station a
// route calls at must be listed.
func ParseStaticDirectory(data []byte) (*StaticDirectory, error) {
	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse station directory: %w", err)
	}

	d := &StaticDirectory{
		routes:   make(map[string]*models.RouteFare, len(file.Routes)),
		stations: make(map[string]*models.Station, len(file.Stations)),
	}
	for _, s := range file.Stations {
		if s.ID == "" || s.Name == "" {
			return nil, fmt.Errorf("station entries need an id and a name")
		}
		code := s.Code
		if code == "" {
			code = s.ID
		}
		d.stations[s.ID] = &models.Station{ID: s.ID, Code: code, Name: s.Name}
	}
	for _, r := range file.Routes {
		if r.ID == "" || len(r.Stations) < 2 {
			return nil, fmt.Errorf("route %q needs an id and at least two stations", r.ID)
		}
		if r.BaseFare < 0 || r.DistanceKM < 0 {
			return nil, fmt.Errorf("route %s has a negative fare or distance", r.ID)
		}
		for _, id := range r.Stations {
			if _, ok := d.stations[id]; !ok {
				return nil, fmt.Errorf("route %s calls at unknown station %s", r.ID, id)
			}
		}
		d.routes[r.ID] = &models.RouteFare{
			RouteID:    r.ID,
			Name:       r.Name,
			BaseFare:   r.BaseFare,
			DistanceKM: r.DistanceKM,
			Currency:   r.Currency,
			StationIDs: r.Stations,
		}
	}
	return d, nil
}

// GetRoute implements StationSource
func (d *StaticDirectory) GetRoute(ctx context.Context, routeID string) (*models.RouteFare, error) {
	return d.routes[routeID], nil
}

// GetStation implements StationSource
func (d *StaticDirectory) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	return d.stations[stationID], nil
}

// ============================================================================
// REMOTE DIRECTORY
// ============================================================================

// HTTPDirectory reads stations and routes from the directory service
type HTTPDirectory struct {
	serviceClient
}

// NewHTTPDirectory creates a client for the directory service at baseURL
func NewHTTPDirectory(baseURL, serviceName string, tokens TokenSource, timeout time.Duration, logger *logrus.Logger) *HTTPDirectory {
	return &HTTPDirectory{newServiceClient(baseURL, serviceName, "station", tokens, timeout, logger)}
}

// GetRoute implements StationSource
func (d *HTTPDirectory) GetRoute(ctx context.Context, routeID string) (*models.RouteFare, error) {
	var route models.RouteFare
	err := d.do(ctx, http.MethodGet, "/api/v1/routes/"+routeID, nil, &route)
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}

// GetStation implements StationSource
func (d *HTTPDirectory) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	var station models.Station
	err := d.do(ctx, http.MethodGet, "/api/v1/stations/"+stationID, nil, &station)
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &station, nil
}

// ============================================================================
// CACHE
// ============================================================================

// ErrCacheMiss is returned by a StationCache that holds no entry for a key
var ErrCacheMiss = errors.New("cache miss")

// StationCache is a byte store with expiry
type StationCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStationCache stores directory entries in Redis
type RedisStationCache struct {
	client *redis.Client
}

// NewRedisStationCache creates a Redis-backed cache
func NewRedisStationCache(client *redis.Client) *RedisStationCache {
	return &RedisStationCache{client: client}
}

// Get implements StationCache
func (c *RedisStationCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return raw, err
}

// Set implements StationCache
func (c *RedisStationCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CachedDirectory fronts a StationSource with a StationCache. Cache
// failures are logged and fall through to the source; misses are not cached.
type CachedDirectory struct {
	source StationSource
	cache  StationCache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedDirectory creates a caching station directory
func NewCachedDirectory(source StationSource, cache StationCache, ttl time.Duration, logger *logrus.Logger) *CachedDirectory {
	return &CachedDirectory{source: source, cache: cache, ttl: ttl, logger: logger}
}

// GetRoute implements services.StationDirectory
func (d *CachedDirectory) GetRoute(ctx context.Context, routeID string) (*models.RouteFare, error) {
	var route models.RouteFare
	key := "stations:route:" + routeID
	if d.lookup(ctx, key, &route) {
		return &route, nil
	}

	fetched, err := d.source.GetRoute(ctx, routeID)
	if err != nil || fetched == nil {
		return fetched, err
	}
	d.store(ctx, key, fetched)
	return fetched, nil
}

// GetStation implements services.StationDirectory
func (d *CachedDirectory) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	var station models.Station
	key := "stations:station:" + stationID
	if d.lookup(ctx, key, &station) {
		return &station, nil
	}

	fetched, err := d.source.GetStation(ctx, stationID)
	if err != nil || fetched == nil {
		return fetched, err
	}
	d.store(ctx, key, fetched)
	return fetched, nil
}

func (d *CachedDirectory) lookup(ctx context.Context, key string, out interface{}) bool {
	raw, err := d.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			d.logger.WithError(err).WithField("key", key).Warn("Station cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		d.logger.WithError(err).WithField("key", key).Warn("Discarding malformed station cache entry")
		return false
	}
	return true
}

func (d *CachedDirectory) store(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
		d.logger.WithError(err).WithField("key", key).Warn("Station cache write failed")
	}
}
