// Package cache provides Redis-backed read-through caching for context
// weight vectors. When Redis is unavailable every lookup falls through to
// the database, so the cache is never on the correctness path.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/signal"
)

// Config holds Redis connection settings.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`

	// TTL bounds staleness when an invalidation is lost.
	TTL time.Duration `json:"ttl"`
}

// DefaultConfig returns the stock cache settings.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Address:  "localhost:6379",
		PoolSize: 10,
		TTL:      time.Hour,
	}
}

// WeightBackend is the persistent store behind the cache.
type WeightBackend interface {
	Weights(ctx context.Context, key confluence.Context) (confluence.WeightVector, error)
	Replace(ctx context.Context, key confluence.Context, w confluence.WeightVector, entry signal.TrainingLogEntry) error
}

// WeightCache is a read-through cache over a WeightBackend. Replace writes
// through to the backend and invalidates the cached vector, so readers move
// to the trained weights on their next lookup.
type WeightCache struct {
	client  *redis.Client
	backend WeightBackend
	ttl     time.Duration
	log     zerolog.Logger

	mu           sync.Mutex
	failureCount int
	healthy      bool
	lastProbe    time.Time
}

const (
	maxFailures   = 3
	probeInterval = 30 * time.Second
)

// NewWeightCache connects to Redis and wraps the backend. A failed initial
// connection is not fatal: the cache starts degraded and recovers on the
// first successful operation.
func NewWeightCache(cfg Config, backend WeightBackend) (*WeightCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	wc := &WeightCache{
		client:  client,
		backend: backend,
		ttl:     cfg.TTL,
		log:     logging.Component("cache"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		wc.log.Warn().Err(err).Str("address", cfg.Address).
			Msg("initial redis connection failed, starting degraded")
		return wc, nil
	}

	wc.healthy = true
	wc.log.Info().Str("address", cfg.Address).Msg("redis connected")
	return wc, nil
}

// IsHealthy reports whether Redis is currently usable. While degraded it
// probes the connection at most once per interval so the cache comes back
// without outside help.
func (wc *WeightCache) IsHealthy() bool {
	wc.mu.Lock()
	if wc.healthy {
		wc.mu.Unlock()
		return true
	}
	if time.Since(wc.lastProbe) < probeInterval {
		wc.mu.Unlock()
		return false
	}
	wc.lastProbe = time.Now()
	wc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wc.client.Ping(ctx).Err(); err != nil {
		return false
	}
	wc.recordSuccess()
	wc.log.Info().Msg("redis connection recovered")
	return true
}

// Close releases the Redis connection.
func (wc *WeightCache) Close() error {
	return wc.client.Close()
}

func cacheKey(key confluence.Context) string {
	return "weights:" + key.Key()
}

// Weights returns the context's vector, serving from Redis when possible and
// populating the cache on a miss.
func (wc *WeightCache) Weights(ctx context.Context, key confluence.Context) (confluence.WeightVector, error) {
	if wc.IsHealthy() {
		raw, err := wc.client.Get(ctx, cacheKey(key)).Bytes()
		if err == nil {
			var w confluence.WeightVector
			if jsonErr := json.Unmarshal(raw, &w); jsonErr == nil {
				wc.recordSuccess()
				return w, nil
			}
			// Corrupt entry: drop it and fall through to the backend.
			wc.client.Del(ctx, cacheKey(key))
		} else if err != redis.Nil {
			wc.recordFailure(err)
		}
	}

	w, err := wc.backend.Weights(ctx, key)
	if err != nil {
		return confluence.WeightVector{}, err
	}

	if wc.IsHealthy() {
		if raw, jsonErr := json.Marshal(w); jsonErr == nil {
			if err := wc.client.Set(ctx, cacheKey(key), raw, wc.ttl).Err(); err != nil {
				wc.recordFailure(err)
			} else {
				wc.recordSuccess()
			}
		}
	}
	return w, nil
}

// Replace writes the trained vector through to the backend and invalidates
// the cached copy. The invalidation is best effort; the TTL bounds how long
// a stale vector can linger if it is lost.
func (wc *WeightCache) Replace(ctx context.Context, key confluence.Context, w confluence.WeightVector, entry signal.TrainingLogEntry) error {
	if err := wc.backend.Replace(ctx, key, w, entry); err != nil {
		return err
	}
	if err := wc.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		wc.recordFailure(err)
		wc.log.Warn().Err(err).Str("context", key.Key()).
			Msg("cache invalidation failed, stale weights until TTL")
	}
	return nil
}

func (wc *WeightCache) recordFailure(err error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.failureCount++
	if wc.failureCount >= maxFailures && wc.healthy {
		wc.healthy = false
		wc.log.Warn().Err(err).Int("failures", wc.failureCount).
			Msg("redis marked unhealthy, serving from database")
	}
}

func (wc *WeightCache) recordSuccess() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.failureCount = 0
	wc.healthy = true
}
