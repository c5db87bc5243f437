package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
)

// RedactionCache stores redaction results in Redis, keyed by the engine
// fingerprint and a hash of the input text
type RedactionCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewRedactionCache creates a new Redis-based redaction cache
func NewRedactionCache(config *Config, logger *zap.Logger) (*RedactionCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	c := &RedactionCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redaction cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize),
		zap.Duration("default_ttl", config.DefaultTTL))

	return c, nil
}

// Key returns the cache key for text under an engine fingerprint
func (c *RedactionCache) Key(fingerprint, text string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return c.config.KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get looks up a redaction. A corrupt entry is deleted and reported as a
// miss.
func (c *RedactionCache) Get(ctx context.Context, fingerprint, text string) (*privacy.Result, bool, error) {
	key := c.Key(fingerprint, text)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		c.errors.Add(1)
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var cached CachedResult
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Warn("Dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	return &privacy.Result{
		Text:     cached.Text,
		Findings: cached.Findings,
		Passes:   cached.Passes,
		Original: text,
	}, true, nil
}

// Set stores a redaction with the default TTL
func (c *RedactionCache) Set(ctx context.Context, fingerprint, text string, res *privacy.Result) error {
	data, err := json.Marshal(CachedResult{
		Text:     res.Text,
		Findings: res.Findings,
		Passes:   res.Passes,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal result for caching: %w", err)
	}

	if err := c.client.Set(ctx, c.Key(fingerprint, text), data, c.config.DefaultTTL).Err(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics
func (c *RedactionCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	keys, err := c.scanKeys(ctx)
	if err != nil {
		return stats, err
	}
	stats.TotalKeys = int64(len(keys))
	return stats, nil
}

func (c *RedactionCache) scanKeys(ctx context.Context) ([]string, error) {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return keys, nil
}

// Clear removes every entry under the key prefix
func (c *RedactionCache) Clear(ctx context.Context) (int, error) {
	keys, err := c.scanKeys(ctx)
	if err != nil {
		return 0, err
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return i, fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return len(keys), nil
}

// Close closes the Redis connection
func (c *RedactionCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// FingerprintedRedactor is a redactor whose output is fully determined by
// its fingerprint and the input text
type FingerprintedRedactor interface {
	privacy.Redactor
	Fingerprint() string
}

// CachingRedactor serves redactions from the cache and falls through to
// the engine on a miss or any cache error
type CachingRedactor struct {
	next        FingerprintedRedactor
	cache       *RedactionCache
	fingerprint string
	logger      *zap.Logger
}

// NewCachingRedactor wraps next with cache
func NewCachingRedactor(next FingerprintedRedactor, cache *RedactionCache, logger *zap.Logger) *CachingRedactor {
	return &CachingRedactor{
		next:        next,
		cache:       cache,
		fingerprint: next.Fingerprint(),
		logger:      logger,
	}
}

// Redact returns a cached result when one exists
func (r *CachingRedactor) Redact(ctx context.Context, text string) (*privacy.Result, error) {
	if text == "" {
		return r.next.Redact(ctx, text)
	}

	res, ok, err := r.cache.Get(ctx, r.fingerprint, text)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("Cache unavailable, redacting directly", zap.Error(err))
	}
	if ok {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err = r.next.Redact(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, r.fingerprint, text, res); err != nil {
		r.logger.Warn("Failed to store redaction", zap.Error(err))
	}
	return res, nil
}

// Fingerprint is the wrapped engine's fingerprint
func (r *CachingRedactor) Fingerprint() string {
	return r.fingerprint
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
