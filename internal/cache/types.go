package cache

import (
	"time"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
)

// CachedResult is the stored form of a redaction. The original text is
// never stored; entries are addressed by its hash.
type CachedResult struct {
	Text     string            `json:"text"`
	Findings []privacy.Finding `json:"findings,omitempty"`
	Passes   int               `json:"passes,omitempty"`
	CachedAt time.Time         `json:"cached_at"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Errors    int64   `json:"errors"`
	HitRate   float64 `json:"hit_rate"`
	TotalKeys int64   `json:"total_keys"`
}

// Config contains cache configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
