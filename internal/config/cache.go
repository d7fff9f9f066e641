package config

import (
    "time"

    "github.com/caarlos0/env/v11"
)

// CacheConfig controls the Redis cache in front of the public tier listing.
// Entries are keyed per event and dropped whenever that event's inventory or
// catalogue changes, so the TTL only bounds how long a missed invalidation
// can linger.
type CacheConfig struct {
    Enabled      bool          `env:"CACHE_ENABLED" envDefault:"true"`
    TTL          time.Duration `env:"CACHE_TTL" envDefault:"5s"`
    Prefix       string        `env:"CACHE_PREFIX" envDefault:"cache"`
    MaxBodyBytes int           `env:"CACHE_MAX_BODY_BYTES" envDefault:"262144"`
}

// LoadCacheConfig reads CACHE_* variables, falling back to the defaults when
// they do not parse.
func LoadCacheConfig() CacheConfig {
    var cfg CacheConfig
    if err := env.Parse(&cfg); err != nil {
        cfg = CacheConfig{Enabled: true, TTL: 5 * time.Second, Prefix: "cache", MaxBodyBytes: 256 << 10}
    }
    if cfg.TTL <= 0 {
        cfg.TTL = 5 * time.Second
    }
    if cfg.Prefix == "" {
        cfg.Prefix = "cache"
    }
    return cfg
}
