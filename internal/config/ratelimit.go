package config

import (
    "time"

    "github.com/caarlos0/env/v11"
)

// RateLimitConfig sizes the token buckets on the buyer write routes.  Each
// route has its own burst; one token comes back every RefillEvery.
type RateLimitConfig struct {
    Enabled      bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
    Prefix       string        `env:"RATE_LIMIT_PREFIX" envDefault:"rl"`
    SessionBurst int           `env:"RATE_LIMIT_SESSION_BURST" envDefault:"10"`
    HoldBurst    int           `env:"RATE_LIMIT_HOLD_BURST" envDefault:"5"`
    PromoBurst   int           `env:"RATE_LIMIT_PROMO_BURST" envDefault:"5"`
    RefillEvery  time.Duration `env:"RATE_LIMIT_REFILL_EVERY" envDefault:"2s"`
    // RedisTimeout bounds each bucket check; on timeout the request passes.
    RedisTimeout time.Duration `env:"RATE_LIMIT_REDIS_TIMEOUT" envDefault:"100ms"`
}

func LoadRateLimitConfig() RateLimitConfig {
    var cfg RateLimitConfig
    if err := env.Parse(&cfg); err != nil {
        cfg = RateLimitConfig{Enabled: true, Prefix: "rl"}
    }
    return cfg.normalize()
}

func (cfg RateLimitConfig) normalize() RateLimitConfig {
    if cfg.Prefix == "" {
        cfg.Prefix = "rl"
    }
    if cfg.SessionBurst < 1 {
        cfg.SessionBurst = 10
    }
    if cfg.HoldBurst < 1 {
        cfg.HoldBurst = 5
    }
    if cfg.PromoBurst < 1 {
        cfg.PromoBurst = 5
    }
    if cfg.RefillEvery <= 0 {
        cfg.RefillEvery = 2 * time.Second
    }
    if cfg.RedisTimeout <= 0 {
        cfg.RedisTimeout = 100 * time.Millisecond
    }
    return cfg
}
