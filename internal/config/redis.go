package config

// Redis backs the hold/session rate limiter and the tier listing cache.  If
// the connection fails during startup the constructor returns nil and
// callers degrade by disabling both features; Redis is never consulted for
// an inventory decision.

import (
    "context"
    "crypto/tls"
    "time"

    "github.com/caarlos0/env/v11"
    "github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters.  REDIS_HOST and REDIS_PORT take
// precedence over REDIS_ADDR when both are set.
type RedisConfig struct {
    Host     string `env:"REDIS_HOST"`
    Port     string `env:"REDIS_PORT"`
    Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
    Password string `env:"REDIS_PASSWORD"`
    DB       int    `env:"REDIS_DB" envDefault:"0"`
    TLS      bool   `env:"REDIS_TLS" envDefault:"false"`
}

// Address resolves the host:port the client should dial.
func (c RedisConfig) Address() string {
    if c.Host != "" && c.Port != "" {
        return c.Host + ":" + c.Port
    }
    if c.Addr == "" {
        return "localhost:6379"
    }
    return c.Addr
}

// NewRedisClient instantiates a Redis client using environment variables.
// The returned client may be nil if a connection cannot be established.
func NewRedisClient() *redis.Client {
    var rc RedisConfig
    if err := env.Parse(&rc); err != nil {
        return nil
    }
    var tlsConf *tls.Config
    if rc.TLS {
        tlsConf = &tls.Config{InsecureSkipVerify: true}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      rc.Address(),
        Password:  rc.Password,
        DB:        rc.DB,
        TLSConfig: tlsConf,
    })
    // Ping the server with a short timeout.  Return nil on failure.
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}
