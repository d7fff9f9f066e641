package middleware

import (
    "context"
    "fmt"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/config"
)

// Buckets on the buyer write routes.
const (
    BucketSession = "session"
    BucketHold    = "hold"
    BucketPromo   = "promo"
)

// passThrough is the middleware used when a Redis-backed feature is off.
func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// bucketScript takes one token from the hash at KEYS[1], first crediting one
// token per elapsed refill period up to the burst.  It returns
// {tokens_left, wait_ms}; wait_ms is zero when the request may proceed.
var bucketScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local refill_ms = tonumber(ARGV[3])
local tokens = tonumber(redis.call('HGET', KEYS[1], 't'))
local stamp = tonumber(redis.call('HGET', KEYS[1], 's'))
if tokens == nil or stamp == nil then
  tokens = burst
  stamp = now
end
local gained = math.floor((now - stamp) / refill_ms)
if gained > 0 then
  tokens = math.min(burst, tokens + gained)
  stamp = stamp + gained * refill_ms
end
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
else
  wait = refill_ms - (now - stamp)
end
redis.call('HSET', KEYS[1], 't', tokens, 's', stamp)
redis.call('PEXPIRE', KEYS[1], (burst + 1) * refill_ms)
return {tokens, wait}
`)

// BuyerLimiter throttles the routes a bot would hammer during an on-sale:
// session requests, hold creation and promo validation.  Signed-in buyers
// are counted per user id and guests per client IP, so rotating session ids
// does not buy a guest more requests.
type BuyerLimiter struct {
    cfg    config.RateLimitConfig
    rdb    *redis.Client
    logger *logrus.Logger
}

// NewBuyerLimiter returns a limiter backed by rdb.  With a nil client or a
// disabled config every bucket lets requests through.
func NewBuyerLimiter(cfg config.RateLimitConfig, rdb *redis.Client, logger *logrus.Logger) *BuyerLimiter {
    return &BuyerLimiter{cfg: cfg, rdb: rdb, logger: logger}
}

func (l *BuyerLimiter) Sessions() echo.MiddlewareFunc {
    return l.Limit(BucketSession, l.cfg.SessionBurst)
}

func (l *BuyerLimiter) Holds() echo.MiddlewareFunc { return l.Limit(BucketHold, l.cfg.HoldBurst) }

func (l *BuyerLimiter) Promos() echo.MiddlewareFunc { return l.Limit(BucketPromo, l.cfg.PromoBurst) }

// Limit guards a route with its own bucket of size burst.  Redis errors and
// timeouts let the request through.
func (l *BuyerLimiter) Limit(bucket string, burst int) echo.MiddlewareFunc {
    if l == nil || !l.cfg.Enabled || l.rdb == nil {
        return passThrough
    }
    if burst < 1 {
        burst = 1
    }
    refill := l.cfg.RefillEvery
    if refill <= 0 {
        refill = 2 * time.Second
    }
    timeout := l.cfg.RedisTimeout
    if timeout <= 0 {
        timeout = 100 * time.Millisecond
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := bucketKey(l.cfg.Prefix, bucket, c)
            ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
            res, err := bucketScript.Run(ctx, l.rdb, []string{key},
                time.Now().UnixMilli(), burst, refill.Milliseconds()).Int64Slice()
            cancel()
            if err != nil || len(res) != 2 {
                l.logger.WithContext(c.Request().Context()).WithError(err).WithField("key", key).
                    Warn("rate limit check failed; allowing request")
                return next(c)
            }

            left, waitMs := res[0], res[1]
            c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(burst))
            c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(left, 10))
            if waitMs > 0 {
                secs := (waitMs + 999) / 1000
                c.Response().Header().Set("Retry-After", strconv.FormatInt(secs, 10))
                return c.JSON(http.StatusTooManyRequests, echo.Map{
                    "error":       "too many requests",
                    "retry_after": secs,
                })
            }
            return next(c)
        }
    }
}

// bucketKey is <prefix>:<bucket>:user:<id> for signed-in buyers and
// <prefix>:<bucket>:ip:<addr> for guests.
func bucketKey(prefix, bucket string, c echo.Context) string {
    if id, ok := UserID(c); ok {
        return fmt.Sprintf("%s:%s:user:%d", prefix, bucket, id)
    }
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    return fmt.Sprintf("%s:%s:ip:%s", prefix, bucket, ip)
}
