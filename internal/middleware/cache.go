package middleware

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/config"
)

// captureWriter copies what the handler writes, up to limit bytes, while
// forwarding everything to the client.
type captureWriter struct {
    http.ResponseWriter
    status    int
    buf       bytes.Buffer
    limit     int
    truncated bool
}

func (cw *captureWriter) WriteHeader(code int) {
    cw.status = code
    cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
    if !cw.truncated {
        if cw.limit > 0 && cw.buf.Len()+len(b) > cw.limit {
            cw.truncated = true
            cw.buf.Reset()
        } else {
            cw.buf.Write(b)
        }
    }
    return cw.ResponseWriter.Write(b)
}

// cachedListing is the Redis value for one event's tier listing.
type cachedListing struct {
    Status      int    `json:"status"`
    ContentType string `json:"content_type"`
    Body        []byte `json:"body"`
}

// TierCache keeps the public tier listing of each event in Redis under its
// own key.  Services that change availability, prices or the tier set of an
// event call Invalidate so the next listing is rebuilt from the ledger.
// Holds are always decided against the database, never the cache.
type TierCache struct {
    cfg    config.CacheConfig
    rdb    *redis.Client
    logger *logrus.Logger
}

// NewTierCache returns a cache backed by rdb.  A nil client or a disabled
// config makes every method a no-op.
func NewTierCache(cfg config.CacheConfig, rdb *redis.Client, logger *logrus.Logger) *TierCache {
    if cfg.TTL <= 0 {
        cfg.TTL = 5 * time.Second
    }
    if cfg.Prefix == "" {
        cfg.Prefix = "cache"
    }
    return &TierCache{cfg: cfg, rdb: rdb, logger: logger}
}

func (tc *TierCache) enabled() bool {
    return tc != nil && tc.cfg.Enabled && tc.rdb != nil
}

// Key is the Redis key holding the listing of eventID.
func (tc *TierCache) Key(eventID int64) string {
    return fmt.Sprintf("%s:tiers:event:%d", tc.cfg.Prefix, eventID)
}

// Middleware serves GET /events/:id/tiers from the event's key and fills
// the key on a miss.  Only complete 200 responses are stored.
func (tc *TierCache) Middleware() echo.MiddlewareFunc {
    if !tc.enabled() {
        return passThrough
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if c.Request().Method != http.MethodGet {
                return next(c)
            }
            eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
            if err != nil || eventID <= 0 {
                return next(c)
            }
            ctx := c.Request().Context()
            key := tc.Key(eventID)

            if bs, err := tc.rdb.Get(ctx, key).Bytes(); err == nil {
                var hit cachedListing
                if json.Unmarshal(bs, &hit) == nil && hit.Status != 0 {
                    c.Response().Header().Set("X-Cache", "HIT")
                    return c.Blob(hit.Status, hit.ContentType, hit.Body)
                }
            } else if err != redis.Nil {
                tc.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("tier cache read failed")
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: tc.cfg.MaxBodyBytes}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || cw.truncated {
                return nil
            }
            payload, err := json.Marshal(cachedListing{
                Status:      cw.status,
                ContentType: c.Response().Header().Get(echo.HeaderContentType),
                Body:        cw.buf.Bytes(),
            })
            if err != nil {
                return nil
            }
            if err := tc.rdb.Set(context.WithoutCancel(ctx), key, payload, tc.cfg.TTL).Err(); err != nil {
                tc.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("tier cache write failed")
            }
            return nil
        }
    }
}

// Invalidate drops the cached listing of eventID.  Failures are logged; the
// entry then lives out its TTL.
func (tc *TierCache) Invalidate(ctx context.Context, eventID int64) {
    if !tc.enabled() {
        return
    }
    ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
    defer cancel()
    if err := tc.rdb.Del(ctx, tc.Key(eventID)).Err(); err != nil {
        tc.logger.WithContext(ctx).WithError(err).WithField("event_id", eventID).Warn("tier cache invalidate failed")
    }
}
