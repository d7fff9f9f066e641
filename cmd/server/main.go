package main // Entry point package

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "sync"
    "syscall"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/app"
    "github.com/iliyamo/ticketing-core/internal/config"
    "github.com/iliyamo/ticketing-core/internal/handler"
    "github.com/iliyamo/ticketing-core/internal/middleware"
    "github.com/iliyamo/ticketing-core/internal/queue"
    "github.com/iliyamo/ticketing-core/internal/router"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        logrus.WithError(err).Fatal("load config")
    }
    logger := app.NewLogger(cfg)

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    db, dialect, err := app.OpenDB(ctx, cfg)
    if err != nil {
        logger.WithError(err).Fatal("database")
    }
    defer db.Close()

    rdb := config.NewRedisClient()
    if rdb == nil {
        logger.Warn("redis unavailable; rate limiting and tier cache disabled")
    } else {
        defer rdb.Close()
    }

    pub, closePub := app.NewPublisher(cfg, logger)
    defer closePub()

    tierCache := middleware.NewTierCache(config.LoadCacheConfig(), rdb, logger)
    svc := app.NewServices(cfg, logger, db, dialect, pub, tierCache)

    var wg sync.WaitGroup
    if cfg.ReaperEnabled {
        wg.Add(1)
        go func() {
            defer wg.Done()
            svc.Reaper.Run(ctx)
        }()
    }
    if cfg.EventsEnabled && cfg.ConsumerEnabled {
        consumer := &queue.SalesConsumer{URL: cfg.RabbitURL, Dir: cfg.SalesLogDir, Logger: logger}
        wg.Add(1)
        go func() {
            defer wg.Done()
            if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
                logger.WithError(err).Error("sales consumer stopped")
            }
        }()
    }

    catalogH := handler.NewCatalogHandler(svc.Catalog, logger)
    sessionH := handler.NewSessionHandler(svc.Admission, logger)
    holdH := handler.NewHoldHandler(svc.Holds, svc.Admission, logger)

    e := router.New(logger)
    router.RegisterRoutes(e, db)
    router.RegisterBuyer(e, router.Buyer{
        Sessions: sessionH,
        Holds:    holdH,
        Pricing:  handler.NewPricingHandler(svc.Pricing, logger),
        Catalog:  catalogH,
    }, cfg.JWTSecret, middleware.NewBuyerLimiter(config.LoadRateLimitConfig(), rdb, logger), tierCache)
    router.RegisterOrganizer(e, catalogH, sessionH, cfg.JWTSecret)
    router.RegisterPayments(e, holdH, cfg.PaymentAPIKeyHash)
    if cfg.PaymentAPIKeyHash == "" {
        logger.Warn("PAYMENT_API_KEY_HASH not set; hold conversion endpoint is closed")
    }

    addr := ":" + cfg.Port
    go func() {
        logger.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "db": dialect}).Info("listening")
        if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.WithError(err).Fatal("http server")
        }
    }()

    <-ctx.Done()
    logger.Info("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := e.Shutdown(shutdownCtx); err != nil {
        logger.WithError(err).Error("http shutdown")
    }
    wg.Wait()
}
