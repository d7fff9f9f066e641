// Command reaper releases expired holds and clears stale admission
// sessions.  Run it when the API servers are started with
// REAPER_ENABLED=false, or with --once from cron.
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"

    "github.com/spf13/pflag"

    "github.com/iliyamo/ticketing-core/internal/app"
    "github.com/iliyamo/ticketing-core/internal/config"
    "github.com/iliyamo/ticketing-core/internal/middleware"
)

func main() {
    var (
        once      bool
        interval  = pflag.Duration("interval", 0, "time between sweeps (default REAPER_INTERVAL)")
        batchSize = pflag.Int("batch-size", 0, "expired holds released per sweep (default REAPER_BATCH_SIZE)")
    )
    pflag.BoolVar(&once, "once", false, "run a single sweep and exit")
    pflag.Parse()

    cfg, err := config.Load()
    logger := app.NewLogger(cfg)
    if err != nil {
        logger.WithError(err).Fatal("load config")
    }
    if *interval > 0 {
        cfg.ReaperInterval = *interval
    }
    if *batchSize > 0 {
        cfg.ReaperBatchSize = *batchSize
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    db, dialect, err := app.OpenDB(ctx, cfg)
    if err != nil {
        logger.WithError(err).Fatal("database")
    }
    defer db.Close()

    pub, closePub := app.NewPublisher(cfg, logger)
    defer closePub()

    // Expiring a hold drops the API's cached listing for its event.
    var listings *middleware.TierCache
    if rdb := config.NewRedisClient(); rdb != nil {
        defer rdb.Close()
        listings = middleware.NewTierCache(config.LoadCacheConfig(), rdb, logger)
    }
    svc := app.NewServices(cfg, logger, db, dialect, pub, listings)

    if once {
        res, err := svc.Reaper.SweepOnce(ctx)
        entry := logger.WithField("holds_released", res.HoldsReleased).
            WithField("sessions_deleted", res.SessionsDeleted).
            WithField("promoted", res.Promoted)
        if err != nil {
            entry.WithError(err).Error("sweep finished with errors")
            os.Exit(1)
        }
        entry.Info("sweep finished")
        return
    }
    logger.WithField("interval", cfg.ReaperInterval.String()).Info("reaper started")
    svc.Reaper.Run(ctx)
}
