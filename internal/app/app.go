// Package app wires configuration, storage and services together for the
// binaries under cmd/.
package app

import (
    "context"
    "database/sql"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/config"
    "github.com/iliyamo/ticketing-core/internal/database"
    "github.com/iliyamo/ticketing-core/internal/repository"
    "github.com/iliyamo/ticketing-core/internal/service"
)

// NewLogger builds the process logger.  Output is JSON outside dev unless
// LOG_FORMAT says otherwise.
func NewLogger(cfg config.Config) *logrus.Logger {
    logger := logrus.New()
    logger.SetOutput(os.Stdout)
    format := strings.ToLower(cfg.LogFormat)
    if format == "" {
        format = "json"
        if cfg.Env == "dev" {
            format = "text"
        }
    }
    if format == "json" {
        logger.SetFormatter(&logrus.JSONFormatter{})
    } else {
        logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    }
    level, err := logrus.ParseLevel(cfg.LogLevel)
    if err != nil {
        logger.WithField("log_level", cfg.LogLevel).Warn("unknown log level; using info")
        level = logrus.InfoLevel
    }
    logger.SetLevel(level)
    return logger
}

// OpenDB opens the configured database and applies pending migrations.
func OpenDB(ctx context.Context, cfg config.Config) (*sql.DB, database.Dialect, error) {
    var (
        db      *sql.DB
        dialect database.Dialect
        err     error
    )
    switch cfg.DBDriver {
    case "sqlite":
        dialect = database.SQLite
        db, err = database.OpenSQLite(cfg.DBPath)
    default:
        dialect = database.MySQL
        db, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
    }
    if err != nil {
        return nil, "", fmt.Errorf("open %s: %w", dialect, err)
    }
    if err := database.Migrate(ctx, db, dialect); err != nil {
        _ = db.Close()
        return nil, "", fmt.Errorf("migrate: %w", err)
    }
    return db, dialect, nil
}

// Services holds every service the binaries need.
type Services struct {
    Pricing   *service.PricingService
    Holds     *service.HoldService
    Admission *service.AdmissionService
    Catalog   *service.CatalogService
    Reaper    *service.Reaper
}

// NewServices builds the repositories and services over db.
func NewServices(cfg config.Config, logger *logrus.Logger, db *sql.DB, dialect database.Dialect, pub service.Publisher, listings service.ListingCache) *Services {
    tiers := repository.NewTierRepo(db, dialect)
    holds := repository.NewHoldRepo(db)
    sales := repository.NewSaleRepo(db)
    events := repository.NewEventRepo(db)
    fees := repository.NewFeeRepo(db, dialect)
    promos := repository.NewPromoRepo(db)
    sessions := repository.NewSessionRepo(db, dialect)

    s := &Services{}
    s.Pricing = service.NewPricingService(service.PricingServiceProperty{
        Logger: logger, Tiers: tiers, Events: events, Fees: fees, Promos: promos,
        Environment: cfg.FeeEnvironment,
    })
    s.Holds = service.NewHoldService(service.HoldServiceProperty{
        Logger: logger, DB: db, Tiers: tiers, Holds: holds, Sales: sales,
        Pricing: s.Pricing, Publisher: pub, Listings: listings, HoldDuration: cfg.HoldDuration,
    })
    s.Admission = service.NewAdmissionService(service.AdmissionServiceProperty{
        Logger: logger, DB: db, Events: events, Sessions: sessions, Publisher: pub,
    })
    s.Catalog = service.NewCatalogService(service.CatalogServiceProperty{
        Logger: logger, Events: events, Tiers: tiers, Fees: fees, Promos: promos, Sales: sales,
        Listings: listings, Environment: cfg.FeeEnvironment,
    })
    s.Reaper = service.NewReaper(service.ReaperProperty{
        Logger: logger, HoldRepo: holds, Sessions: sessions, Holds: s.Holds, Admission: s.Admission,
        Interval: cfg.ReaperInterval, BatchSize: cfg.ReaperBatchSize,
    })
    return s
}

// NewPublisher returns an AMQP publisher behind a bounded async buffer, or a
// no-op one when events are disabled.  The returned close function drains
// the buffer for up to five seconds and is safe to call either way.
func NewPublisher(cfg config.Config, logger *logrus.Logger) (service.Publisher, func()) {
    if !cfg.EventsEnabled {
        logger.Info("event publishing disabled")
        return service.NoopPublisher{}, func() {}
    }
    amqpPub := service.NewAMQPPublisher(cfg.RabbitURL, logger)
    async := service.NewAsyncPublisher(amqpPub, logger, cfg.PublishBuffer, 3*time.Second)
    return async, func() {
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        if err := async.Close(ctx); err != nil {
            logger.WithError(err).WithField("dropped", async.Dropped()).Warn("event buffer not drained")
        }
        _ = amqpPub.Close()
    }
}
