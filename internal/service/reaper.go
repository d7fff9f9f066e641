package service

import (
    "context"
    "errors"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/repository"
)

// SweepResult summarizes one reaper pass.
type SweepResult struct {
    HoldsReleased   int
    SessionsDeleted int64
    Promoted        int
}

// Reaper reclaims expired holds and stale sessions.  Each expired hold is
// released through the idempotent release path, so a reaper racing a
// buyer's own release, a conversion or another reaper changes nothing
// twice.
type Reaper struct {
    logger    *logrus.Logger
    holdRepo  *repository.HoldRepo
    sessions  *repository.SessionRepo
    holds     *HoldService
    admission *AdmissionService
    interval  time.Duration
    batchSize int
    now       func() time.Time
}

type ReaperProperty struct {
    Logger    *logrus.Logger
    HoldRepo  *repository.HoldRepo
    Sessions  *repository.SessionRepo
    Holds     *HoldService
    Admission *AdmissionService
    Interval  time.Duration
    BatchSize int
    Now       func() time.Time
}

func NewReaper(props ReaperProperty) *Reaper {
    r := &Reaper{
        logger:    props.Logger,
        holdRepo:  props.HoldRepo,
        sessions:  props.Sessions,
        holds:     props.Holds,
        admission: props.Admission,
        interval:  props.Interval,
        batchSize: props.BatchSize,
        now:       props.Now,
    }
    if r.interval <= 0 {
        r.interval = 30 * time.Second
    }
    if r.batchSize <= 0 {
        r.batchSize = 500
    }
    if r.now == nil {
        r.now = time.Now
    }
    return r
}

// SweepOnce runs a single pass: release up to one batch of expired holds,
// delete stale sessions, then promote waiting sessions on every event that
// has a line.  Per-item failures are logged and the pass continues; the
// first such error is returned.
func (r *Reaper) SweepOnce(ctx context.Context) (SweepResult, error) {
    var (
        res      SweepResult
        firstErr error
    )
    keep := func(err error) {
        if firstErr == nil {
            firstErr = err
        }
    }
    now := r.now()

    ids, err := r.holdRepo.ListExpiredIDs(ctx, now, r.batchSize)
    if err != nil {
        return res, err
    }
    for _, id := range ids {
        released, err := r.holds.ExpireHold(ctx, id)
        if err != nil {
            r.logger.WithContext(ctx).WithError(err).WithField("hold_id", id).Error("reaper: release expired hold failed")
            keep(err)
            continue
        }
        if released {
            res.HoldsReleased++
        }
    }

    deleted, err := r.sessions.DeleteStale(ctx, now)
    res.SessionsDeleted = deleted
    if err != nil {
        r.logger.WithContext(ctx).WithError(err).Error("reaper: delete stale sessions failed")
        keep(err)
    }

    events, err := r.sessions.EventsWithWaiting(ctx)
    if err != nil {
        keep(err)
        return res, firstErr
    }
    for _, eventID := range events {
        promoted, err := r.admission.PromoteWaiting(ctx, eventID)
        if err != nil && !errors.Is(err, repository.ErrEventNotFound) {
            r.logger.WithContext(ctx).WithError(err).WithField("event_id", eventID).Error("reaper: promote waiting failed")
            keep(err)
            continue
        }
        res.Promoted += len(promoted)
    }

    if res.HoldsReleased > 0 || res.SessionsDeleted > 0 || res.Promoted > 0 {
        r.logger.WithContext(ctx).WithFields(logrus.Fields{
            "holds_released":   res.HoldsReleased,
            "sessions_deleted": res.SessionsDeleted,
            "promoted":         res.Promoted,
        }).Info("reaper sweep")
    }
    return res, firstErr
}

// Run sweeps immediately and then on every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
    ticker := time.NewTicker(r.interval)
    defer ticker.Stop()
    for {
        if _, err := r.SweepOnce(ctx); err != nil && ctx.Err() == nil {
            r.logger.WithError(err).Warn("reaper sweep finished with errors")
        }
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
        }
    }
}
