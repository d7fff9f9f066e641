package service

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticketing-core/internal/model"
    "github.com/iliyamo/ticketing-core/internal/queue"
    "github.com/iliyamo/ticketing-core/internal/repository"
)

// ErrInvalidSession is returned for an empty user session id.
var ErrInvalidSession = errors.New("user session id is required")

// ErrInvalidQueueConfig is returned when a queue bound is not positive.
var ErrInvalidQueueConfig = errors.New("queue limits must be positive")

// Admission is the outcome of RequestSession.  Position is the 1-based
// place in line and is zero unless Status is waiting.  Session is nil when
// the event's queue is disabled.
type Admission struct {
    Status   string                  `json:"status"`
    Position int                     `json:"position,omitempty"`
    Session  *model.TicketingSession `json:"session,omitempty"`
}

// AdmissionService bounds how many buyers of one event may be in checkout
// at once.  Every state change takes the event row lock first, so the
// active count it reads cannot change before it writes.
type AdmissionService struct {
    logger    *logrus.Logger
    db        *sql.DB
    events    *repository.EventRepo
    sessions  *repository.SessionRepo
    publisher Publisher
    now       func() time.Time
}

type AdmissionServiceProperty struct {
    Logger    *logrus.Logger
    DB        *sql.DB
    Events    *repository.EventRepo
    Sessions  *repository.SessionRepo
    Publisher Publisher
    Now       func() time.Time
}

func NewAdmissionService(props AdmissionServiceProperty) *AdmissionService {
    now := props.Now
    if now == nil {
        now = time.Now
    }
    pub := props.Publisher
    if pub == nil {
        pub = NoopPublisher{}
    }
    return &AdmissionService{
        logger:    props.Logger,
        db:        props.DB,
        events:    props.Events,
        sessions:  props.Sessions,
        publisher: pub,
        now:       now,
    }
}

// RequestSession admits the buyer or places them in line.  Repeating the
// request while active or waiting returns the existing session and refreshes
// its heartbeat.  Waiting sessions are promoted first, oldest first, so a
// freed slot goes to the head of the line rather than to this caller.
func (s *AdmissionService) RequestSession(ctx context.Context, eventID int64, userSessionID string) (Admission, error) {
    userSessionID = strings.TrimSpace(userSessionID)
    if userSessionID == "" {
        return Admission{}, ErrInvalidSession
    }
    now := s.now().UTC().Truncate(time.Millisecond)

    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return Admission{}, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    if err := s.sessions.LockEventTx(ctx, tx, eventID); err != nil {
        return Admission{}, err
    }
    cfg, err := s.sessions.ConfigTx(ctx, tx, eventID)
    if err != nil {
        return Admission{}, err
    }
    if !cfg.EnableQueue {
        if err := tx.Commit(); err != nil {
            return Admission{}, err
        }
        committed = true
        return Admission{Status: model.SessionActive}, nil
    }

    promoted, err := s.promoteLocked(ctx, tx, cfg, now)
    if err != nil {
        return Admission{}, err
    }

    result, admitted, err := s.admitLocked(ctx, tx, cfg, userSessionID, now)
    if err != nil {
        return Admission{}, err
    }
    if err := tx.Commit(); err != nil {
        return Admission{}, err
    }
    committed = true

    s.announce(promoted, true)
    if admitted {
        s.announce([]model.TicketingSession{*result.Session}, false)
    }
    s.logger.WithContext(ctx).WithFields(logrus.Fields{
        "event_id": eventID, "status": result.Status, "position": result.Position,
    }).Debug("session requested")
    return result, nil
}

// admitLocked returns the caller's existing open session or creates one.
// admitted is true only when a new active row was written.
func (s *AdmissionService) admitLocked(ctx context.Context, tx *sql.Tx, cfg model.QueueConfiguration, userSessionID string, now time.Time) (Admission, bool, error) {
    existing, err := s.sessions.FindOpenTx(ctx, tx, cfg.EventID, userSessionID)
    if err != nil {
        return Admission{}, false, err
    }
    if existing != nil {
        if err := s.sessions.TouchTx(ctx, tx, existing.ID, now); err != nil {
            return Admission{}, false, err
        }
        existing.LastSeenAt = now
        res, err := s.describe(ctx, tx, existing)
        return res, false, err
    }

    active, err := s.sessions.CountActiveTx(ctx, tx, cfg.EventID)
    if err != nil {
        return Admission{}, false, err
    }
    sess := &model.TicketingSession{
        EventID:       cfg.EventID,
        UserSessionID: userSessionID,
        Status:        model.SessionWaiting,
        CreatedAt:     now,
        LastSeenAt:    now,
    }
    if active < cfg.MaxConcurrentUsers {
        entered := now
        sess.Status = model.SessionActive
        sess.EnteredAt = &entered
    }
    if err := s.sessions.InsertTx(ctx, tx, sess); err != nil {
        if !errors.Is(err, repository.ErrConflict) {
            return Admission{}, false, err
        }
        // lost a race with the same user; report the row that won
        existing, findErr := s.sessions.FindOpenTx(ctx, tx, cfg.EventID, userSessionID)
        if findErr != nil {
            return Admission{}, false, findErr
        }
        if existing == nil {
            return Admission{}, false, err
        }
        res, err := s.describe(ctx, tx, existing)
        return res, false, err
    }
    res, err := s.describe(ctx, tx, sess)
    return res, sess.Status == model.SessionActive, err
}

func (s *AdmissionService) describe(ctx context.Context, tx *sql.Tx, sess *model.TicketingSession) (Admission, error) {
    res := Admission{Status: sess.Status, Session: sess}
    if sess.Status == model.SessionWaiting {
        pos, err := s.sessions.WaitingPositionTx(ctx, tx, sess)
        if err != nil {
            return Admission{}, err
        }
        res.Position = pos
    }
    return res, nil
}

func (s *AdmissionService) promoteLocked(ctx context.Context, tx *sql.Tx, cfg model.QueueConfiguration, now time.Time) ([]model.TicketingSession, error) {
    active, err := s.sessions.CountActiveTx(ctx, tx, cfg.EventID)
    if err != nil {
        return nil, err
    }
    return s.sessions.PromoteTx(ctx, tx, cfg.EventID, cfg.MaxConcurrentUsers-active, now)
}

func (s *AdmissionService) announce(sessions []model.TicketingSession, promoted bool) {
    for _, sess := range sessions {
        entered := ""
        if sess.EnteredAt != nil {
            entered = sess.EnteredAt.Format(time.RFC3339)
        }
        publish(s.publisher, s.logger, queue.SessionAdmittedQueue, queue.SessionAdmittedEvent{
            EventID:       sess.EventID,
            UserSessionID: sess.UserSessionID,
            Promoted:      promoted,
            EnteredAt:     entered,
        })
    }
}

// CompleteSession ends the buyer's checkout and hands the slot to the next
// waiting session.  It reports false when the buyer had no active session.
func (s *AdmissionService) CompleteSession(ctx context.Context, eventID int64, userSessionID string) (bool, error) {
    userSessionID = strings.TrimSpace(userSessionID)
    if userSessionID == "" {
        return false, ErrInvalidSession
    }
    now := s.now().UTC().Truncate(time.Millisecond)

    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return false, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    if err := s.sessions.LockEventTx(ctx, tx, eventID); err != nil {
        return false, err
    }
    done, err := s.sessions.CompleteTx(ctx, tx, eventID, userSessionID, now)
    if err != nil {
        return false, err
    }
    var promoted []model.TicketingSession
    if done {
        cfg, err := s.sessions.ConfigTx(ctx, tx, eventID)
        if err != nil {
            return false, err
        }
        if promoted, err = s.promoteLocked(ctx, tx, cfg, now); err != nil {
            return false, err
        }
    }
    if err := tx.Commit(); err != nil {
        return false, err
    }
    committed = true
    s.announce(promoted, true)
    return done, nil
}

// PromoteWaiting fills free slots of an event from its waiting line.
func (s *AdmissionService) PromoteWaiting(ctx context.Context, eventID int64) ([]model.TicketingSession, error) {
    now := s.now().UTC().Truncate(time.Millisecond)
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return nil, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    if err := s.sessions.LockEventTx(ctx, tx, eventID); err != nil {
        return nil, err
    }
    cfg, err := s.sessions.ConfigTx(ctx, tx, eventID)
    if err != nil {
        return nil, err
    }
    var promoted []model.TicketingSession
    if cfg.EnableQueue {
        if promoted, err = s.promoteLocked(ctx, tx, cfg, now); err != nil {
            return nil, err
        }
    }
    if err := tx.Commit(); err != nil {
        return nil, err
    }
    committed = true
    s.announce(promoted, true)
    return promoted, nil
}

// IsAdmitted reports whether the buyer may hold tickets for the event:
// always when the queue is disabled, otherwise only with an active session.
func (s *AdmissionService) IsAdmitted(ctx context.Context, eventID int64, userSessionID string) (bool, error) {
    cfg, err := s.sessions.Config(ctx, eventID)
    if err != nil {
        return false, err
    }
    if !cfg.EnableQueue {
        return true, nil
    }
    if strings.TrimSpace(userSessionID) == "" {
        return false, nil
    }
    return s.sessions.IsActive(ctx, eventID, userSessionID)
}

// GetQueueConfiguration returns the event's settings, or the defaults.
func (s *AdmissionService) GetQueueConfiguration(ctx context.Context, eventID int64) (model.QueueConfiguration, error) {
    if _, err := s.events.GetByID(ctx, eventID); err != nil {
        return model.QueueConfiguration{}, err
    }
    return s.sessions.Config(ctx, eventID)
}

// SetQueueConfiguration stores the event's settings.
func (s *AdmissionService) SetQueueConfiguration(ctx context.Context, cfg model.QueueConfiguration) error {
    if !cfg.Valid() {
        return ErrInvalidQueueConfig
    }
    if _, err := s.events.GetByID(ctx, cfg.EventID); err != nil {
        return err
    }
    if err := s.sessions.UpsertConfig(ctx, cfg); err != nil {
        return fmt.Errorf("save queue configuration: %w", err)
    }
    s.logger.WithContext(ctx).WithFields(logrus.Fields{
        "event_id": cfg.EventID, "max_concurrent_users": cfg.MaxConcurrentUsers, "enable_queue": cfg.EnableQueue,
    }).Info("queue configuration updated")
    return nil
}
