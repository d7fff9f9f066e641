package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/iliyamo/ticketing-core/internal/database"
    "github.com/iliyamo/ticketing-core/internal/model"
)

// SessionRepo manages ticketing_sessions and queue_configurations.  The
// admission paths lock the event row first (LockEventTx) so that counting
// active sessions and inserting a new one cannot interleave.
type SessionRepo struct {
    db      *sql.DB
    dialect database.Dialect
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sql.DB, d database.Dialect) *SessionRepo {
    return &SessionRepo{db: db, dialect: d}
}

const sessionColumns = `id, event_id, user_session_id, status, entered_at, created_at, last_seen_at`

func scanSession(s rowScanner) (*model.TicketingSession, error) {
    var (
        ts        model.TicketingSession
        enteredAt sql.NullInt64
        createdAt int64
        lastSeen  int64
    )
    if err := s.Scan(&ts.ID, &ts.EventID, &ts.UserSessionID, &ts.Status, &enteredAt, &createdAt, &lastSeen); err != nil {
        return nil, err
    }
    ts.EnteredAt = nullMillis(enteredAt)
    ts.CreatedAt = fromMillis(createdAt)
    ts.LastSeenAt = fromMillis(lastSeen)
    return &ts, nil
}

// LockEventTx takes the event row lock.  It returns ErrEventNotFound when
// the event does not exist.
func (r *SessionRepo) LockEventTx(ctx context.Context, tx *sql.Tx, eventID int64) error {
    var id int64
    err := tx.QueryRowContext(ctx, `SELECT id FROM events WHERE id = ?`+r.dialect.ForUpdate(), eventID).Scan(&id)
    if errors.Is(err, sql.ErrNoRows) {
        return ErrEventNotFound
    }
    return err
}

// ConfigTx returns the event's queue configuration, or the defaults when
// the event has none.
func (r *SessionRepo) ConfigTx(ctx context.Context, tx *sql.Tx, eventID int64) (model.QueueConfiguration, error) {
    return r.config(ctx, tx, eventID)
}

// Config is ConfigTx outside a transaction.
func (r *SessionRepo) Config(ctx context.Context, eventID int64) (model.QueueConfiguration, error) {
    return r.config(ctx, r.db, eventID)
}

func (r *SessionRepo) config(ctx context.Context, q querier, eventID int64) (model.QueueConfiguration, error) {
    cfg := model.QueueConfiguration{EventID: eventID}
    err := q.QueryRowContext(ctx, `SELECT max_concurrent_users, checkout_timeout_minutes,
            session_timeout_minutes, enable_queue
        FROM queue_configurations WHERE event_id = ?`, eventID).
        Scan(&cfg.MaxConcurrentUsers, &cfg.CheckoutTimeoutMinutes, &cfg.SessionTimeoutMinutes, &cfg.EnableQueue)
    if errors.Is(err, sql.ErrNoRows) {
        return model.DefaultQueueConfiguration(eventID), nil
    }
    if err != nil {
        return model.QueueConfiguration{}, err
    }
    return cfg, nil
}

// UpsertConfig writes the configuration for cfg.EventID.
func (r *SessionRepo) UpsertConfig(ctx context.Context, cfg model.QueueConfiguration) error {
    var stmt string
    if r.dialect == database.MySQL {
        stmt = `INSERT INTO queue_configurations
            (event_id, max_concurrent_users, checkout_timeout_minutes, session_timeout_minutes, enable_queue)
            VALUES (?, ?, ?, ?, ?)
            ON DUPLICATE KEY UPDATE
                max_concurrent_users = VALUES(max_concurrent_users),
                checkout_timeout_minutes = VALUES(checkout_timeout_minutes),
                session_timeout_minutes = VALUES(session_timeout_minutes),
                enable_queue = VALUES(enable_queue)`
    } else {
        stmt = `INSERT INTO queue_configurations
            (event_id, max_concurrent_users, checkout_timeout_minutes, session_timeout_minutes, enable_queue)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT(event_id) DO UPDATE SET
                max_concurrent_users = excluded.max_concurrent_users,
                checkout_timeout_minutes = excluded.checkout_timeout_minutes,
                session_timeout_minutes = excluded.session_timeout_minutes,
                enable_queue = excluded.enable_queue`
    }
    _, err := r.db.ExecContext(ctx, stmt, cfg.EventID, cfg.MaxConcurrentUsers,
        cfg.CheckoutTimeoutMinutes, cfg.SessionTimeoutMinutes, boolInt(cfg.EnableQueue))
    return err
}

// FindOpenTx returns the user's active or waiting session for the event, or
// nil when there is none.
func (r *SessionRepo) FindOpenTx(ctx context.Context, tx *sql.Tx, eventID int64, userSessionID string) (*model.TicketingSession, error) {
    row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM ticketing_sessions
        WHERE event_id = ? AND user_session_id = ? AND status IN ('active', 'waiting')
        ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END LIMIT 1`, eventID, userSessionID)
    s, err := scanSession(row)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, nil
    }
    return s, err
}

// IsActive reports whether the user holds an active session for the event.
func (r *SessionRepo) IsActive(ctx context.Context, eventID int64, userSessionID string) (bool, error) {
    var n int
    err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticketing_sessions
        WHERE event_id = ? AND user_session_id = ? AND status = 'active'`, eventID, userSessionID).Scan(&n)
    return n > 0, err
}

// TouchTx refreshes last_seen_at.
func (r *SessionRepo) TouchTx(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
    _, err := tx.ExecContext(ctx, `UPDATE ticketing_sessions SET last_seen_at = ? WHERE id = ?`, toMillis(now), id)
    return err
}

// WaitingPositionTx returns the 1-based place of s in its event's waiting
// line, ordered by (created_at, id).
func (r *SessionRepo) WaitingPositionTx(ctx context.Context, tx *sql.Tx, s *model.TicketingSession) (int, error) {
    var ahead int
    created := toMillis(s.CreatedAt)
    err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticketing_sessions
        WHERE event_id = ? AND status = 'waiting'
          AND (created_at < ? OR (created_at = ? AND id < ?))`,
        s.EventID, created, created, s.ID).Scan(&ahead)
    if err != nil {
        return 0, err
    }
    return ahead + 1, nil
}

// CountActiveTx counts active sessions for the event.
func (r *SessionRepo) CountActiveTx(ctx context.Context, tx *sql.Tx, eventID int64) (int, error) {
    var n int
    err := tx.QueryRowContext(ctx,
        `SELECT COUNT(*) FROM ticketing_sessions WHERE event_id = ? AND status = 'active'`, eventID).Scan(&n)
    return n, err
}

// InsertTx creates a session row and sets s.ID.  A duplicate
// (event_id, user_session_id, status) yields ErrConflict.
func (r *SessionRepo) InsertTx(ctx context.Context, tx *sql.Tx, s *model.TicketingSession) error {
    res, err := tx.ExecContext(ctx, `INSERT INTO ticketing_sessions
        (event_id, user_session_id, status, entered_at, created_at, last_seen_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
        s.EventID, s.UserSessionID, s.Status, millisOrNil(s.EnteredAt), toMillis(s.CreatedAt), toMillis(s.LastSeenAt))
    if err != nil {
        if isUniqueViolation(err) {
            return fmt.Errorf("session %s/%d: %w", s.UserSessionID, s.EventID, ErrConflict)
        }
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    s.ID = id
    return nil
}

// PromoteTx moves up to slots waiting sessions, oldest first, to active and
// returns them.  The caller must hold the event lock.
func (r *SessionRepo) PromoteTx(ctx context.Context, tx *sql.Tx, eventID int64, slots int, now time.Time) ([]model.TicketingSession, error) {
    if slots <= 0 {
        return nil, nil
    }
    rows, err := tx.QueryContext(ctx, `SELECT `+sessionColumns+` FROM ticketing_sessions
        WHERE event_id = ? AND status = 'waiting'
        ORDER BY created_at, id LIMIT ?`, eventID, slots)
    if err != nil {
        return nil, err
    }
    var waiting []model.TicketingSession
    for rows.Next() {
        s, scanErr := scanSession(rows)
        if scanErr != nil {
            rows.Close()
            return nil, scanErr
        }
        waiting = append(waiting, *s)
    }
    if err = rows.Close(); err != nil {
        return nil, err
    }

    promoted := make([]model.TicketingSession, 0, len(waiting))
    for _, s := range waiting {
        if _, err := tx.ExecContext(ctx, `UPDATE ticketing_sessions
            SET status = 'active', entered_at = ?, last_seen_at = ? WHERE id = ?`,
            toMillis(now), toMillis(now), s.ID); err != nil {
            return nil, err
        }
        entered := now.UTC()
        s.Status = model.SessionActive
        s.EnteredAt = &entered
        s.LastSeenAt = entered
        promoted = append(promoted, s)
    }
    return promoted, nil
}

// CompleteTx marks the user's active session completed.  It returns false
// when there was no active session.
func (r *SessionRepo) CompleteTx(ctx context.Context, tx *sql.Tx, eventID int64, userSessionID string, now time.Time) (bool, error) {
    // an earlier completed row would collide on the unique key
    if _, err := tx.ExecContext(ctx, `DELETE FROM ticketing_sessions
        WHERE event_id = ? AND user_session_id = ? AND status = 'completed'`, eventID, userSessionID); err != nil {
        return false, err
    }
    res, err := tx.ExecContext(ctx, `UPDATE ticketing_sessions SET status = 'completed', last_seen_at = ?
        WHERE event_id = ? AND user_session_id = ? AND status = 'active'`, toMillis(now), eventID, userSessionID)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n > 0, nil
}

// DeleteStale removes sessions past their timeouts:
//   - active rows whose entered_at is older than the checkout timeout,
//   - waiting rows not seen within the session timeout,
//   - completed rows older than the session timeout.
// Events without a configuration row use the default timeouts.
func (r *SessionRepo) DeleteStale(ctx context.Context, now time.Time) (int64, error) {
    checkout := fmt.Sprintf(`COALESCE((SELECT q.checkout_timeout_minutes FROM queue_configurations q
        WHERE q.event_id = ticketing_sessions.event_id), %d)`, model.DefaultCheckoutTimeoutMinutes)
    session := fmt.Sprintf(`COALESCE((SELECT q.session_timeout_minutes FROM queue_configurations q
        WHERE q.event_id = ticketing_sessions.event_id), %d)`, model.DefaultSessionTimeoutMinutes)

    stmts := []string{
        `DELETE FROM ticketing_sessions WHERE status = 'active'
            AND COALESCE(entered_at, created_at) + ` + checkout + ` * 60000 <= ?`,
        `DELETE FROM ticketing_sessions WHERE status = 'waiting'
            AND last_seen_at + ` + session + ` * 60000 <= ?`,
        `DELETE FROM ticketing_sessions WHERE status = 'completed'
            AND last_seen_at + ` + session + ` * 60000 <= ?`,
    }
    var total int64
    for _, stmt := range stmts {
        res, err := r.db.ExecContext(ctx, stmt, toMillis(now))
        if err != nil {
            return total, err
        }
        n, err := res.RowsAffected()
        if err != nil {
            return total, err
        }
        total += n
    }
    return total, nil
}

// EventsWithWaiting lists events that have at least one waiting session.
func (r *SessionRepo) EventsWithWaiting(ctx context.Context) ([]int64, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT DISTINCT event_id FROM ticketing_sessions WHERE status = 'waiting' ORDER BY event_id`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var ids []int64
    for rows.Next() {
        var id int64
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        ids = append(ids, id)
    }
    return ids, rows.Err()
}
