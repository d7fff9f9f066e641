package model

import "time"

// Session statuses.
const (
    SessionActive    = "active"
    SessionWaiting   = "waiting"
    SessionCompleted = "completed"
)

// TicketingSession tracks one buyer's place in an event's admission queue.
// EnteredAt is set when the session becomes active; LastSeenAt is refreshed
// on every request and drives waiting-line expiry.
type TicketingSession struct {
    ID            int64      `json:"id"`
    EventID       int64      `json:"event_id"`
    UserSessionID string     `json:"user_session_id"`
    Status        string     `json:"status"`
    EnteredAt     *time.Time `json:"entered_at,omitempty"`
    CreatedAt     time.Time  `json:"created_at"`
    LastSeenAt    time.Time  `json:"last_seen_at"`
}

// Default queue settings applied when an event has no configuration row.
const (
    DefaultMaxConcurrentUsers     = 50
    DefaultCheckoutTimeoutMinutes = 9
    DefaultSessionTimeoutMinutes  = 30
)

// QueueConfiguration bounds concurrent checkout for one event.
type QueueConfiguration struct {
    EventID                int64 `json:"event_id"`
    MaxConcurrentUsers     int   `json:"max_concurrent_users"`
    CheckoutTimeoutMinutes int   `json:"checkout_timeout_minutes"`
    SessionTimeoutMinutes  int   `json:"session_timeout_minutes"`
    EnableQueue            bool  `json:"enable_queue"`
}

// DefaultQueueConfiguration returns the settings used for an event that
// has never been configured.
func DefaultQueueConfiguration(eventID int64) QueueConfiguration {
    return QueueConfiguration{
        EventID:                eventID,
        MaxConcurrentUsers:     DefaultMaxConcurrentUsers,
        CheckoutTimeoutMinutes: DefaultCheckoutTimeoutMinutes,
        SessionTimeoutMinutes:  DefaultSessionTimeoutMinutes,
        EnableQueue:            true,
    }
}

// Valid reports whether every bound is positive.
func (q QueueConfiguration) Valid() bool {
    return q.MaxConcurrentUsers > 0 && q.CheckoutTimeoutMinutes > 0 && q.SessionTimeoutMinutes > 0
}
