package model

import "time"

// Hold is a time-boxed reservation of Quantity tickets from one tier.  A
// hold ends exactly once, by release or by conversion to a sale, and its
// row is deleted at that moment.  A hold whose ExpiresAt has passed but
// which the reaper has not yet collected is stale, not gone.
type Hold struct {
    ID           string    `json:"id"` // uuid
    TicketTierID int64     `json:"ticket_tier_id"`
    Quantity     int       `json:"quantity"`
    UserID       *int64    `json:"user_id,omitempty"`
    Fingerprint  string    `json:"fingerprint"`
    ExpiresAt    time.Time `json:"expires_at"`
    CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the hold is stale at now.
func (h Hold) Expired(now time.Time) bool { return !now.Before(h.ExpiresAt) }
