// Package queue defines message payloads exchanged over the message broker
// and the consumer that records completed sales.
package queue

// Queue names.  Each event type is routed through the default exchange to a
// durable queue of the same name.
const (
    TicketSoldQueue      = "ticket.sold"
    HoldReleasedQueue    = "hold.released"
    SessionAdmittedQueue = "session.admitted"
)

// TicketSoldEvent is published after a hold has been converted and the sale
// committed.  It carries enough for downstream consumers to log, notify or
// feed analytics without querying the primary database.
type TicketSoldEvent struct {
    SaleID         int64  `json:"sale_id"`
    HoldID         string `json:"hold_id"`
    TierID         int64  `json:"tier_id"`
    EventID        int64  `json:"event_id"`
    Quantity       int    `json:"quantity"`
    UserID         *int64 `json:"user_id,omitempty"`
    UnitPriceCents int64  `json:"unit_price_cents"`
    UnitFeeCents   int64  `json:"unit_fee_cents"`
    DiscountCents  int64  `json:"discount_cents"`
    TotalCents     int64  `json:"total_cents"`
    PromoCode      string `json:"promo_code,omitempty"`
    PaymentRef     string `json:"payment_ref,omitempty"`
    SoldAt         string `json:"sold_at"`
}

// Release reasons carried by HoldReleasedEvent.
const (
    ReasonCancelled = "cancelled"
    ReasonExpired   = "expired"
)

// HoldReleasedEvent is published when a hold's tickets return to the pool.
type HoldReleasedEvent struct {
    HoldID     string `json:"hold_id"`
    TierID     int64  `json:"tier_id"`
    Quantity   int    `json:"quantity"`
    Reason     string `json:"reason"`
    ReleasedAt string `json:"released_at"`
}

// SessionAdmittedEvent is published when a buyer enters checkout, either
// directly or by promotion from the waiting line.
type SessionAdmittedEvent struct {
    EventID       int64  `json:"event_id"`
    UserSessionID string `json:"user_session_id"`
    Promoted      bool   `json:"promoted"`
    EnteredAt     string `json:"entered_at"`
}
