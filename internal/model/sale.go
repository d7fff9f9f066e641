package model

import "time"

// TicketSale records a converted hold.  It is written in the same
// transaction that moves the hold's quantity from reserved to sold.
type TicketSale struct {
    ID             int64     `json:"id"`
    HoldID         string    `json:"hold_id"`
    TicketTierID   int64     `json:"ticket_tier_id"`
    EventID        int64     `json:"event_id"`
    Quantity       int       `json:"quantity"`
    UserID         *int64    `json:"user_id,omitempty"`
    UnitPriceCents int64     `json:"unit_price_cents"`
    UnitFeeCents   int64     `json:"unit_fee_cents"`
    DiscountCents  int64     `json:"discount_cents"`
    TotalCents     int64     `json:"total_cents"`
    PromoCode      *string   `json:"promo_code,omitempty"`
    PaymentRef     *string   `json:"payment_ref,omitempty"`
    CreatedAt      time.Time `json:"created_at"`
}
