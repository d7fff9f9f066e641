package model

import "time"

// Fee sources, from most to least specific.
const (
    FeeSourceTier    = "tier"
    FeeSourceGroup   = "group"
    FeeSourceEvent   = "event"
    FeeSourceDefault = "default"
)

// FeeSchedule is the resolved per-ticket fee for a tier, group or event.
type FeeSchedule struct {
    FlatCents int64  `json:"fee_flat_cents"`
    PctBps    int64  `json:"fee_pct_bps"`
    Source    string `json:"source"`
}

// Discount types.
const (
    DiscountPercentage = "percentage"
    DiscountFixed      = "fixed"
)

// PromoCode is a discount redeemable on its linked events, or on every
// event when it has no links.  DiscountValue is a whole percentage for
// percentage codes and cents for fixed codes.
type PromoCode struct {
    ID            int64      `json:"id"`
    Code          string     `json:"code"`
    DiscountType  string     `json:"discount_type"`
    DiscountValue int64      `json:"discount_value"`
    IsActive      bool       `json:"is_active"`
    ExpiresAt     *time.Time `json:"expires_at,omitempty"`
    CreatedAt     time.Time  `json:"created_at"`
}

// Quote is the price breakdown for buying Quantity tickets from a tier.
type Quote struct {
    TierID         int64  `json:"tier_id"`
    EventID        int64  `json:"event_id"`
    Quantity       int    `json:"quantity"`
    UnitPriceCents int64  `json:"unit_price_cents"`
    UnitFeeCents   int64  `json:"unit_fee_cents"`
    SubtotalCents  int64  `json:"subtotal_cents"`
    FeesCents      int64  `json:"fees_cents"`
    DiscountCents  int64  `json:"discount_cents"`
    TotalCents     int64  `json:"total_cents"`
    PromoCode      string `json:"promo_code,omitempty"`
}
