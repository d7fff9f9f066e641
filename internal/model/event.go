package model

import "time"

// Event is the top of the fee chain and the row admission locks on.
type Event struct {
    ID             int64     `json:"id"`
    Name           string    `json:"name"`
    UseDefaultFees bool      `json:"use_default_fees"`
    FeeFlatCents   *int64    `json:"fee_flat_cents,omitempty"`
    FeePctBps      *int64    `json:"fee_pct_bps,omitempty"`
    CreatedAt      time.Time `json:"created_at"`
}
