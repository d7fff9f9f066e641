package model

import "github.com/iliyamo/ticketing-core/internal/ledger"

// TicketTier is a priced bucket of identical tickets for an event.  Its
// stock is partitioned into available, reserved and sold inventory whose
// sum always equals TotalTickets.
//
// Fields:
//  GroupID                  : optional tier group, the next link in the fee chain.
//  TierOrder                : sort key; lower tiers go on sale first.
//  HideUntilPreviousSoldOut : tier is not sellable while an earlier active
//                             tier still has available inventory.
//  FeeFlatCents/FeePctBps   : tier-level fee override, used when
//                             InheritGroupFees is false.
type TicketTier struct {
    ID                       int64  `json:"id"`
    EventID                  int64  `json:"event_id"`
    GroupID                  *int64 `json:"group_id,omitempty"`
    Name                     string `json:"name"`
    PriceCents               int64  `json:"price_cents"`
    TotalTickets             int    `json:"total_tickets"`
    AvailableInventory       int    `json:"available_inventory"`
    ReservedInventory        int    `json:"reserved_inventory"`
    SoldInventory            int    `json:"sold_inventory"`
    TierOrder                int    `json:"tier_order"`
    IsActive                 bool   `json:"is_active"`
    HideUntilPreviousSoldOut bool   `json:"hide_until_previous_sold_out"`
    FeeFlatCents             *int64 `json:"fee_flat_cents,omitempty"`
    FeePctBps                *int64 `json:"fee_pct_bps,omitempty"`
    InheritGroupFees         bool   `json:"inherit_group_fees"`
}

// Counts returns the tier's ledger snapshot.
func (t TicketTier) Counts() ledger.Counts {
    return ledger.Counts{
        Total:     t.TotalTickets,
        Available: t.AvailableInventory,
        Reserved:  t.ReservedInventory,
        Sold:      t.SoldInventory,
    }
}

// TicketTierGroup bundles tiers that share a fee policy.
type TicketTierGroup struct {
    ID               int64  `json:"id"`
    EventID          int64  `json:"event_id"`
    Name             string `json:"name"`
    InheritEventFees bool   `json:"inherit_event_fees"`
    FeeFlatCents     *int64 `json:"fee_flat_cents,omitempty"`
    FeePctBps        *int64 `json:"fee_pct_bps,omitempty"`
}
