// Package ledger holds the three-way partition of a ticket tier's stock.
// Every tier row satisfies available + reserved + sold == total with each
// bucket non-negative; repositories check this after each mutation and
// abort the transaction when it does not hold.
package ledger

import (
	"errors"
	"fmt"
)

// ErrInventoryCorruption is returned when a tier row fails the conservation
// check.  It should never surface in normal operation; callers log it as an
// alert and roll back.
var ErrInventoryCorruption = errors.New("inventory corruption")

// Counts is a snapshot of one tier's buckets.
type Counts struct {
	Total     int
	Available int
	Reserved  int
	Sold      int
}

// Delta is a signed change applied to the mutable buckets.  Total never
// changes through a Delta.
type Delta struct {
	Available int
	Reserved  int
	Sold      int
}

// Reserve moves q tickets from available to reserved.
func Reserve(q int) Delta { return Delta{Available: -q, Reserved: q} }

// Release moves q tickets from reserved back to available.
func Release(q int) Delta { return Delta{Available: q, Reserved: -q} }

// Sell moves q tickets from reserved to sold.
func Sell(q int) Delta { return Delta{Reserved: -q, Sold: q} }

// Apply returns the counts after d.  The result is not verified.
func (c Counts) Apply(d Delta) Counts {
	return Counts{
		Total:     c.Total,
		Available: c.Available + d.Available,
		Reserved:  c.Reserved + d.Reserved,
		Sold:      c.Sold + d.Sold,
	}
}

// Verify reports ErrInventoryCorruption, wrapped with the offending values,
// when c breaks the conservation invariant.
func (c Counts) Verify() error {
	if c.Available < 0 || c.Reserved < 0 || c.Sold < 0 {
		return fmt.Errorf("%w: negative bucket (available=%d reserved=%d sold=%d)",
			ErrInventoryCorruption, c.Available, c.Reserved, c.Sold)
	}
	if c.Available+c.Reserved+c.Sold != c.Total {
		return fmt.Errorf("%w: %d+%d+%d != %d",
			ErrInventoryCorruption, c.Available, c.Reserved, c.Sold, c.Total)
	}
	return nil
}

// New returns the counts of a freshly created tier.
func New(total int) Counts {
	return Counts{Total: total, Available: total}
}
