package escrow

import (
	"fmt"
	"math/big"
)

// Record tracks the funds held in custody for a single order. A record is
// created on the first lock and removed once its locked balance returns to
// zero; the locked balance never goes negative.
type Record struct {
	OrderID uint64
	Locked  *big.Int
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Locked != nil {
		clone.Locked = new(big.Int).Set(r.Locked)
	} else {
		clone.Locked = big.NewInt(0)
	}
	return &clone
}

// SanitizeRecord validates the supplied record and returns a cloned instance
// with a non-nil locked balance. The function does not mutate the original.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := r.Clone()
	if clone.Locked.Sign() < 0 {
		return nil, fmt.Errorf("escrow: locked balance must be non-negative")
	}
	return clone, nil
}
