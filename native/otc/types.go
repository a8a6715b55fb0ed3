package otc

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// OrderState enumerates the lifecycle states of an order.
type OrderState uint8

const (
	// StateCreated marks a freshly opened order awaiting off-ledger payment.
	StateCreated OrderState = iota + 1
	// StatePaidOrCommitted marks an order whose taker has committed a payment
	// proof.
	StatePaidOrCommitted
	// StateReleased marks a settled order whose escrow went to the taker.
	StateReleased
	// StateRefunded marks an order whose escrow returned to the maker after a
	// lost dispute.
	StateRefunded
	// StateCanceled marks an order canceled before payment.
	StateCanceled
	// StateDisputed marks an order frozen pending arbitration.
	StateDisputed
	// StateClosed marks an order settled by a partial arbitration split.
	StateClosed
	// StateExpired marks an unpaid order reclaimed by the expiry sweep.
	StateExpired
)

// Valid reports whether the state value is one of the defined states.
func (s OrderState) Valid() bool {
	return s >= StateCreated && s <= StateExpired
}

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	switch s {
	case StateReleased, StateRefunded, StateCanceled, StateClosed, StateExpired:
		return true
	default:
		return false
	}
}

func (s OrderState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePaidOrCommitted:
		return "paid"
	case StateReleased:
		return "released"
	case StateRefunded:
		return "refunded"
	case StateCanceled:
		return "canceled"
	case StateDisputed:
		return "disputed"
	case StateClosed:
		return "closed"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Order is the aggregate root tying one escrow record to one taker profile.
type Order struct {
	ID      uint64   `json:"id"`
	MakerID string   `json:"makerId"`
	Maker   [20]byte `json:"maker"`
	Taker   [20]byte `json:"taker"`
	// Qty is the token amount held in escrow for the order.
	Qty *big.Int `json:"qty"`
	// AmountUSD is the order value in 10^6 scaled USD, the unit quota is
	// occupied in. Fixed at open time from the pricing provider.
	AmountUSD       uint64     `json:"amountUsd"`
	PaymentCommit   [32]byte   `json:"paymentCommit"`
	ContactCommit   [32]byte   `json:"contactCommit"`
	CreatedAt       int64      `json:"createdAt"`
	ExpireAt        int64      `json:"expireAt"`
	EvidenceUntil   int64      `json:"evidenceUntil"`
	CompletedAt     int64      `json:"completedAt"`
	IsFirstPurchase bool       `json:"isFirstPurchase"`
	State           OrderState `json:"state"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Qty != nil {
		clone.Qty = new(big.Int).Set(o.Qty)
	}
	return &clone
}

// Sanitize normalizes nil amounts so callers can rely on non-nil fields.
func (o *Order) Sanitize() {
	if o == nil {
		return
	}
	if o.Qty == nil {
		o.Qty = big.NewInt(0)
	}
	if !o.State.Valid() {
		o.State = StateCreated
	}
}

// ResolutionKind enumerates arbitration outcomes applied through Resolve.
type ResolutionKind uint8

const (
	// ResolutionReleaseToTaker settles the full escrow to the taker.
	ResolutionReleaseToTaker ResolutionKind = iota + 1
	// ResolutionRefundToMaker returns the full escrow to the maker and
	// records a lost-dispute violation against the taker.
	ResolutionRefundToMaker
	// ResolutionSplit settles a basis-point share to the taker and returns
	// the remainder to the maker. Credit-neutral for the taker.
	ResolutionSplit
)

// Resolution is an arbitration outcome. TakerBps is only meaningful for
// ResolutionSplit and must not exceed 10000.
type Resolution struct {
	Kind     ResolutionKind `json:"kind"`
	TakerBps uint16         `json:"takerBps"`
}

func (r Resolution) valid() bool {
	switch r.Kind {
	case ResolutionReleaseToTaker, ResolutionRefundToMaker:
		return true
	case ResolutionSplit:
		return r.TakerBps <= 10_000
	default:
		return false
	}
}

// CommitmentFor computes the commitment hash recorded at open time and
// verified at reveal time: keccak256(payload || salt).
func CommitmentFor(payload, salt []byte) [32]byte {
	var commit [32]byte
	copy(commit[:], crypto.Keccak256(payload, salt))
	return commit
}
