package credit

import "fmt"

// Score bounds enforced on every profile mutation.
const (
	MinScore     uint16 = 0
	MaxScore     uint16 = 1000
	InitialScore uint16 = 500
)

// BuyerQuotaProfile is the per-taker risk profile. It replaces a taker-side
// deposit entirely: admission is bounded by the quota fields, behaviour feeds
// back through the violation counters. Profiles are created lazily with
// first-time-buyer values and never deleted.
type BuyerQuotaProfile struct {
	CreditScore           uint16 `json:"creditScore"`
	TotalOrders           uint32 `json:"totalOrders"`
	AvailableQuota        uint64 `json:"availableQuota"`
	MaxQuota              uint64 `json:"maxQuota"`
	OccupiedQuota         uint64 `json:"occupiedQuota"`
	ActiveOrders          uint32 `json:"activeOrders"`
	MaxConcurrentOrders   uint32 `json:"maxConcurrentOrders"`
	LastViolationAt       int64  `json:"lastViolationAt"`
	ConsecutiveGoodOrders uint32 `json:"consecutiveGoodOrders"`
	TotalViolations       uint32 `json:"totalViolations"`
	Warnings              uint32 `json:"warnings"`
	IsSuspended           bool   `json:"isSuspended"`
	SuspensionUntil       int64  `json:"suspensionUntil"`
	// PenaltyUntil bounds a quota cut that did not suspend the account; the
	// withheld headroom is restored once it elapses. Zero means no cut is
	// pending.
	PenaltyUntil  int64 `json:"penaltyUntil"`
	IsBlacklisted bool  `json:"isBlacklisted"`
}

// NewProfile returns the default first-time-buyer profile.
func NewProfile() *BuyerQuotaProfile {
	return &BuyerQuotaProfile{
		CreditScore:         InitialScore,
		AvailableQuota:      FirstPurchaseQuota,
		MaxQuota:            FirstPurchaseQuota,
		MaxConcurrentOrders: 1,
	}
}

// Clone returns a copy of the profile.
func (p *BuyerQuotaProfile) Clone() *BuyerQuotaProfile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// SuspendedAt reports whether the profile is under an active suspension at
// the supplied timestamp. A zero SuspensionUntil on a suspended profile means
// the suspension is unbounded.
func (p *BuyerQuotaProfile) SuspendedAt(now int64) bool {
	if p == nil || !p.IsSuspended {
		return false
	}
	return p.SuspensionUntil == 0 || now < p.SuspensionUntil
}

// ViolationKind discriminates the adverse events folded into a profile.
type ViolationKind uint8

const (
	// ViolationPaymentTimeout marks an order that expired unpaid.
	ViolationPaymentTimeout ViolationKind = iota
	// ViolationDisputeLoss marks a dispute resolved against the taker.
	ViolationDisputeLoss
	// ViolationMaliciousBehavior marks a repeated-abuse pattern flagged by an
	// operator or an upstream risk system.
	ViolationMaliciousBehavior
)

// Valid reports whether the kind value is supported.
func (k ViolationKind) Valid() bool {
	switch k {
	case ViolationPaymentTimeout, ViolationDisputeLoss, ViolationMaliciousBehavior:
		return true
	default:
		return false
	}
}

func (k ViolationKind) String() string {
	switch k {
	case ViolationPaymentTimeout:
		return "payment_timeout"
	case ViolationDisputeLoss:
		return "dispute_loss"
	case ViolationMaliciousBehavior:
		return "malicious_behavior"
	default:
		return fmt.Sprintf("violation(%d)", uint8(k))
	}
}

// Violation is the transient record describing one adverse event. It is not
// persisted as a list; the engine folds it into the profile counters
// immediately.
type Violation struct {
	Kind ViolationKind
	// OrderID references the order that triggered the violation, when one
	// exists.
	OrderID uint64
	// AmountUSD carries the disputed or timed-out value for audit events.
	AmountUSD uint64
	// Occurrences carries the repeat count for malicious-behavior
	// escalation.
	Occurrences uint32
}

// Penalty is the schedule computed for a violation before it is applied.
type Penalty struct {
	ScorePenalty      uint16
	QuotaReductionBps uint16
	DurationDays      uint32
	Suspend           bool
	Blacklist         bool
}
