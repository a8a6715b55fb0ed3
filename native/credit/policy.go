package credit

import "math"

// Quota amounts are USD values scaled by 10^6, matching order value units.
const (
	// FirstPurchaseQuota caps an unproven account regardless of score.
	FirstPurchaseQuota uint64 = 10_000_000 // 10 USD

	// GlobalMaxQuota is the ceiling no history boost may exceed.
	GlobalMaxQuota uint64 = 10_000_000_000 // 10000 USD

	// HistoryBoostStep is added for every block of completed orders.
	HistoryBoostStep   uint64 = 50_000_000 // 50 USD
	historyBoostOrders uint32 = 10

	// PermanentPenaltyDays marks an unbounded penalty duration.
	PermanentPenaltyDays uint32 = math.MaxUint32

	recoveryWindowDays        = 30
	recoveryWindowScore       = 10
	recoveryGoodOrders        = 10
	recoveryGoodOrdersScore   = 5
	timeoutSuspendThreshold   = 3
	maliciousBlacklistCount   = 3
	secondsPerDay       int64 = 86_400
)

// MaxQuotaFor computes the quota ceiling as a deterministic function of the
// credit score and completed-order count. First-time buyers are capped at the
// fixed first-purchase ceiling; returning buyers get a score-band base plus a
// history boost, saturating at the global ceiling.
func MaxQuotaFor(creditScore uint16, totalOrders uint32) uint64 {
	if totalOrders == 0 {
		return FirstPurchaseQuota
	}
	var base uint64
	switch {
	case creditScore >= 900:
		base = 5_000_000_000 // 5000 USD
	case creditScore >= 800:
		base = 2_000_000_000 // 2000 USD
	case creditScore >= 700:
		base = 1_000_000_000 // 1000 USD
	case creditScore >= 600:
		base = 500_000_000 // 500 USD
	case creditScore >= 500:
		base = 200_000_000 // 200 USD
	default:
		base = 100_000_000 // 100 USD
	}
	boost := satMulU64(uint64(totalOrders/historyBoostOrders), HistoryBoostStep)
	return minU64(satAddU64(base, boost), GlobalMaxQuota)
}

// MaxConcurrentFor computes the concurrency allowance from the completed
// order count. Allowance grows in discrete steps at 3, 10 and 50 orders.
func MaxConcurrentFor(totalOrders uint32) uint32 {
	switch {
	case totalOrders <= 2:
		return 1
	case totalOrders <= 9:
		return 2
	case totalOrders <= 49:
		return 3
	default:
		return 5
	}
}

// PenaltyFor computes the penalty schedule for a violation. totalViolations
// is the count prior to this violation being recorded.
func PenaltyFor(v Violation, totalViolations uint32) Penalty {
	switch v.Kind {
	case ViolationPaymentTimeout:
		return Penalty{
			ScorePenalty:      20,
			QuotaReductionBps: 5_000,
			DurationDays:      7,
			Suspend:           totalViolations+1 >= timeoutSuspendThreshold,
		}
	case ViolationDisputeLoss:
		return Penalty{
			ScorePenalty:      50,
			QuotaReductionBps: 10_000,
			DurationDays:      30,
			Suspend:           true,
		}
	case ViolationMaliciousBehavior:
		if v.Occurrences >= maliciousBlacklistCount {
			return Penalty{
				ScorePenalty:      100,
				QuotaReductionBps: 10_000,
				DurationDays:      PermanentPenaltyDays,
				Suspend:           true,
				Blacklist:         true,
			}
		}
		return Penalty{
			ScorePenalty:      30,
			QuotaReductionBps: 7_000,
			DurationDays:      14,
			Suspend:           true,
		}
	default:
		return Penalty{}
	}
}

// RecoveryFor reports whether the profile qualifies for a credit-score
// recovery at the supplied timestamp and the increment to apply. Blacklisted
// profiles never recover automatically.
func RecoveryFor(p *BuyerQuotaProfile, now int64) (bool, uint16) {
	if p == nil || p.IsBlacklisted {
		return false, 0
	}
	if p.LastViolationAt > 0 && now >= p.LastViolationAt+recoveryWindowDays*secondsPerDay {
		return true, recoveryWindowScore
	}
	if p.ConsecutiveGoodOrders >= recoveryGoodOrders {
		return true, recoveryGoodOrdersScore
	}
	return false, 0
}

// Saturating arithmetic is deliberate policy: quota math clamps at type
// bounds and documented ceilings instead of wrapping.

func satAddU64(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func satSubU64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func satMulU64(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func satSubScore(score, penalty uint16) uint16 {
	if penalty > score {
		return MinScore
	}
	return score - penalty
}

func satAddScore(score, bonus uint16) uint16 {
	if score > MaxScore-bonus {
		return MaxScore
	}
	return score + bonus
}
