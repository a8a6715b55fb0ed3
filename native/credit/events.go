package credit

import (
	"encoding/hex"
	"strconv"

	"otcledger/core/types"
)

const (
	EventTypeQuotaOccupied  = "credit.quota_occupied"
	EventTypeQuotaReleased  = "credit.quota_released"
	EventTypeOrderCompleted = "credit.order_completed"
	EventTypeOrderCancelled = "credit.order_cancelled"
	EventTypeViolation      = "credit.violation"
	EventTypeRecovery       = "credit.recovery"
)

// NewQuotaOccupiedEvent returns the payload emitted after quota is reserved
// for a new order.
func NewQuotaOccupiedEvent(addr [20]byte, amount uint64, p *BuyerQuotaProfile) *types.Event {
	return newQuotaEvent(EventTypeQuotaOccupied, addr, amount, p)
}

// NewQuotaReleasedEvent returns the payload emitted after occupied quota is
// freed.
func NewQuotaReleasedEvent(addr [20]byte, amount uint64, p *BuyerQuotaProfile) *types.Event {
	return newQuotaEvent(EventTypeQuotaReleased, addr, amount, p)
}

func newQuotaEvent(eventType string, addr [20]byte, amount uint64, p *BuyerQuotaProfile) *types.Event {
	attrs := map[string]string{
		"account": hex.EncodeToString(addr[:]),
		"amount":  strconv.FormatUint(amount, 10),
	}
	addProfileAttrs(attrs, p)
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewOrderRecordedEvent returns the payload emitted when a completed or
// cancelled order is folded into the profile.
func NewOrderRecordedEvent(eventType string, addr [20]byte, orderID uint64, p *BuyerQuotaProfile) *types.Event {
	attrs := map[string]string{
		"account": hex.EncodeToString(addr[:]),
		"orderId": strconv.FormatUint(orderID, 10),
	}
	addProfileAttrs(attrs, p)
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewViolationEvent returns the audit payload for an applied penalty.
func NewViolationEvent(addr [20]byte, v Violation, penalty Penalty, p *BuyerQuotaProfile) *types.Event {
	attrs := map[string]string{
		"account":           hex.EncodeToString(addr[:]),
		"kind":              v.Kind.String(),
		"orderId":           strconv.FormatUint(v.OrderID, 10),
		"scorePenalty":      strconv.FormatUint(uint64(penalty.ScorePenalty), 10),
		"quotaReductionBps": strconv.FormatUint(uint64(penalty.QuotaReductionBps), 10),
		"suspended":         strconv.FormatBool(penalty.Suspend),
		"blacklisted":       strconv.FormatBool(penalty.Blacklist),
	}
	addProfileAttrs(attrs, p)
	return &types.Event{Type: EventTypeViolation, Attributes: attrs}
}

// NewRecoveryEvent returns the payload emitted after a credit-score recovery.
func NewRecoveryEvent(addr [20]byte, bonus uint16, p *BuyerQuotaProfile) *types.Event {
	attrs := map[string]string{
		"account": hex.EncodeToString(addr[:]),
		"bonus":   strconv.FormatUint(uint64(bonus), 10),
	}
	addProfileAttrs(attrs, p)
	return &types.Event{Type: EventTypeRecovery, Attributes: attrs}
}

func addProfileAttrs(attrs map[string]string, p *BuyerQuotaProfile) {
	if p == nil {
		return
	}
	attrs["creditScore"] = strconv.FormatUint(uint64(p.CreditScore), 10)
	attrs["availableQuota"] = strconv.FormatUint(p.AvailableQuota, 10)
	attrs["occupiedQuota"] = strconv.FormatUint(p.OccupiedQuota, 10)
	attrs["activeOrders"] = strconv.FormatUint(uint64(p.ActiveOrders), 10)
}
