package otc

import (
	"encoding/hex"
	"strconv"

	"otcledger/core/types"
)

const (
	EventTypeOrderOpened     = "otc.order_opened"
	EventTypeOrderPaid       = "otc.order_paid"
	EventTypeOrderReleased   = "otc.order_released"
	EventTypeOrderRefunded   = "otc.order_refunded"
	EventTypeOrderCanceled   = "otc.order_canceled"
	EventTypeOrderDisputed   = "otc.order_disputed"
	EventTypeOrderClosed     = "otc.order_closed"
	EventTypeOrderExpired    = "otc.order_expired"
	EventTypeOrderArchived   = "otc.order_archived"
	EventTypePaymentRevealed = "otc.payment_revealed"
	EventTypeContactRevealed = "otc.contact_revealed"
)

// NewOrderEvent returns the canonical lifecycle payload carrying the order id
// and its new state.
func NewOrderEvent(eventType string, order *Order) *types.Event {
	if order == nil {
		return &types.Event{Type: eventType, Attributes: map[string]string{}}
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"orderId":   strconv.FormatUint(order.ID, 10),
			"makerId":   order.MakerID,
			"maker":     hex.EncodeToString(order.Maker[:]),
			"taker":     hex.EncodeToString(order.Taker[:]),
			"state":     order.State.String(),
			"amountUsd": strconv.FormatUint(order.AmountUSD, 10),
		},
	}
}

// NewRevealEvent returns the payload emitted after a successful commitment
// reveal. The payload itself stays off the event; only the fact of the reveal
// is broadcast.
func NewRevealEvent(eventType string, orderID uint64, revealer [20]byte) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"orderId":  strconv.FormatUint(orderID, 10),
			"revealer": hex.EncodeToString(revealer[:]),
		},
	}
}
