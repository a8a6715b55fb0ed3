package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"otcledger/core/types"
)

const (
	EventTypeEscrowLocked      = "escrow.locked"
	EventTypeEscrowTransferred = "escrow.transferred"
	EventTypeEscrowReleased    = "escrow.released"
	EventTypeEscrowRefunded    = "escrow.refunded"
)

// NewLockedEvent returns the canonical payload emitted when funds enter an
// order's escrow.
func NewLockedEvent(orderID uint64, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeEscrowLocked,
		Attributes: map[string]string{
			"orderId": strconv.FormatUint(orderID, 10),
			"amount":  formatAmount(amount),
		},
	}
}

// NewTransferredEvent returns the payload emitted for a partial transfer out
// of escrow.
func NewTransferredEvent(orderID uint64, recipient [20]byte, amount *big.Int) *types.Event {
	return newMovementEvent(EventTypeEscrowTransferred, orderID, recipient, amount)
}

// NewReleasedEvent returns the payload emitted when the full balance settles
// to the recipient.
func NewReleasedEvent(orderID uint64, recipient [20]byte, amount *big.Int) *types.Event {
	return newMovementEvent(EventTypeEscrowReleased, orderID, recipient, amount)
}

// NewRefundedEvent returns the payload emitted when the full balance returns
// to the payer side.
func NewRefundedEvent(orderID uint64, recipient [20]byte, amount *big.Int) *types.Event {
	return newMovementEvent(EventTypeEscrowRefunded, orderID, recipient, amount)
}

func newMovementEvent(eventType string, orderID uint64, recipient [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"orderId":   strconv.FormatUint(orderID, 10),
			"recipient": hex.EncodeToString(recipient[:]),
			"amount":    formatAmount(amount),
		},
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
