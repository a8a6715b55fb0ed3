package otc

import "errors"

var (
	errNilState        = errors.New("otc engine: state not configured")
	errNilCollaborator = errors.New("otc engine: collaborator not configured")

	// ErrOrderNotFound is returned when no live order exists for the id.
	ErrOrderNotFound = errors.New("otc engine: order not found")
	// ErrInvalidStateTransition is returned when the requested transition is
	// not legal from the order's current state. Terminal orders reject every
	// further mutation with this error.
	ErrInvalidStateTransition = errors.New("otc engine: invalid state transition")
	// ErrNotAuthorized is returned when the wrong party calls a transition.
	ErrNotAuthorized = errors.New("otc engine: caller not authorized for transition")
	// ErrMakerUnavailable is returned when the maker is inactive or lacks
	// listed capacity for the requested quantity.
	ErrMakerUnavailable = errors.New("otc engine: maker inactive or over capacity")
	// ErrPaymentWindowExpired is returned when MarkPaid arrives after the
	// payment window closed.
	ErrPaymentWindowExpired = errors.New("otc engine: payment window expired")
	// ErrRateLimited is returned when the caller exceeded the per-account
	// operation rate.
	ErrRateLimited = errors.New("otc engine: rate limited")
	// ErrOrderListFull is returned when a party's active-order index is at
	// capacity.
	ErrOrderListFull = errors.New("otc engine: account order list full")
	// ErrInvalidAmount is returned for zero or negative order quantities.
	ErrInvalidAmount = errors.New("otc engine: amount must be positive")
	// ErrInvalidResolution is returned for malformed arbitration outcomes.
	ErrInvalidResolution = errors.New("otc engine: invalid resolution")
	// ErrCommitmentMismatch is returned when a revealed payload does not hash
	// to the stored commitment.
	ErrCommitmentMismatch = errors.New("otc engine: commitment mismatch")
	// ErrFirstPurchaseUsed is returned when the taker already consumed the
	// one-time first-purchase allowance.
	ErrFirstPurchaseUsed = errors.New("otc engine: first purchase already used")
	// ErrFirstPurchaseMakerBusy is returned when the maker's concurrent
	// first-purchase slots are exhausted.
	ErrFirstPurchaseMakerBusy = errors.New("otc engine: maker first purchase slots exhausted")
	// ErrFirstPurchaseOutOfRange is returned when a first-purchase order's
	// value falls outside the configured bounds.
	ErrFirstPurchaseOutOfRange = errors.New("otc engine: first purchase value out of range")
)
