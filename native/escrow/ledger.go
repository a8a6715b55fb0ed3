package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"otcledger/core/events"
	"otcledger/core/types"
)

var (
	errNilState = errors.New("escrow ledger: state not configured")

	// ErrInsufficientFunds is returned when a payer cannot cover the amount
	// being locked.
	ErrInsufficientFunds = errors.New("escrow ledger: insufficient funds")
	// ErrInsufficientEscrow is returned when a transfer exceeds the balance
	// currently held for the order.
	ErrInsufficientEscrow = errors.New("escrow ledger: insufficient escrow balance")
)

type ledgerState interface {
	EscrowGet(orderID uint64) (*Record, bool)
	EscrowPut(*Record) error
	EscrowRemove(orderID uint64) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	EscrowVaultAddress() [20]byte
}

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

// Ledger is the single authority for fund movement. Funds attributable to an
// order only enter through LockFrom and only leave through transfers, a
// release or a refund; every operation either applies its full balance
// movement or leaves the state untouched.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger creates an escrow ledger with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(ledgerEvent{evt: event})
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (l *Ledger) transfer(from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow ledger: negative transfer amount")
	}
	fromAcc, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}

// LockFrom moves amount from the payer's spendable balance into the order's
// escrow. The payer's balance decreases and the escrow balance increases by
// exactly amount, or nothing happens at all.
func (l *Ledger) LockFrom(payer [20]byte, orderID uint64, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("escrow ledger: lock amount must be positive")
	}
	if err := l.transfer(payer, l.state.EscrowVaultAddress(), amt); err != nil {
		return err
	}
	record, ok := l.state.EscrowGet(orderID)
	if !ok {
		record = &Record{OrderID: orderID, Locked: big.NewInt(0)}
	}
	record.Locked = new(big.Int).Add(cloneBigInt(record.Locked), amt)
	if err := l.state.EscrowPut(record); err != nil {
		return err
	}
	l.emit(NewLockedEvent(orderID, amt))
	return nil
}

// TransferFromEscrow moves amount out of the order's escrow to the recipient.
// Partial, repeated calls are supported; the escrow balance never goes
// negative. The record is removed once its balance reaches zero.
func (l *Ledger) TransferFromEscrow(orderID uint64, recipient [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("escrow ledger: transfer amount must be positive")
	}
	record, ok := l.state.EscrowGet(orderID)
	if !ok || record.Locked == nil || record.Locked.Cmp(amt) < 0 {
		return ErrInsufficientEscrow
	}
	if err := l.transfer(l.state.EscrowVaultAddress(), recipient, amt); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(record.Locked, amt)
	if remaining.Sign() == 0 {
		if err := l.state.EscrowRemove(orderID); err != nil {
			return err
		}
	} else {
		record.Locked = remaining
		if err := l.state.EscrowPut(record); err != nil {
			return err
		}
	}
	l.emit(NewTransferredEvent(orderID, recipient, amt))
	return nil
}

// ReleaseAll transfers the entire remaining escrow balance to the recipient
// and removes the record. Used for the settlement path. Releasing an order
// with no escrow record is a no-op returning zero.
func (l *Ledger) ReleaseAll(orderID uint64, recipient [20]byte) (*big.Int, error) {
	return l.drain(orderID, recipient, NewReleasedEvent)
}

// RefundAll is identical in mechanics to ReleaseAll but marks the
// return-to-payer path (timeout, cancellation, lost-order disputes).
func (l *Ledger) RefundAll(orderID uint64, recipient [20]byte) (*big.Int, error) {
	return l.drain(orderID, recipient, NewRefundedEvent)
}

func (l *Ledger) drain(orderID uint64, recipient [20]byte, eventFn func(uint64, [20]byte, *big.Int) *types.Event) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	record, ok := l.state.EscrowGet(orderID)
	if !ok || record.Locked == nil || record.Locked.Sign() == 0 {
		return big.NewInt(0), nil
	}
	amount := cloneBigInt(record.Locked)
	if err := l.transfer(l.state.EscrowVaultAddress(), recipient, amount); err != nil {
		return nil, err
	}
	if err := l.state.EscrowRemove(orderID); err != nil {
		return nil, err
	}
	l.emit(eventFn(orderID, recipient, amount))
	return amount, nil
}

// AmountOf returns the escrow balance currently held for the order. Orders
// with no escrow record report zero; that is not an error.
func (l *Ledger) AmountOf(orderID uint64) *big.Int {
	if l == nil || l.state == nil {
		return big.NewInt(0)
	}
	record, ok := l.state.EscrowGet(orderID)
	if !ok || record.Locked == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(record.Locked)
}
