package escrow

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"otcledger/core/types"
)

type mockState struct {
	records  map[uint64]*Record
	accounts map[[20]byte]*types.Account
	vault    [20]byte
}

func newMockState() *mockState {
	return &mockState{
		records:  make(map[uint64]*Record),
		accounts: make(map[[20]byte]*types.Account),
		vault:    newTestAddress(0xEE),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) EscrowGet(orderID uint64) (*Record, bool) {
	record, ok := m.records[orderID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

func (m *mockState) EscrowPut(record *Record) error {
	if record == nil {
		return errors.New("nil record")
	}
	m.records[record.OrderID] = record.Clone()
	return nil
}

func (m *mockState) EscrowRemove(orderID uint64) error {
	delete(m.records, orderID)
	return nil
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	account, ok := m.accounts[addr]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return account.Clone(), nil
}

func (m *mockState) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return errors.New("nil account")
	}
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) EscrowVaultAddress() [20]byte { return m.vault }

func (m *mockState) fund(addr [20]byte, amount int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	account, ok := m.accounts[addr]
	if !ok || account.Balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(account.Balance)
}

func newTestLedger() (*Ledger, *mockState) {
	state := newMockState()
	ledger := NewLedger()
	ledger.SetState(state)
	return ledger, state
}

func TestLockFromMovesFundsIntoVault(t *testing.T) {
	ledger, state := newTestLedger()
	maker := newTestAddress(0x01)
	state.fund(maker, 1_000)

	if err := ledger.LockFrom(maker, 7, big.NewInt(400)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := state.balance(maker); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("maker balance = %s, want 600", got)
	}
	if got := state.balance(state.vault); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("vault balance = %s, want 400", got)
	}
	if got := ledger.AmountOf(7); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("escrow balance = %s, want 400", got)
	}
}

func TestLockFromInsufficientFundsLeavesStateUntouched(t *testing.T) {
	ledger, state := newTestLedger()
	maker := newTestAddress(0x01)
	state.fund(maker, 100)

	err := ledger.LockFrom(maker, 7, big.NewInt(400))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := state.balance(maker); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("maker balance changed: %s", got)
	}
	if got := ledger.AmountOf(7); got.Sign() != 0 {
		t.Fatalf("escrow balance = %s, want 0", got)
	}
}

func TestLockFromAccumulates(t *testing.T) {
	ledger, state := newTestLedger()
	maker := newTestAddress(0x01)
	state.fund(maker, 1_000)

	if err := ledger.LockFrom(maker, 9, big.NewInt(250)); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if err := ledger.LockFrom(maker, 9, big.NewInt(150)); err != nil {
		t.Fatalf("second lock: %v", err)
	}
	if got := ledger.AmountOf(9); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("escrow balance = %s, want 400", got)
	}
}

func TestTransferFromEscrowPartial(t *testing.T) {
	ledger, state := newTestLedger()
	maker := newTestAddress(0x01)
	taker := newTestAddress(0x02)
	state.fund(maker, 1_000)

	if err := ledger.LockFrom(maker, 3, big.NewInt(500)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := ledger.TransferFromEscrow(3, taker, big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ledger.AmountOf(3); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("escrow balance = %s, want 300", got)
	}
	if got := state.balance(taker); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("taker balance = %s, want 200", got)
	}

	// Conservation: locked + transferred out equals the original lock.
	total := new(big.Int).Add(ledger.AmountOf(3), state.balance(taker))
	if total.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("conservation violated: %s", total)
	}
}

func TestTransferFromEscrowOverdraw(t *testing.T) {
	ledger, state := newTestLedger()
	maker := newTestAddress(0x01)
	taker := newTestAddress(0x02)
	state.fund(maker, 1_000)

	if err := ledger.LockFrom(maker, 3, big.NewInt(100)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	err := ledger.TransferFromEscrow(3, taker, big.NewInt(200))
	if !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("expected ErrInsufficientEscrow, got %v", err)
	}
	if got := ledger.AmountOf(3); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow balance = %s, want 100", got)
	}
}

func TestTransferDrainingRemovesRecord(t *testing.T) {
	ledger, state := newTestLedger()
	maker := newTestAddress(0x01)
	taker := newTestAddress(0x02)
	state.fund(maker, 1_000)

	if err := ledger.LockFrom(maker, 3, big.NewInt(100)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := ledger.TransferFromEscrow(3, taker, big.NewInt(100)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, ok := state.records[3]; ok {
		t.Fatalf("expected record removed at zero balance")
	}
}

func TestReleaseAllSettlesToRecipient(t *testing.T) {
	ledger, state := newTestLedger()
	maker := newTestAddress(0x01)
	taker := newTestAddress(0x02)
	state.fund(maker, 1_000)

	if err := ledger.LockFrom(maker, 5, big.NewInt(750)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	amount, err := ledger.ReleaseAll(5, taker)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if amount.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("released %s, want 750", amount)
	}
	if got := state.balance(taker); got.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("taker balance = %s, want 750", got)
	}
	if got := ledger.AmountOf(5); got.Sign() != 0 {
		t.Fatalf("escrow balance = %s, want 0", got)
	}
}

func TestRefundAllReturnsToMaker(t *testing.T) {
	ledger, state := newTestLedger()
	maker := newTestAddress(0x01)
	state.fund(maker, 1_000)

	if err := ledger.LockFrom(maker, 5, big.NewInt(750)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	amount, err := ledger.RefundAll(5, maker)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if amount.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("refunded %s, want 750", amount)
	}
	if got := state.balance(maker); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("maker balance = %s, want 1000", got)
	}
}

func TestDrainMissingRecordIsNoop(t *testing.T) {
	ledger, _ := newTestLedger()
	recipient := newTestAddress(0x02)

	amount, err := ledger.ReleaseAll(42, recipient)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("released %s from missing record, want 0", amount)
	}
}

func TestAmountOfMissingRecordIsZero(t *testing.T) {
	ledger, _ := newTestLedger()
	if got := ledger.AmountOf(99); got.Sign() != 0 {
		t.Fatalf("amount = %s, want 0", got)
	}
}
