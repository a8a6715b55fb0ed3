package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"otcledger/core/types"
	"otcledger/native/credit"
	"otcledger/native/escrow"
	"otcledger/native/otc"
	"otcledger/storage"
)

// Key prefixes. Values are JSON except the order sequence, which is a
// big-endian uint64.
const (
	prefixAccount    = "acct:"
	prefixEscrow     = "escrow:"
	prefixQuota      = "quota:"
	prefixOrder      = "order:"
	prefixMakerList  = "orders:maker:"
	prefixTakerList  = "orders:taker:"
	prefixTakerFirst = "fp:taker:"
	prefixMakerFirst = "fp:maker:"
	keyOrderSeq      = "orderseq"
	keyLiveOrders    = "orders:live"
)

// defaultVault is the module account holding every order's locked funds.
var defaultVault = [20]byte{
	0x0e, 0x5c, 0x72, 0x0f, 0xf1, 0x3a, 0x8b, 0x33, 0x14, 0x7d,
	0x9b, 0x8d, 0x21, 0x64, 0x9c, 0x5e, 0xe2, 0x1d, 0x40, 0x01,
}

// Manager persists every engine's state in one key-value database. It
// implements the state interfaces of the escrow ledger, the credit engine and
// the order engine.
type Manager struct {
	db    storage.Database
	vault [20]byte
}

// NewManager wraps the database with the default escrow vault address.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, vault: defaultVault}
}

// SetEscrowVault overrides the vault address. Must be set before any lock.
func (m *Manager) SetEscrowVault(addr [20]byte) { m.vault = addr }

// EscrowVaultAddress returns the module account holding locked funds.
func (m *Manager) EscrowVaultAddress() [20]byte { return m.vault }

func addrKey(prefix string, addr [20]byte) []byte {
	return []byte(prefix + hex.EncodeToString(addr[:]))
}

func idKey(prefix string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", prefix, id))
}

func (m *Manager) getJSON(key []byte, out any) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// --- accounts ---

// GetAccount returns the account stored for addr, or a zero-balance account
// when none exists yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var account types.Account
	ok, err := m.getJSON(addrKey(prefixAccount, addr), &account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return &account, nil
}

func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	return m.putJSON(addrKey(prefixAccount, addr), account)
}

// --- escrow records ---

func (m *Manager) EscrowGet(orderID uint64) (*escrow.Record, bool) {
	var record escrow.Record
	ok, err := m.getJSON(idKey(prefixEscrow, orderID), &record)
	if err != nil || !ok {
		return nil, false
	}
	clean, err := escrow.SanitizeRecord(&record)
	if err != nil {
		return nil, false
	}
	return clean, true
}

func (m *Manager) EscrowPut(record *escrow.Record) error {
	if record == nil {
		return errors.New("state: nil escrow record")
	}
	return m.putJSON(idKey(prefixEscrow, record.OrderID), record)
}

func (m *Manager) EscrowRemove(orderID uint64) error {
	return m.db.Delete(idKey(prefixEscrow, orderID))
}

// --- quota profiles ---

func (m *Manager) QuotaProfileGet(addr [20]byte) (*credit.BuyerQuotaProfile, bool, error) {
	var profile credit.BuyerQuotaProfile
	ok, err := m.getJSON(addrKey(prefixQuota, addr), &profile)
	if err != nil || !ok {
		return nil, false, err
	}
	return &profile, true, nil
}

func (m *Manager) QuotaProfilePut(addr [20]byte, profile *credit.BuyerQuotaProfile) error {
	if profile == nil {
		return errors.New("state: nil quota profile")
	}
	return m.putJSON(addrKey(prefixQuota, addr), profile)
}

// --- orders ---

func (m *Manager) OrderGet(id uint64) (*otc.Order, bool, error) {
	var order otc.Order
	ok, err := m.getJSON(idKey(prefixOrder, id), &order)
	if err != nil || !ok {
		return nil, false, err
	}
	return &order, true, nil
}

func (m *Manager) OrderPut(order *otc.Order) error {
	if order == nil {
		return errors.New("state: nil order")
	}
	return m.putJSON(idKey(prefixOrder, order.ID), order)
}

func (m *Manager) OrderRemove(id uint64) error {
	return m.db.Delete(idKey(prefixOrder, id))
}

// OrderSeqNext increments and returns the persisted order sequence. The first
// issued id is 1.
func (m *Manager) OrderSeqNext() (uint64, error) {
	var next uint64 = 1
	raw, err := m.db.Get([]byte(keyOrderSeq))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	if len(raw) == 8 {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := m.db.Put([]byte(keyOrderSeq), buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (m *Manager) orderList(key []byte) ([]uint64, error) {
	var ids []uint64
	if _, err := m.getJSON(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) putOrderList(key []byte, ids []uint64) error {
	if len(ids) == 0 {
		return m.db.Delete(key)
	}
	return m.putJSON(key, ids)
}

func appendID(ids []uint64, id uint64) []uint64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []uint64, id uint64) []uint64 {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// OrderIDs returns every order currently in the live index.
func (m *Manager) OrderIDs() ([]uint64, error) {
	return m.orderList([]byte(keyLiveOrders))
}

func (m *Manager) OrdersByMaker(addr [20]byte) ([]uint64, error) {
	return m.orderList(addrKey(prefixMakerList, addr))
}

func (m *Manager) OrdersByTaker(addr [20]byte) ([]uint64, error) {
	return m.orderList(addrKey(prefixTakerList, addr))
}

// OrderIndexAdd inserts the order into the live index and both party indexes.
func (m *Manager) OrderIndexAdd(order *otc.Order) error {
	if order == nil {
		return errors.New("state: nil order")
	}
	return m.updateIndexes(order, appendID)
}

// OrderIndexRemove removes the order from the live index and both party
// indexes. Removing an absent order is a no-op.
func (m *Manager) OrderIndexRemove(order *otc.Order) error {
	if order == nil {
		return errors.New("state: nil order")
	}
	return m.updateIndexes(order, removeID)
}

// OrderPartyIndexRemove drops the order from the maker and taker indexes
// while leaving it in the live index for the archival sweep.
func (m *Manager) OrderPartyIndexRemove(order *otc.Order) error {
	if order == nil {
		return errors.New("state: nil order")
	}
	keys := [][]byte{
		addrKey(prefixMakerList, order.Maker),
		addrKey(prefixTakerList, order.Taker),
	}
	return m.applyToIndexes(keys, order.ID, removeID)
}

func (m *Manager) updateIndexes(order *otc.Order, apply func([]uint64, uint64) []uint64) error {
	keys := [][]byte{
		[]byte(keyLiveOrders),
		addrKey(prefixMakerList, order.Maker),
		addrKey(prefixTakerList, order.Taker),
	}
	return m.applyToIndexes(keys, order.ID, apply)
}

func (m *Manager) applyToIndexes(keys [][]byte, id uint64, apply func([]uint64, uint64) []uint64) error {
	for _, key := range keys {
		ids, err := m.orderList(key)
		if err != nil {
			return err
		}
		if err := m.putOrderList(key, apply(ids, id)); err != nil {
			return err
		}
	}
	return nil
}

// --- first-purchase pool ---

func (m *Manager) HasFirstPurchased(taker [20]byte) (bool, error) {
	return m.db.Has(addrKey(prefixTakerFirst, taker))
}

func (m *Manager) SetFirstPurchased(taker [20]byte, used bool) error {
	key := addrKey(prefixTakerFirst, taker)
	if !used {
		return m.db.Delete(key)
	}
	return m.db.Put(key, []byte{1})
}

func (m *Manager) MakerFirstPurchaseCount(makerID string) (uint32, error) {
	raw, err := m.db.Get([]byte(prefixMakerFirst + makerID))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("state: malformed maker first-purchase count for %q", makerID)
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (m *Manager) SetMakerFirstPurchaseCount(makerID string, count uint32) error {
	key := []byte(prefixMakerFirst + makerID)
	if count == 0 {
		return m.db.Delete(key)
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, count)
	return m.db.Put(key, buf)
}

// Credit mints balance onto an account. Used by genesis wiring and tests;
// ordinary operation moves value only through the escrow ledger.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("state: credit amount must be non-negative")
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return m.PutAccount(addr, account)
}
