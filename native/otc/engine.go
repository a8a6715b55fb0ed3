package otc

import (
	"math"
	"math/big"
	"sync"
	"time"

	"otcledger/core/events"
	"otcledger/core/types"
	"otcledger/native/credit"
	"otcledger/observability"
)

type otcState interface {
	OrderGet(id uint64) (*Order, bool, error)
	OrderPut(order *Order) error
	OrderRemove(id uint64) error
	OrderSeqNext() (uint64, error)
	OrderIDs() ([]uint64, error)
	OrdersByMaker(addr [20]byte) ([]uint64, error)
	OrdersByTaker(addr [20]byte) ([]uint64, error)
	OrderIndexAdd(order *Order) error
	OrderIndexRemove(order *Order) error
	OrderPartyIndexRemove(order *Order) error
	HasFirstPurchased(taker [20]byte) (bool, error)
	SetFirstPurchased(taker [20]byte, used bool) error
	MakerFirstPurchaseCount(makerID string) (uint32, error)
	SetMakerFirstPurchaseCount(makerID string, count uint32) error
}

// EscrowLedger is the fund-movement authority consumed by the state machine.
// The engine never mutates balances directly.
type EscrowLedger interface {
	LockFrom(payer [20]byte, orderID uint64, amount *big.Int) error
	TransferFromEscrow(orderID uint64, recipient [20]byte, amount *big.Int) error
	ReleaseAll(orderID uint64, recipient [20]byte) (*big.Int, error)
	RefundAll(orderID uint64, recipient [20]byte) (*big.Int, error)
	AmountOf(orderID uint64) *big.Int
}

// CreditEngine is the admission authority consumed by the state machine. The
// engine never adjusts quota fields directly.
type CreditEngine interface {
	OccupyQuota(addr [20]byte, amount uint64) error
	ReleaseQuota(addr [20]byte, amount uint64) error
	RecordOrderCompleted(addr [20]byte, orderID uint64) error
	RecordOrderCancelled(addr [20]byte, orderID uint64) error
	RecordViolation(addr [20]byte, v credit.Violation) error
	Profile(addr [20]byte) (*credit.BuyerQuotaProfile, error)
}

// MakerRegistry answers maker liveness and capacity questions at open time.
type MakerRegistry interface {
	IsActive(makerID string) bool
	ListedCapacity(makerID string) *big.Int
}

// PricingProvider supplies the rate used to translate token quantity into the
// 10^6 scaled USD value quota is occupied in.
type PricingProvider interface {
	CurrentPrice() uint64
}

// Params are the runtime knobs of the order lifecycle.
type Params struct {
	PaymentWindowSecs     int64
	EvidenceWindowSecs    int64
	MaxOrdersPerAccount   int
	FirstPurchasePerMaker uint32
	FirstPurchaseMinUSD   uint64
	FirstPurchaseMaxUSD   uint64
	RetentionSecs         int64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		PaymentWindowSecs:     30 * 60,
		EvidenceWindowSecs:    24 * 60 * 60,
		MaxOrdersPerAccount:   64,
		FirstPurchasePerMaker: 5,
		FirstPurchaseMinUSD:   1_000_000,
		FirstPurchaseMaxUSD:   credit.FirstPurchaseQuota,
		RetentionSecs:         30 * 24 * 60 * 60,
	}
}

type otcEvent struct {
	evt *types.Event
}

func (e otcEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e otcEvent) Event() *types.Event { return e.evt }

// Engine owns the order lifecycle. It serializes every mutating operation
// behind a single mutex so transitions touching the same order, escrow record
// or quota profile never interleave.
type Engine struct {
	mu      sync.Mutex
	state   otcState
	escrow  EscrowLedger
	credit  CreditEngine
	makers  MakerRegistry
	pricing PricingProvider
	limits  *RateLimits
	history HistoryStore
	emitter events.Emitter
	params  Params
	nowFn   func() int64
}

// NewEngine creates an order engine with default parameters and a no-op
// emitter. Collaborators are injected through the setters before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		params:  DefaultParams(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(state otcState)            { e.state = state }
func (e *Engine) SetEscrow(ledger EscrowLedger)      { e.escrow = ledger }
func (e *Engine) SetCredit(engine CreditEngine)      { e.credit = engine }
func (e *Engine) SetMakerRegistry(reg MakerRegistry) { e.makers = reg }
func (e *Engine) SetPricing(pricing PricingProvider) { e.pricing = pricing }
func (e *Engine) SetRateLimits(limits *RateLimits)   { e.limits = limits }

// SetParams overrides the lifecycle parameters.
func (e *Engine) SetParams(params Params) {
	defaults := DefaultParams()
	if params.PaymentWindowSecs <= 0 {
		params.PaymentWindowSecs = defaults.PaymentWindowSecs
	}
	if params.EvidenceWindowSecs < 0 {
		params.EvidenceWindowSecs = defaults.EvidenceWindowSecs
	}
	if params.MaxOrdersPerAccount <= 0 {
		params.MaxOrdersPerAccount = defaults.MaxOrdersPerAccount
	}
	if params.RetentionSecs <= 0 {
		params.RetentionSecs = defaults.RetentionSecs
	}
	e.params = params
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(otcEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.escrow == nil || e.credit == nil || e.makers == nil || e.pricing == nil {
		return errNilCollaborator
	}
	return nil
}

// valueOf translates a token quantity into 10^6 scaled USD at the supplied
// price, saturating at the uint64 ceiling.
func valueOf(qty *big.Int, price uint64) uint64 {
	if qty == nil || qty.Sign() <= 0 || price == 0 {
		return 0
	}
	value := new(big.Int).Mul(qty, new(big.Int).SetUint64(price))
	value.Quo(value, big.NewInt(1_000_000))
	if !value.IsUint64() {
		return math.MaxUint64
	}
	return value.Uint64()
}

// Open creates a new order for taker against the maker's listing. The maker's
// tokens are what enters escrow; the taker pays fiat off-ledger for them. A
// rejected open leaves escrow, quota and indexes bit-for-bit unchanged.
func (e *Engine) Open(makerID string, maker, taker [20]byte, qty *big.Int, paymentCommit, contactCommit [32]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openOrder(makerID, maker, taker, qty, paymentCommit, contactCommit, false)
}

// OpenFirstPurchase creates an order against the strictly limited one-time
// first-purchase allowance. The taker may consume it once ever; each maker
// serves a bounded number of concurrently open first-purchase orders.
func (e *Engine) OpenFirstPurchase(makerID string, maker, taker [20]byte, qty *big.Int, paymentCommit, contactCommit [32]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	used, err := e.state.HasFirstPurchased(taker)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrFirstPurchaseUsed
	}
	if e.params.FirstPurchasePerMaker > 0 {
		count, err := e.state.MakerFirstPurchaseCount(makerID)
		if err != nil {
			return nil, err
		}
		if count >= e.params.FirstPurchasePerMaker {
			return nil, ErrFirstPurchaseMakerBusy
		}
	}
	value := valueOf(qty, e.pricing.CurrentPrice())
	if value < e.params.FirstPurchaseMinUSD || (e.params.FirstPurchaseMaxUSD > 0 && value > e.params.FirstPurchaseMaxUSD) {
		return nil, ErrFirstPurchaseOutOfRange
	}
	return e.openOrder(makerID, maker, taker, qty, paymentCommit, contactCommit, true)
}

func (e *Engine) openOrder(makerID string, maker, taker [20]byte, qty *big.Int, paymentCommit, contactCommit [32]byte, firstPurchase bool) (*Order, error) {
	if qty == nil || qty.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !e.limits.AllowOpen(taker) {
		return nil, ErrRateLimited
	}
	if !e.makers.IsActive(makerID) {
		return nil, ErrMakerUnavailable
	}
	capacity := e.makers.ListedCapacity(makerID)
	if capacity == nil || capacity.Cmp(qty) < 0 {
		return nil, ErrMakerUnavailable
	}
	takerOrders, err := e.state.OrdersByTaker(taker)
	if err != nil {
		return nil, err
	}
	makerOrders, err := e.state.OrdersByMaker(maker)
	if err != nil {
		return nil, err
	}
	if len(takerOrders) >= e.params.MaxOrdersPerAccount || len(makerOrders) >= e.params.MaxOrdersPerAccount {
		return nil, ErrOrderListFull
	}
	value := valueOf(qty, e.pricing.CurrentPrice())
	if value == 0 {
		return nil, ErrInvalidAmount
	}
	id, err := e.state.OrderSeqNext()
	if err != nil {
		return nil, err
	}
	if err := e.credit.OccupyQuota(taker, value); err != nil {
		return nil, err
	}
	if err := e.escrow.LockFrom(maker, id, qty); err != nil {
		if relErr := e.credit.ReleaseQuota(taker, value); relErr != nil {
			return nil, relErr
		}
		return nil, err
	}
	now := e.now()
	order := &Order{
		ID:              id,
		MakerID:         makerID,
		Maker:           maker,
		Taker:           taker,
		Qty:             new(big.Int).Set(qty),
		AmountUSD:       value,
		PaymentCommit:   paymentCommit,
		ContactCommit:   contactCommit,
		CreatedAt:       now,
		ExpireAt:        now + e.params.PaymentWindowSecs,
		IsFirstPurchase: firstPurchase,
		State:           StateCreated,
	}
	order.EvidenceUntil = order.ExpireAt + e.params.EvidenceWindowSecs
	if firstPurchase {
		if err := e.state.SetFirstPurchased(taker, true); err != nil {
			e.unwindOpen(order, value)
			return nil, err
		}
		count, err := e.state.MakerFirstPurchaseCount(makerID)
		if err == nil {
			err = e.state.SetMakerFirstPurchaseCount(makerID, count+1)
		}
		if err != nil {
			_ = e.state.SetFirstPurchased(taker, false)
			e.unwindOpen(order, value)
			return nil, err
		}
	}
	if err := e.state.OrderIndexAdd(order); err != nil {
		_ = e.releaseFirstPurchase(order)
		e.unwindOpen(order, value)
		return nil, err
	}
	if err := e.state.OrderPut(order); err != nil {
		_ = e.state.OrderIndexRemove(order)
		_ = e.releaseFirstPurchase(order)
		e.unwindOpen(order, value)
		return nil, err
	}
	e.emit(NewOrderEvent(EventTypeOrderOpened, order))
	observability.IncOrderOpened(firstPurchase)
	return order.Clone(), nil
}

// unwindOpen reverses the escrow lock and quota occupation of a half-created
// order when a later open step fails.
func (e *Engine) unwindOpen(order *Order, value uint64) {
	_, _ = e.escrow.RefundAll(order.ID, order.Maker)
	_ = e.credit.ReleaseQuota(order.Taker, value)
}

func (e *Engine) getOrder(id uint64) (*Order, error) {
	order, ok, err := e.state.OrderGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	order.Sanitize()
	return order, nil
}

// MarkPaid records the taker's payment commitment while the payment window is
// open. Only the taker may call it.
func (e *Engine) MarkPaid(orderID uint64, caller [20]byte, paymentCommit [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.getOrder(orderID)
	if err != nil {
		return err
	}
	if order.State != StateCreated {
		return ErrInvalidStateTransition
	}
	if caller != order.Taker {
		return ErrNotAuthorized
	}
	if !e.limits.AllowPaid(caller) {
		return ErrRateLimited
	}
	if e.now() > order.ExpireAt {
		return ErrPaymentWindowExpired
	}
	if paymentCommit != ([32]byte{}) {
		order.PaymentCommit = paymentCommit
	}
	order.State = StatePaidOrCommitted
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	e.emit(NewOrderEvent(EventTypeOrderPaid, order))
	return nil
}

// Release settles the order to the taker. Only the maker may call it, and
// only after the taker committed payment. This is the only path that raises
// the taker's standing.
func (e *Engine) Release(orderID uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.getOrder(orderID)
	if err != nil {
		return err
	}
	if order.State != StatePaidOrCommitted {
		return ErrInvalidStateTransition
	}
	if caller != order.Maker {
		return ErrNotAuthorized
	}
	return e.settleToTaker(order)
}

func (e *Engine) settleToTaker(order *Order) error {
	if _, err := e.escrow.ReleaseAll(order.ID, order.Taker); err != nil {
		return err
	}
	if err := e.credit.ReleaseQuota(order.Taker, order.AmountUSD); err != nil {
		return err
	}
	if err := e.credit.RecordOrderCompleted(order.Taker, order.ID); err != nil {
		return err
	}
	// A successful first purchase consumes the one-time allowance; only the
	// maker's concurrent slot is returned.
	if order.IsFirstPurchase {
		if err := e.returnMakerFirstPurchaseSlot(order.MakerID); err != nil {
			return err
		}
	}
	return e.finalize(order, StateReleased, EventTypeOrderReleased)
}

// Cancel aborts an unpaid order. Either party may call it; the maker's tokens
// return in full and the taker's quota is freed with no penalty.
func (e *Engine) Cancel(orderID uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.getOrder(orderID)
	if err != nil {
		return err
	}
	if order.State != StateCreated {
		return ErrInvalidStateTransition
	}
	if caller != order.Maker && caller != order.Taker {
		return ErrNotAuthorized
	}
	if _, err := e.escrow.RefundAll(order.ID, order.Maker); err != nil {
		return err
	}
	if err := e.credit.ReleaseQuota(order.Taker, order.AmountUSD); err != nil {
		return err
	}
	if err := e.credit.RecordOrderCancelled(order.Taker, order.ID); err != nil {
		return err
	}
	if err := e.releaseFirstPurchase(order); err != nil {
		return err
	}
	return e.finalize(order, StateCanceled, EventTypeOrderCanceled)
}

// Dispute freezes a committed order pending arbitration. A paid and
// unreleased order stays disputable by either party with no deadline, so a
// maker who never releases cannot strand the escrow or the taker's quota.
func (e *Engine) Dispute(orderID uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.getOrder(orderID)
	if err != nil {
		return err
	}
	if order.State != StatePaidOrCommitted {
		return ErrInvalidStateTransition
	}
	if caller != order.Maker && caller != order.Taker {
		return ErrNotAuthorized
	}
	order.State = StateDisputed
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	e.emit(NewOrderEvent(EventTypeOrderDisputed, order))
	return nil
}

// Resolve applies an arbitration outcome to a disputed order. A refund to the
// maker records a lost-dispute violation against the taker; a release and a
// split are credit-neutral apart from the completed-order credit on release.
func (e *Engine) Resolve(orderID uint64, outcome Resolution) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !outcome.valid() {
		return ErrInvalidResolution
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.getOrder(orderID)
	if err != nil {
		return err
	}
	if order.State != StateDisputed {
		return ErrInvalidStateTransition
	}
	switch outcome.Kind {
	case ResolutionReleaseToTaker:
		return e.settleToTaker(order)
	case ResolutionRefundToMaker:
		if _, err := e.escrow.RefundAll(order.ID, order.Maker); err != nil {
			return err
		}
		if err := e.credit.ReleaseQuota(order.Taker, order.AmountUSD); err != nil {
			return err
		}
		violation := credit.Violation{
			Kind:      credit.ViolationDisputeLoss,
			OrderID:   order.ID,
			AmountUSD: order.AmountUSD,
		}
		if err := e.credit.RecordViolation(order.Taker, violation); err != nil {
			return err
		}
		if err := e.releaseFirstPurchase(order); err != nil {
			return err
		}
		return e.finalize(order, StateRefunded, EventTypeOrderRefunded)
	case ResolutionSplit:
		remaining := e.escrow.AmountOf(order.ID)
		takerShare := new(big.Int).Mul(remaining, new(big.Int).SetUint64(uint64(outcome.TakerBps)))
		takerShare.Quo(takerShare, big.NewInt(10_000))
		if takerShare.Sign() > 0 {
			if err := e.escrow.TransferFromEscrow(order.ID, order.Taker, takerShare); err != nil {
				return err
			}
		}
		if _, err := e.escrow.RefundAll(order.ID, order.Maker); err != nil {
			return err
		}
		if err := e.credit.ReleaseQuota(order.Taker, order.AmountUSD); err != nil {
			return err
		}
		if err := e.releaseFirstPurchase(order); err != nil {
			return err
		}
		return e.finalize(order, StateClosed, EventTypeOrderClosed)
	default:
		return ErrInvalidResolution
	}
}

// RevealPayment verifies a payment payload and salt against the commitment
// recorded at open or mark-paid time. Only the taker may reveal it.
func (e *Engine) RevealPayment(orderID uint64, caller [20]byte, payload, salt []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.getOrder(orderID)
	if err != nil {
		return err
	}
	if caller != order.Taker {
		return ErrNotAuthorized
	}
	if CommitmentFor(payload, salt) != order.PaymentCommit {
		return ErrCommitmentMismatch
	}
	e.emit(NewRevealEvent(EventTypePaymentRevealed, order.ID, caller))
	return nil
}

// RevealContact verifies a contact payload and salt against the commitment
// recorded at open time. Either party may reveal it.
func (e *Engine) RevealContact(orderID uint64, caller [20]byte, payload, salt []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.getOrder(orderID)
	if err != nil {
		return err
	}
	if caller != order.Maker && caller != order.Taker {
		return ErrNotAuthorized
	}
	if CommitmentFor(payload, salt) != order.ContactCommit {
		return ErrCommitmentMismatch
	}
	e.emit(NewRevealEvent(EventTypeContactRevealed, order.ID, caller))
	return nil
}

// finalize commits a terminal transition: the state flips, the completion
// timestamp is recorded, the order leaves both parties' active-order indexes
// and the lifecycle event fires. The order stays in the live index until the
// archival sweep removes it.
func (e *Engine) finalize(order *Order, state OrderState, eventType string) error {
	order.State = state
	order.CompletedAt = e.now()
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	if err := e.state.OrderPartyIndexRemove(order); err != nil {
		return err
	}
	e.emit(NewOrderEvent(eventType, order))
	observability.IncOrderSettled(state.String())
	return nil
}

// releaseFirstPurchase returns the one-time allowance and the maker's slot on
// a terminal path that is not a successful release, so a failed attempt does
// not consume the taker's allowance permanently.
func (e *Engine) releaseFirstPurchase(order *Order) error {
	if order == nil || !order.IsFirstPurchase {
		return nil
	}
	if err := e.state.SetFirstPurchased(order.Taker, false); err != nil {
		return err
	}
	return e.returnMakerFirstPurchaseSlot(order.MakerID)
}

func (e *Engine) returnMakerFirstPurchaseSlot(makerID string) error {
	count, err := e.state.MakerFirstPurchaseCount(makerID)
	if err != nil {
		return err
	}
	if count > 0 {
		count--
	}
	return e.state.SetMakerFirstPurchaseCount(makerID, count)
}

// OrderByID returns a copy of the order.
func (e *Engine) OrderByID(orderID uint64) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.getOrder(orderID)
	if err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// OrdersByMaker returns copies of the maker's live orders.
func (e *Engine) OrdersByMaker(maker [20]byte) ([]*Order, error) {
	return e.ordersByParty(maker, func(addr [20]byte) ([]uint64, error) {
		return e.state.OrdersByMaker(addr)
	})
}

// OrdersByTaker returns copies of the taker's live orders.
func (e *Engine) OrdersByTaker(taker [20]byte) ([]*Order, error) {
	return e.ordersByParty(taker, func(addr [20]byte) ([]uint64, error) {
		return e.state.OrdersByTaker(addr)
	})
}

func (e *Engine) ordersByParty(addr [20]byte, list func([20]byte) ([]uint64, error)) ([]*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ids, err := list(addr)
	if err != nil {
		return nil, err
	}
	orders := make([]*Order, 0, len(ids))
	for _, id := range ids {
		order, ok, err := e.state.OrderGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		order.Sanitize()
		orders = append(orders, order.Clone())
	}
	return orders, nil
}

// EscrowBalanceOf returns the escrow balance held for the order, zero when no
// record exists.
func (e *Engine) EscrowBalanceOf(orderID uint64) *big.Int {
	if e == nil || e.escrow == nil {
		return big.NewInt(0)
	}
	return e.escrow.AmountOf(orderID)
}
