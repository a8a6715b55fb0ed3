package credit

import (
	"errors"
	"time"

	"otcledger/core/events"
	"otcledger/core/types"
)

var (
	errNilState = errors.New("credit engine: state not configured")

	// ErrQuotaExceeded is returned when an occupation would exceed the
	// taker's available quota.
	ErrQuotaExceeded = errors.New("credit engine: quota exceeded")
	// ErrConcurrentOrderLimitExceeded is returned when the taker already
	// holds the maximum number of concurrent orders.
	ErrConcurrentOrderLimitExceeded = errors.New("credit engine: concurrent order limit exceeded")
	// ErrAccountSuspended is returned while a suspension is active.
	ErrAccountSuspended = errors.New("credit engine: account suspended")
	// ErrAccountBlacklisted is returned for permanently blacklisted takers.
	ErrAccountBlacklisted = errors.New("credit engine: account blacklisted")
)

type engineState interface {
	QuotaProfileGet(addr [20]byte) (*BuyerQuotaProfile, bool, error)
	QuotaProfilePut(addr [20]byte, profile *BuyerQuotaProfile) error
}

type creditEvent struct {
	evt *types.Event
}

func (e creditEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e creditEvent) Event() *types.Event { return e.evt }

// Engine is the single authority for admission decisions. Every check is a
// pre-condition evaluated before any state mutation: a rejected call leaves
// the stored profile untouched.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a credit engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

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
	e.emitter.Emit(creditEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// loadProfile returns a mutable snapshot of the taker's profile, creating the
// first-time-buyer default when none exists yet. The snapshot is only
// persisted by the caller on success.
func (e *Engine) loadProfile(addr [20]byte) (*BuyerQuotaProfile, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	profile, ok, err := e.state.QuotaProfileGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewProfile(), nil
	}
	return profile.Clone(), nil
}

// normalize lifts a suspension or a standalone quota cut whose window has
// elapsed and restores the headroom the penalty withheld. Blacklist penalties
// are unbounded and never lift.
func (e *Engine) normalize(p *BuyerQuotaProfile, now int64) {
	if p == nil || p.IsBlacklisted {
		return
	}
	if p.IsSuspended && p.SuspensionUntil > 0 && now >= p.SuspensionUntil {
		p.IsSuspended = false
		p.SuspensionUntil = 0
		p.PenaltyUntil = 0
		p.AvailableQuota = satSubU64(p.MaxQuota, p.OccupiedQuota)
	}
	if !p.IsSuspended && p.PenaltyUntil > 0 && now >= p.PenaltyUntil {
		p.PenaltyUntil = 0
		p.AvailableQuota = satSubU64(p.MaxQuota, p.OccupiedQuota)
	}
}

// Profile returns a copy of the taker's profile, or the first-time-buyer
// default for takers the engine has never seen.
func (e *Engine) Profile(addr [20]byte) (*BuyerQuotaProfile, error) {
	profile, err := e.loadProfile(addr)
	if err != nil {
		return nil, err
	}
	e.normalize(profile, e.now())
	return profile, nil
}

// GetAvailableQuota returns the value the taker may still occupy.
func (e *Engine) GetAvailableQuota(addr [20]byte) (uint64, error) {
	profile, err := e.Profile(addr)
	if err != nil {
		return 0, err
	}
	return profile.AvailableQuota, nil
}

// CheckConcurrentLimit reports whether the taker may open one more order.
func (e *Engine) CheckConcurrentLimit(addr [20]byte) (bool, error) {
	profile, err := e.Profile(addr)
	if err != nil {
		return false, err
	}
	return profile.ActiveOrders < profile.MaxConcurrentOrders, nil
}

// OccupyQuota reserves amount of the taker's quota for a new order. All
// admission checks run before the mutation; a rejection leaves the profile
// bit-for-bit unchanged.
func (e *Engine) OccupyQuota(addr [20]byte, amount uint64) error {
	profile, err := e.loadProfile(addr)
	if err != nil {
		return err
	}
	now := e.now()
	if profile.IsBlacklisted {
		return ErrAccountBlacklisted
	}
	e.normalize(profile, now)
	if profile.SuspendedAt(now) {
		return ErrAccountSuspended
	}
	if profile.ActiveOrders >= profile.MaxConcurrentOrders {
		return ErrConcurrentOrderLimitExceeded
	}
	if amount > profile.AvailableQuota {
		return ErrQuotaExceeded
	}
	profile.OccupiedQuota = satAddU64(profile.OccupiedQuota, amount)
	profile.AvailableQuota = satSubU64(profile.AvailableQuota, amount)
	profile.ActiveOrders++
	if err := e.state.QuotaProfilePut(addr, profile); err != nil {
		return err
	}
	e.emit(NewQuotaOccupiedEvent(addr, amount, profile))
	return nil
}

// ReleaseQuota frees amount of occupied quota. Called on every terminal
// transition; counters never go below zero and the restored headroom never
// exceeds the ceiling.
func (e *Engine) ReleaseQuota(addr [20]byte, amount uint64) error {
	profile, err := e.loadProfile(addr)
	if err != nil {
		return err
	}
	profile.OccupiedQuota = satSubU64(profile.OccupiedQuota, amount)
	if profile.ActiveOrders > 0 {
		profile.ActiveOrders--
	}
	profile.AvailableQuota = minU64(
		satAddU64(profile.AvailableQuota, amount),
		satSubU64(profile.MaxQuota, profile.OccupiedQuota),
	)
	if err := e.state.QuotaProfilePut(addr, profile); err != nil {
		return err
	}
	e.emit(NewQuotaReleasedEvent(addr, amount, profile))
	return nil
}

// RecordOrderCompleted credits a successful settlement: the completed-order
// count grows, the ceiling and concurrency allowance are recomputed and the
// consecutive-good streak advances. This is the only path that raises a
// taker's standing.
func (e *Engine) RecordOrderCompleted(addr [20]byte, orderID uint64) error {
	profile, err := e.loadProfile(addr)
	if err != nil {
		return err
	}
	now := e.now()
	e.normalize(profile, now)
	profile.TotalOrders++
	profile.ConsecutiveGoodOrders++
	if !profile.IsBlacklisted && profile.ConsecutiveGoodOrders >= recoveryGoodOrders && profile.ConsecutiveGoodOrders%recoveryGoodOrders == 0 {
		profile.CreditScore = satAddScore(profile.CreditScore, recoveryGoodOrdersScore)
	}
	profile.MaxQuota = MaxQuotaFor(profile.CreditScore, profile.TotalOrders)
	profile.MaxConcurrentOrders = MaxConcurrentFor(profile.TotalOrders)
	profile.AvailableQuota = satSubU64(profile.MaxQuota, profile.OccupiedQuota)
	if err := e.state.QuotaProfilePut(addr, profile); err != nil {
		return err
	}
	e.emit(NewOrderRecordedEvent(EventTypeOrderCompleted, addr, orderID, profile))
	return nil
}

// RecordOrderCancelled notes a neutral cancellation. Credit is untouched;
// callers that attribute the cancellation to taker fault record an explicit
// violation instead. Quota release happens through ReleaseQuota.
func (e *Engine) RecordOrderCancelled(addr [20]byte, orderID uint64) error {
	profile, err := e.loadProfile(addr)
	if err != nil {
		return err
	}
	e.emit(NewOrderRecordedEvent(EventTypeOrderCancelled, addr, orderID, profile))
	return nil
}

// RecordViolation folds an adverse event into the profile: the score drops,
// available quota is cut by the schedule and suspensions or the permanent
// blacklist are applied.
func (e *Engine) RecordViolation(addr [20]byte, v Violation) error {
	if !v.Kind.Valid() {
		return errors.New("credit engine: invalid violation kind")
	}
	profile, err := e.loadProfile(addr)
	if err != nil {
		return err
	}
	now := e.now()
	penalty := PenaltyFor(v, profile.TotalViolations)
	profile.CreditScore = satSubScore(profile.CreditScore, penalty.ScorePenalty)
	profile.TotalViolations++
	profile.ConsecutiveGoodOrders = 0
	profile.LastViolationAt = now
	if penalty.Suspend {
		profile.Warnings++
	}
	cut := satMulU64(profile.AvailableQuota, uint64(penalty.QuotaReductionBps)) / 10_000
	profile.AvailableQuota = satSubU64(profile.AvailableQuota, cut)
	profile.MaxQuota = MaxQuotaFor(profile.CreditScore, profile.TotalOrders)
	profile.AvailableQuota = minU64(profile.AvailableQuota, satSubU64(profile.MaxQuota, profile.OccupiedQuota))
	if penalty.DurationDays > 0 && penalty.DurationDays != PermanentPenaltyDays {
		profile.PenaltyUntil = now + int64(penalty.DurationDays)*secondsPerDay
	} else {
		profile.PenaltyUntil = 0
	}
	if penalty.Blacklist {
		profile.IsBlacklisted = true
		profile.IsSuspended = true
		profile.SuspensionUntil = 0
		profile.PenaltyUntil = 0
		profile.AvailableQuota = 0
	} else if penalty.Suspend {
		profile.IsSuspended = true
		if penalty.DurationDays == PermanentPenaltyDays {
			profile.SuspensionUntil = 0
		} else {
			profile.SuspensionUntil = now + int64(penalty.DurationDays)*secondsPerDay
		}
	}
	if err := e.state.QuotaProfilePut(addr, profile); err != nil {
		return err
	}
	e.emit(NewViolationEvent(addr, v, penalty, profile))
	return nil
}

// TryRecover applies the time-based credit recovery when the profile has
// stayed violation-free for the full window. The window restarts after each
// recovery so the increment applies once per elapsed window. Returns whether
// a recovery was applied.
func (e *Engine) TryRecover(addr [20]byte) (bool, error) {
	profile, err := e.loadProfile(addr)
	if err != nil {
		return false, err
	}
	now := e.now()
	e.normalize(profile, now)
	if profile.IsBlacklisted || profile.LastViolationAt == 0 {
		return false, nil
	}
	ok, bonus := RecoveryFor(profile, now)
	if !ok || now < profile.LastViolationAt+recoveryWindowDays*secondsPerDay {
		return false, nil
	}
	profile.CreditScore = satAddScore(profile.CreditScore, bonus)
	profile.LastViolationAt = now
	profile.MaxQuota = MaxQuotaFor(profile.CreditScore, profile.TotalOrders)
	profile.AvailableQuota = satSubU64(profile.MaxQuota, profile.OccupiedQuota)
	if err := e.state.QuotaProfilePut(addr, profile); err != nil {
		return false, err
	}
	e.emit(NewRecoveryEvent(addr, bonus, profile))
	return true, nil
}
