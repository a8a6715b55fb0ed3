package credit

import (
	"errors"
	"testing"
)

type mockState struct {
	profiles map[[20]byte]*BuyerQuotaProfile
}

func newMockState() *mockState {
	return &mockState{profiles: make(map[[20]byte]*BuyerQuotaProfile)}
}

func (m *mockState) QuotaProfileGet(addr [20]byte) (*BuyerQuotaProfile, bool, error) {
	profile, ok := m.profiles[addr]
	if !ok {
		return nil, false, nil
	}
	return profile.Clone(), true, nil
}

func (m *mockState) QuotaProfilePut(addr [20]byte, profile *BuyerQuotaProfile) error {
	if profile == nil {
		return errors.New("nil profile")
	}
	m.profiles[addr] = profile.Clone()
	return nil
}

func newTestEngine(now int64) (*Engine, *mockState, *int64) {
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	clock := now
	engine.SetNowFunc(func() int64 { return clock })
	return engine, state, &clock
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestOccupyQuotaFirstTimeBuyer(t *testing.T) {
	engine, state, _ := newTestEngine(1_000)
	taker := testAddr(0x01)

	if err := engine.OccupyQuota(taker, FirstPurchaseQuota); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	profile := state.profiles[taker]
	if profile.OccupiedQuota != FirstPurchaseQuota || profile.AvailableQuota != 0 || profile.ActiveOrders != 1 {
		t.Fatalf("unexpected profile after occupy: %+v", profile)
	}

	// max_concurrent_orders is 1 for an unproven account.
	err := engine.OccupyQuota(taker, 1)
	if !errors.Is(err, ErrConcurrentOrderLimitExceeded) {
		t.Fatalf("expected ErrConcurrentOrderLimitExceeded, got %v", err)
	}
}

func TestOccupyQuotaExceeded(t *testing.T) {
	engine, state, _ := newTestEngine(1_000)
	taker := testAddr(0x01)
	before := NewProfile()
	before.CreditScore = 800
	before.TotalOrders = 3
	before.MaxQuota = MaxQuotaFor(800, 3)
	before.AvailableQuota = before.MaxQuota
	before.MaxConcurrentOrders = MaxConcurrentFor(3)
	state.profiles[taker] = before.Clone()

	err := engine.OccupyQuota(taker, 3_000_000_000)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	// Rejection leaves the stored profile untouched.
	if *state.profiles[taker] != *before {
		t.Fatalf("profile mutated on rejection: %+v", state.profiles[taker])
	}
}

func TestReleaseQuotaRestoresHeadroom(t *testing.T) {
	engine, state, _ := newTestEngine(1_000)
	taker := testAddr(0x01)

	if err := engine.OccupyQuota(taker, 4_000_000); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	if err := engine.ReleaseQuota(taker, 4_000_000); err != nil {
		t.Fatalf("release: %v", err)
	}
	profile := state.profiles[taker]
	if profile.OccupiedQuota != 0 || profile.ActiveOrders != 0 {
		t.Fatalf("quota not fully released: %+v", profile)
	}
	if profile.AvailableQuota != profile.MaxQuota {
		t.Fatalf("available = %d, want %d", profile.AvailableQuota, profile.MaxQuota)
	}
}

func TestReleaseQuotaNeverUnderflows(t *testing.T) {
	engine, state, _ := newTestEngine(1_000)
	taker := testAddr(0x01)

	if err := engine.ReleaseQuota(taker, 500); err != nil {
		t.Fatalf("release: %v", err)
	}
	profile := state.profiles[taker]
	if profile.OccupiedQuota != 0 || profile.ActiveOrders != 0 {
		t.Fatalf("counters underflowed: %+v", profile)
	}
	if profile.AvailableQuota > profile.MaxQuota {
		t.Fatalf("available %d exceeds ceiling %d", profile.AvailableQuota, profile.MaxQuota)
	}
}

func TestRecordOrderCompletedRaisesCeiling(t *testing.T) {
	engine, state, _ := newTestEngine(1_000)
	taker := testAddr(0x01)

	if err := engine.RecordOrderCompleted(taker, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}
	profile := state.profiles[taker]
	if profile.TotalOrders != 1 || profile.ConsecutiveGoodOrders != 1 {
		t.Fatalf("counters wrong: %+v", profile)
	}
	if profile.MaxQuota != MaxQuotaFor(profile.CreditScore, 1) {
		t.Fatalf("ceiling not recomputed: %+v", profile)
	}
}

func TestConsecutiveGoodOrdersRecovery(t *testing.T) {
	engine, state, _ := newTestEngine(1_000)
	taker := testAddr(0x01)

	for i := uint64(1); i <= 10; i++ {
		if err := engine.RecordOrderCompleted(taker, i); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
	}
	profile := state.profiles[taker]
	if profile.CreditScore != InitialScore+recoveryGoodOrdersScore {
		t.Fatalf("score = %d, want %d", profile.CreditScore, InitialScore+recoveryGoodOrdersScore)
	}
}

func TestThirdTimeoutSuspends(t *testing.T) {
	engine, state, clock := newTestEngine(1_000)
	taker := testAddr(0x01)
	timeout := Violation{Kind: ViolationPaymentTimeout, OrderID: 1}

	for i := 0; i < 3; i++ {
		if err := engine.RecordViolation(taker, timeout); err != nil {
			t.Fatalf("violation %d: %v", i, err)
		}
	}
	profile := state.profiles[taker]
	if !profile.IsSuspended {
		t.Fatalf("third timeout did not suspend: %+v", profile)
	}
	if profile.CreditScore != InitialScore-3*20 {
		t.Fatalf("score = %d, want %d", profile.CreditScore, InitialScore-3*20)
	}

	// Suspension blocks occupation even though numeric quota remains.
	err := engine.OccupyQuota(taker, 1)
	if !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("expected ErrAccountSuspended, got %v", err)
	}

	// Suspension lifts once the penalty window elapses.
	*clock += 8 * secondsPerDay
	if err := engine.OccupyQuota(taker, 1); err != nil {
		t.Fatalf("occupy after suspension lapsed: %v", err)
	}
}

func TestTimeoutQuotaCutLapsesWithoutSuspension(t *testing.T) {
	engine, state, clock := newTestEngine(1_000)
	taker := testAddr(0x01)
	profile := NewProfile()
	profile.CreditScore = 850
	profile.TotalOrders = 5
	profile.MaxQuota = MaxQuotaFor(850, 5)
	profile.AvailableQuota = profile.MaxQuota
	profile.MaxConcurrentOrders = MaxConcurrentFor(5)
	state.profiles[taker] = profile

	// A first timeout halves the quota but does not suspend.
	if err := engine.RecordViolation(taker, Violation{Kind: ViolationPaymentTimeout, OrderID: 7}); err != nil {
		t.Fatalf("violation: %v", err)
	}
	if state.profiles[taker].IsSuspended {
		t.Fatalf("first timeout must not suspend: %+v", state.profiles[taker])
	}
	available, err := engine.GetAvailableQuota(taker)
	if err != nil || available != 1_000_000_000 {
		t.Fatalf("available = (%d, %v), want halved 1000000000", available, err)
	}

	// The cut lapses after its seven-day window.
	*clock += 8 * secondsPerDay
	available, err = engine.GetAvailableQuota(taker)
	if err != nil || available != 2_000_000_000 {
		t.Fatalf("available = (%d, %v), want restored 2000000000", available, err)
	}
	if err := engine.OccupyQuota(taker, 1_500_000_000); err != nil {
		t.Fatalf("occupy after cut lapsed: %v", err)
	}
	if state.profiles[taker].PenaltyUntil != 0 {
		t.Fatalf("penalty window not cleared: %+v", state.profiles[taker])
	}
}

func TestDisputeLossZeroesQuota(t *testing.T) {
	engine, state, _ := newTestEngine(1_000)
	taker := testAddr(0x01)

	if err := engine.RecordViolation(taker, Violation{Kind: ViolationDisputeLoss, OrderID: 4}); err != nil {
		t.Fatalf("violation: %v", err)
	}
	profile := state.profiles[taker]
	if profile.AvailableQuota != 0 {
		t.Fatalf("available = %d, want 0", profile.AvailableQuota)
	}
	if !profile.IsSuspended || profile.SuspensionUntil != 1_000+30*secondsPerDay {
		t.Fatalf("suspension wrong: %+v", profile)
	}
}

func TestMaliciousThirdOccurrenceBlacklists(t *testing.T) {
	engine, state, clock := newTestEngine(1_000)
	taker := testAddr(0x01)

	err := engine.RecordViolation(taker, Violation{Kind: ViolationMaliciousBehavior, Occurrences: 3})
	if err != nil {
		t.Fatalf("violation: %v", err)
	}
	profile := state.profiles[taker]
	if !profile.IsBlacklisted || profile.AvailableQuota != 0 {
		t.Fatalf("blacklist not applied: %+v", profile)
	}
	if profile.CreditScore != InitialScore-100 {
		t.Fatalf("score = %d, want %d", profile.CreditScore, InitialScore-100)
	}

	if occErr := engine.OccupyQuota(taker, 1); !errors.Is(occErr, ErrAccountBlacklisted) {
		t.Fatalf("expected ErrAccountBlacklisted, got %v", occErr)
	}

	// Blacklist never lifts, no matter how much time passes.
	*clock += 365 * secondsPerDay
	if ok, _ := engine.TryRecover(taker); ok {
		t.Fatalf("blacklisted profile recovered")
	}
	if occErr := engine.OccupyQuota(taker, 1); !errors.Is(occErr, ErrAccountBlacklisted) {
		t.Fatalf("expected ErrAccountBlacklisted after a year, got %v", occErr)
	}
}

func TestTryRecoverAfterWindow(t *testing.T) {
	engine, state, clock := newTestEngine(1_000)
	taker := testAddr(0x01)

	if err := engine.RecordViolation(taker, Violation{Kind: ViolationPaymentTimeout, OrderID: 2}); err != nil {
		t.Fatalf("violation: %v", err)
	}
	scoreAfter := state.profiles[taker].CreditScore

	if ok, _ := engine.TryRecover(taker); ok {
		t.Fatalf("recovery fired inside window")
	}
	*clock += recoveryWindowDays * secondsPerDay
	ok, err := engine.TryRecover(taker)
	if err != nil || !ok {
		t.Fatalf("TryRecover = (%v, %v), want applied", ok, err)
	}
	profile := state.profiles[taker]
	if profile.CreditScore != scoreAfter+recoveryWindowScore {
		t.Fatalf("score = %d, want %d", profile.CreditScore, scoreAfter+recoveryWindowScore)
	}

	// The window restarts; an immediate second call applies nothing.
	if ok, _ := engine.TryRecover(taker); ok {
		t.Fatalf("recovery applied twice in one window")
	}
}

func TestCancelledOrderIsNeutral(t *testing.T) {
	engine, state, _ := newTestEngine(1_000)
	taker := testAddr(0x01)

	if err := engine.OccupyQuota(taker, 1_000_000); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	before := state.profiles[taker].Clone()
	if err := engine.RecordOrderCancelled(taker, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if *state.profiles[taker] != *before {
		t.Fatalf("cancellation mutated the profile: %+v", state.profiles[taker])
	}
}
