package yield

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"xsauce/core/events"
	nativecommon "xsauce/native/common"
)

type mockState struct {
	res  *Reserves
	puts int
}

func (m *mockState) ReservesGet() (*Reserves, error) {
	if m.res == nil {
		return nil, nil
	}
	return m.res.Clone(), nil
}

func (m *mockState) ReservesPut(res *Reserves) error {
	m.res = res.Clone()
	m.puts++
	return nil
}

type mockPool struct {
	addr           common.Address
	held           *big.Int
	failDeposit    bool
	failWithdraw   bool
	depositCalls   int
	lastDeposit    *big.Int
	withdrawCalls  int
	lastWithdrawTo common.Address
}

func (p *mockPool) Address() common.Address { return p.addr }

func (p *mockPool) Deposit(_ common.Address, amount *big.Int, _ common.Address, _ uint16) error {
	if p.failDeposit {
		return fmt.Errorf("pool: deposit rejected")
	}
	p.depositCalls++
	p.lastDeposit = new(big.Int).Set(amount)
	p.held.Add(p.held, amount)
	return nil
}

func (p *mockPool) Withdraw(_ common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if p.failWithdraw {
		return nil, fmt.Errorf("pool: insufficient liquidity")
	}
	if p.held.Cmp(amount) < 0 {
		return nil, fmt.Errorf("pool: insufficient balance")
	}
	p.withdrawCalls++
	p.lastWithdrawTo = to
	p.held.Sub(p.held, amount)
	return new(big.Int).Set(amount), nil
}

type mockReceipt struct {
	addr common.Address
	pool *mockPool
}

func (r *mockReceipt) Address() common.Address { return r.addr }

func (r *mockReceipt) BalanceOf(common.Address) (*big.Int, error) {
	return new(big.Int).Set(r.pool.held), nil
}

type mockPayment struct {
	addr        common.Address
	transferOK  bool
	transferErr error
	transfers   int
	approvals   []common.Address
}

func (t *mockPayment) Address() common.Address { return t.addr }

func (t *mockPayment) Transfer(common.Address, *big.Int) (bool, error) {
	t.transfers++
	return t.transferOK, t.transferErr
}

func (t *mockPayment) Approve(spender common.Address, _ *big.Int) error {
	t.approvals = append(t.approvals, spender)
	return nil
}

func (t *mockPayment) BalanceOf(common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

type mockRegistry struct {
	pool LendingPool
}

func (r *mockRegistry) CurrentPool() (LendingPool, error) { return r.pool, nil }

type mockIncentives struct {
	unclaimed  *big.Int
	claimCalls int
	claimedTo  common.Address
}

func (i *mockIncentives) UnclaimedRewards(common.Address) (*big.Int, error) {
	return new(big.Int).Set(i.unclaimed), nil
}

func (i *mockIncentives) ClaimRewards(_ []common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	i.claimCalls++
	i.claimedTo = to
	return new(big.Int).Set(amount), nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[len(addr)-1] = suffix
	return addr
}

var (
	selfAddr     = makeAddress(0x01)
	marketAddr   = makeAddress(0x02)
	treasuryAddr = makeAddress(0x03)
	userAddr     = makeAddress(0x04)
	strangerAddr = makeAddress(0x05)
)

type fixture struct {
	engine     *Engine
	state      *mockState
	pool       *mockPool
	payment    *mockPayment
	incentives *mockIncentives
	emitter    *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool := &mockPool{addr: makeAddress(0x10), held: big.NewInt(0)}
	payment := &mockPayment{addr: makeAddress(0x11), transferOK: true}
	incentives := &mockIncentives{unclaimed: big.NewInt(0)}
	state := &mockState{}
	emitter := &recordingEmitter{}

	engine := NewEngine(selfAddr)
	engine.SetState(state)
	engine.SetEmitter(emitter)
	if err := engine.Configure(EngineConfig{
		Market:     marketAddr,
		Treasury:   treasuryAddr,
		Payment:    payment,
		Receipt:    &mockReceipt{addr: makeAddress(0x12), pool: pool},
		Registry:   &mockRegistry{pool: pool},
		Incentives: incentives,
	}); err != nil {
		t.Fatalf("configure engine: %v", err)
	}
	return &fixture{
		engine:     engine,
		state:      state,
		pool:       pool,
		payment:    payment,
		incentives: incentives,
		emitter:    emitter,
	}
}

func newBoundFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	if err := f.engine.BindMarket(marketAddr); err != nil {
		t.Fatalf("bind market: %v", err)
	}
	return f
}

func (f *fixture) setReserves(t *testing.T, treasury, shortfall int64) {
	t.Helper()
	res := &Reserves{
		TreasuryWei:  big.NewInt(treasury),
		ShortfallWei: big.NewInt(shortfall),
		MarketBound:  true,
	}
	if f.state.res != nil {
		res.MarketBound = f.state.res.MarketBound
	}
	f.state.res = res
}

func TestBindMarketOneShot(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.BindMarket(strangerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized bind, got %v", err)
	}
	if err := f.engine.BindMarket(marketAddr); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := f.engine.BindMarket(marketAddr); !errors.Is(err, ErrMarketBound) {
		t.Fatalf("expected double-bind rejection, got %v", err)
	}
	if !f.state.res.MarketBound {
		t.Fatalf("first binding lost")
	}
}

func TestOperationsRequireBinding(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(100)); !errors.Is(err, ErrMarketNotBound) {
		t.Fatalf("expected not-bound rejection, got %v", err)
	}
}

func TestUnauthorizedCallersLeaveStateUntouched(t *testing.T) {
	f := newBoundFixture(t)
	f.setReserves(t, 50, 70)
	puts := f.state.puts

	if err := f.engine.DepositPaymentToken(strangerAddr, big.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("deposit: expected unauthorized, got %v", err)
	}
	if err := f.engine.TransferPaymentTokensToUser(strangerAddr, userAddr, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("payout: expected unauthorized, got %v", err)
	}
	if err := f.engine.RemovePaymentTokenFromMarket(strangerAddr, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("remove: expected unauthorized, got %v", err)
	}
	if _, err := f.engine.DistributeYield(strangerAddr, big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("distribute: expected unauthorized, got %v", err)
	}

	if f.state.puts != puts {
		t.Fatalf("unauthorized call mutated state")
	}
	if f.pool.depositCalls != 0 || f.pool.withdrawCalls != 0 {
		t.Fatalf("unauthorized call reached the pool")
	}
	if f.state.res.TreasuryWei.Cmp(big.NewInt(50)) != 0 || f.state.res.ShortfallWei.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("reserves changed: %+v", f.state.res)
	}
}

func TestDepositNetsFullBuffer(t *testing.T) {
	f := newBoundFixture(t)
	f.setReserves(t, 0, 500)
	if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if f.state.res.ShortfallWei.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected shortfall: %s", f.state.res.ShortfallWei)
	}
	if f.pool.depositCalls != 0 {
		t.Fatalf("external deposit invoked for fully netted amount")
	}
}

func TestDepositNetsPartialBuffer(t *testing.T) {
	f := newBoundFixture(t)
	f.setReserves(t, 0, 100)
	if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if f.state.res.ShortfallWei.Sign() != 0 {
		t.Fatalf("expected shortfall cleared, got %s", f.state.res.ShortfallWei)
	}
	if f.pool.depositCalls != 1 || f.pool.lastDeposit.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected external deposit of 200, got %d calls, last %v", f.pool.depositCalls, f.pool.lastDeposit)
	}
}

func TestDepositForwardsWithoutBuffer(t *testing.T) {
	f := newBoundFixture(t)
	if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if f.pool.lastDeposit.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected forwarded amount: %v", f.pool.lastDeposit)
	}
	if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestDepositRestoresBufferOnPoolFailure(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.failDeposit = true
	f.setReserves(t, 0, 100)
	if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(300)); err == nil {
		t.Fatalf("expected failure when the pool rejects the deposit")
	}
	if f.state.res.ShortfallWei.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("shortfall not restored after failed deposit: %s", f.state.res.ShortfallWei)
	}
	// A retry with the pool recovered nets the buffer again and forwards
	// the same remainder.
	f.pool.failDeposit = false
	if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(300)); err != nil {
		t.Fatalf("retry deposit: %v", err)
	}
	if f.state.res.ShortfallWei.Sign() != 0 {
		t.Fatalf("expected shortfall cleared on retry, got %s", f.state.res.ShortfallWei)
	}
	if f.pool.lastDeposit.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("retry forwarded %s, want 200", f.pool.lastDeposit)
	}
}

func TestRemoveAbsorbsShortfall(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.failWithdraw = true
	if err := f.engine.RemovePaymentTokenFromMarket(marketAddr, big.NewInt(400)); err != nil {
		t.Fatalf("expected graceful degradation, got %v", err)
	}
	if f.state.res.ShortfallWei.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected shortfall: %s", f.state.res.ShortfallWei)
	}
}

func TestRemoveWithdrawsToSelf(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.held = big.NewInt(1000)
	if err := f.engine.RemovePaymentTokenFromMarket(marketAddr, big.NewInt(400)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if f.pool.lastWithdrawTo != selfAddr {
		t.Fatalf("withdraw routed to %s, want engine custody", f.pool.lastWithdrawTo)
	}
	if f.state.res.ShortfallWei.Sign() != 0 {
		t.Fatalf("successful withdrawal recorded a shortfall")
	}
	if f.pool.held.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected pool balance: %s", f.pool.held)
	}
}

func TestPayoutDirectTransfer(t *testing.T) {
	f := newBoundFixture(t)
	f.setReserves(t, 0, 400)
	if err := f.engine.TransferPaymentTokensToUser(marketAddr, userAddr, big.NewInt(100)); err != nil {
		t.Fatalf("payout: %v", err)
	}
	if f.pool.withdrawCalls != 0 {
		t.Fatalf("direct transfer should not touch the pool")
	}
	if f.state.res.ShortfallWei.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("direct transfer touched the shortfall buffer: %s", f.state.res.ShortfallWei)
	}
}

func TestPayoutFallbackConsumesShortfall(t *testing.T) {
	f := newBoundFixture(t)
	f.payment.transferOK = false
	f.pool.held = big.NewInt(1000)
	f.setReserves(t, 0, 400)
	if err := f.engine.TransferPaymentTokensToUser(marketAddr, userAddr, big.NewInt(400)); err != nil {
		t.Fatalf("payout fallback: %v", err)
	}
	if f.state.res.ShortfallWei.Sign() != 0 {
		t.Fatalf("expected shortfall consumed, got %s", f.state.res.ShortfallWei)
	}
	if f.pool.lastWithdrawTo != userAddr {
		t.Fatalf("fallback withdrawal routed to %s, want user", f.pool.lastWithdrawTo)
	}
}

func TestPayoutFallbackRestoresOnFailure(t *testing.T) {
	f := newBoundFixture(t)
	f.payment.transferOK = false
	f.pool.failWithdraw = true
	f.setReserves(t, 0, 400)
	err := f.engine.TransferPaymentTokensToUser(marketAddr, userAddr, big.NewInt(400))
	if err == nil {
		t.Fatalf("expected hard failure when fallback withdrawal fails")
	}
	if f.state.res.ShortfallWei.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("shortfall not restored after failed payout: %s", f.state.res.ShortfallWei)
	}
}

func TestPayoutRejectsBeyondShortfall(t *testing.T) {
	f := newBoundFixture(t)
	f.payment.transferOK = false
	f.setReserves(t, 0, 100)
	if err := f.engine.TransferPaymentTokensToUser(marketAddr, userAddr, big.NewInt(200)); !errors.Is(err, ErrShortfallExceeded) {
		t.Fatalf("expected shortfall-exceeded rejection, got %v", err)
	}
}

func TestDistributeNoNewYield(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.held = big.NewInt(1000)
	f.setReserves(t, 100, 0)
	share := big.NewInt(200_000_000_000_000_000)
	for i := 0; i < 3; i++ {
		forMarket, err := f.engine.DistributeYield(marketAddr, big.NewInt(900), share)
		if err != nil {
			t.Fatalf("distribute %d: %v", i, err)
		}
		if forMarket.Sign() != 0 {
			t.Fatalf("distribute %d: expected 0, got %s", i, forMarket)
		}
	}
	if f.state.res.TreasuryWei.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("no-op distribution changed the reserve: %s", f.state.res.TreasuryWei)
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("no-op distribution emitted events: %v", f.emitter.events)
	}
}

func TestDistributeSplitsYield(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.held = big.NewInt(1150)
	f.setReserves(t, 0, 0)
	share := big.NewInt(200_000_000_000_000_000)
	forMarket, err := f.engine.DistributeYield(marketAddr, big.NewInt(900), share)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if forMarket.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected market allocation: %s", forMarket)
	}
	if f.state.res.TreasuryWei.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected treasury reserve: %s", f.state.res.TreasuryWei)
	}
	if len(f.emitter.events) != 1 {
		t.Fatalf("expected one distribution event, got %d", len(f.emitter.events))
	}
	evt, ok := f.emitter.events[0].(events.YieldDistributed)
	if !ok {
		t.Fatalf("unexpected event type %T", f.emitter.events[0])
	}
	if evt.UnrealizedWei.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unexpected unrealized yield in event: %s", evt.UnrealizedWei)
	}
}

func TestDistributeRemainderFavoursMarket(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.held = big.NewInt(1003)
	f.setReserves(t, 0, 0)
	// 3 wei of yield at 50%: treasury floors to 1, market takes 2.
	forMarket, err := f.engine.DistributeYield(marketAddr, big.NewInt(1000), big.NewInt(500_000_000_000_000_000))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if forMarket.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("unexpected market allocation: %s", forMarket)
	}
	if f.state.res.TreasuryWei.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("unexpected treasury reserve: %s", f.state.res.TreasuryWei)
	}
}

func TestDistributeFailsOnLedgerDrift(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.held = big.NewInt(800)
	f.setReserves(t, 100, 0)
	if _, err := f.engine.DistributeYield(marketAddr, big.NewInt(900), big.NewInt(0)); !errors.Is(err, ErrLedgerDrift) {
		t.Fatalf("expected ledger drift, got %v", err)
	}
	if f.state.res.TreasuryWei.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed distribution mutated the reserve")
	}
}

func TestDistributeValidatesShare(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.held = big.NewInt(1100)
	over := new(big.Int).Add(wad, big.NewInt(1))
	if _, err := f.engine.DistributeYield(marketAddr, big.NewInt(1000), over); !errors.Is(err, ErrInvalidShare) {
		t.Fatalf("expected share rejection, got %v", err)
	}
	if _, err := f.engine.DistributeYield(marketAddr, big.NewInt(1000), big.NewInt(-1)); !errors.Is(err, ErrInvalidShare) {
		t.Fatalf("expected negative share rejection, got %v", err)
	}
}

func TestTreasuryWithdrawal(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.held = big.NewInt(500)
	f.setReserves(t, 80, 0)
	amount, err := f.engine.WithdrawTreasuryFunds()
	if err != nil {
		t.Fatalf("treasury withdrawal: %v", err)
	}
	if amount.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("unexpected amount: %s", amount)
	}
	if f.state.res.TreasuryWei.Sign() != 0 {
		t.Fatalf("reserve not zeroed: %s", f.state.res.TreasuryWei)
	}
	if f.pool.lastWithdrawTo != treasuryAddr {
		t.Fatalf("withdrawal routed to %s, want treasury", f.pool.lastWithdrawTo)
	}
	if len(f.emitter.events) != 1 {
		t.Fatalf("expected withdrawal event")
	}
}

func TestTreasuryWithdrawalRestoresOnFailure(t *testing.T) {
	f := newBoundFixture(t)
	f.pool.failWithdraw = true
	f.setReserves(t, 80, 0)
	if _, err := f.engine.WithdrawTreasuryFunds(); err == nil {
		t.Fatalf("expected failure when the pool refuses the withdrawal")
	}
	if f.state.res.TreasuryWei.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("reserve lost after failed withdrawal: %s", f.state.res.TreasuryWei)
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("failed withdrawal emitted an event")
	}
}

func TestTreasuryWithdrawalEmptyReserve(t *testing.T) {
	f := newBoundFixture(t)
	amount, err := f.engine.WithdrawTreasuryFunds()
	if err != nil {
		t.Fatalf("treasury withdrawal: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("unexpected amount: %s", amount)
	}
	if f.pool.withdrawCalls != 0 {
		t.Fatalf("empty reserve reached the pool")
	}
}

func TestClaimRewards(t *testing.T) {
	f := newBoundFixture(t)
	f.incentives.unclaimed = big.NewInt(123)
	claimed, err := f.engine.ClaimRewards()
	if err != nil {
		t.Fatalf("claim rewards: %v", err)
	}
	if claimed.Cmp(big.NewInt(123)) != 0 {
		t.Fatalf("unexpected claimed amount: %s", claimed)
	}
	if f.incentives.claimedTo != treasuryAddr {
		t.Fatalf("rewards routed to %s, want treasury", f.incentives.claimedTo)
	}
	if len(f.emitter.events) != 1 {
		t.Fatalf("expected claim event")
	}
}

func TestClaimRewardsNothingUnclaimed(t *testing.T) {
	f := newBoundFixture(t)
	claimed, err := f.engine.ClaimRewards()
	if err != nil {
		t.Fatalf("claim rewards: %v", err)
	}
	if claimed.Sign() != 0 {
		t.Fatalf("unexpected claimed amount: %s", claimed)
	}
	if f.incentives.claimCalls != 0 {
		t.Fatalf("empty claim reached the controller")
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("empty claim emitted an event")
	}
}

func TestRefreshPoolApproval(t *testing.T) {
	f := newBoundFixture(t)
	newPool := &mockPool{addr: makeAddress(0x20), held: big.NewInt(0)}
	f.engine.registry = &mockRegistry{pool: newPool}
	if err := f.engine.RefreshPoolApproval(); err != nil {
		t.Fatalf("refresh approval: %v", err)
	}
	last := f.payment.approvals[len(f.payment.approvals)-1]
	if last != newPool.addr {
		t.Fatalf("approval granted to %s, want new pool", last)
	}
	if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(10)); err != nil {
		t.Fatalf("deposit after re-pointing: %v", err)
	}
	if newPool.depositCalls != 1 {
		t.Fatalf("deposit did not reach the re-pointed pool")
	}
}

type pausedView struct{}

func (pausedView) IsPaused(module string) bool { return module == moduleName }

func TestPauseGuardBlocksMutations(t *testing.T) {
	f := newBoundFixture(t)
	f.engine.SetPauses(pausedView{})
	if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause rejection, got %v", err)
	}
	if _, err := f.engine.WithdrawTreasuryFunds(); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause rejection, got %v", err)
	}
}

// TestConservationInvariant drives a scripted interleaving of deposits,
// removals, payouts, shortfalls, distributions and treasury withdrawals
// against the simulated protocol and checks after every step that the
// external balance covers realized value plus reserve plus shortfall.
func TestConservationInvariant(t *testing.T) {
	f := newBoundFixture(t)
	realized := big.NewInt(0)
	share := big.NewInt(200_000_000_000_000_000)

	check := func(step string) {
		t.Helper()
		accounted := new(big.Int).Add(realized, f.state.res.TreasuryWei)
		accounted.Add(accounted, f.state.res.ShortfallWei)
		if f.pool.held.Cmp(accounted) < 0 {
			t.Fatalf("%s: invariant violated: held %s < accounted %s", step, f.pool.held, accounted)
		}
	}

	deposit := func(amount int64) {
		t.Helper()
		if err := f.engine.DepositPaymentToken(marketAddr, big.NewInt(amount)); err != nil {
			t.Fatalf("deposit %d: %v", amount, err)
		}
		realized.Add(realized, big.NewInt(amount))
		check(fmt.Sprintf("deposit %d", amount))
	}
	remove := func(amount int64) {
		t.Helper()
		if err := f.engine.RemovePaymentTokenFromMarket(marketAddr, big.NewInt(amount)); err != nil {
			t.Fatalf("remove %d: %v", amount, err)
		}
		realized.Sub(realized, big.NewInt(amount))
		check(fmt.Sprintf("remove %d", amount))
	}
	distribute := func() {
		t.Helper()
		forMarket, err := f.engine.DistributeYield(marketAddr, realized, share)
		if err != nil {
			t.Fatalf("distribute: %v", err)
		}
		realized.Add(realized, forMarket)
		check("distribute")
	}
	accrue := func(amount int64) {
		f.pool.held.Add(f.pool.held, big.NewInt(amount))
		check(fmt.Sprintf("accrue %d", amount))
	}

	deposit(1000)
	accrue(100)
	distribute()
	remove(200)
	if err := f.engine.TransferPaymentTokensToUser(marketAddr, userAddr, big.NewInt(200)); err != nil {
		t.Fatalf("payout: %v", err)
	}
	check("payout")

	f.pool.failWithdraw = true
	remove(300)
	f.pool.failWithdraw = false

	deposit(250)
	accrue(50)
	distribute()

	if _, err := f.engine.WithdrawTreasuryFunds(); err != nil {
		t.Fatalf("treasury withdrawal: %v", err)
	}
	check("treasury withdrawal")
}
