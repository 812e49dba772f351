package yield

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"xsauce/core/events"
	nativecommon "xsauce/native/common"
)

var (
	ErrNilState          = errors.New("yield engine: state not configured")
	ErrNotConfigured     = errors.New("yield engine: collaborators not configured")
	ErrAlreadyConfigured = errors.New("yield engine: collaborators already configured")
	ErrUnauthorized      = errors.New("yield engine: caller is not the bound market")
	ErrMarketBound       = errors.New("yield engine: market already bound")
	ErrMarketNotBound    = errors.New("yield engine: market not bound")
	ErrInvalidAmount     = errors.New("yield engine: amount must be positive")
	ErrInvalidShare      = errors.New("yield engine: treasury share outside [0, 1e18]")
	ErrLedgerDrift       = errors.New("yield engine: external balance below accounted liabilities")
	ErrShortfallExceeded = errors.New("yield engine: payout exceeds recorded shortfall")
)

// wad is the 1e18 fixed-point scale used for the treasury yield share.
var wad = big.NewInt(1_000_000_000_000_000_000)

// maxApproval is the unlimited ERC-20 allowance granted to the lending pool.
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

const moduleName = "yield"

type engineState interface {
	ReservesGet() (*Reserves, error)
	ReservesPut(*Reserves) error
}

// Engine routes deposited value into an external lending protocol and splits
// the accrued yield between a treasury reserve and the bound market. All
// mutating operations are driven by the market; the engine never initiates
// external actions on its own.
//
// Operations are serialized: mu covers every read-modify-write on the
// durable counters and the pool endpoint, so overlapping calls observe each
// other's updates in full.
type Engine struct {
	mu sync.Mutex

	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView

	self     common.Address
	market   common.Address
	treasury common.Address

	payment    PaymentToken
	receipt    ReceiptToken
	pool       LendingPool
	registry   PoolRegistry
	incentives IncentivesController

	referralCode uint16
}

// NewEngine constructs a yield engine identified to the external protocol by
// the supplied custody address. Collaborators are wired via Configure.
func NewEngine(self common.Address) *Engine {
	return &Engine{
		self:    self,
		emitter: events.NoopEmitter{},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the administrative pause view consulted by every mutating
// operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// EngineConfig carries the collaborator set wired exactly once at
// initialisation time.
type EngineConfig struct {
	Market       common.Address
	Treasury     common.Address
	Payment      PaymentToken
	Receipt      ReceiptToken
	Registry     PoolRegistry
	Incentives   IncentivesController
	ReferralCode uint16
}

// Configure wires the engine's collaborators and grants the current lending
// pool an unlimited allowance over the payment asset. The operation is
// one-shot: repeated calls fail without touching state.
func (e *Engine) Configure(cfg EngineConfig) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.payment != nil {
		return ErrAlreadyConfigured
	}
	if cfg.Market == (common.Address{}) || cfg.Treasury == (common.Address{}) {
		return fmt.Errorf("%w: market and treasury addresses required", ErrNotConfigured)
	}
	if cfg.Payment == nil || cfg.Receipt == nil || cfg.Registry == nil || cfg.Incentives == nil {
		return fmt.Errorf("%w: payment, receipt, registry and incentives required", ErrNotConfigured)
	}
	pool, err := cfg.Registry.CurrentPool()
	if err != nil {
		return fmt.Errorf("yield engine: resolve pool: %w", err)
	}
	if err := cfg.Payment.Approve(pool.Address(), maxApproval); err != nil {
		return fmt.Errorf("yield engine: approve pool: %w", err)
	}
	e.market = cfg.Market
	e.treasury = cfg.Treasury
	e.payment = cfg.Payment
	e.receipt = cfg.Receipt
	e.registry = cfg.Registry
	e.incentives = cfg.Incentives
	e.pool = pool
	e.referralCode = cfg.ReferralCode
	return nil
}

// Market returns the bound market address.
func (e *Engine) Market() common.Address { return e.market }

// Treasury returns the treasury address funds and rewards are routed to.
func (e *Engine) Treasury() common.Address { return e.treasury }

// Reserves returns a copy of the engine's durable counters.
func (e *Engine) Reserves() (*Reserves, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.state.ReservesGet()
	if err != nil {
		return nil, err
	}
	return ensureReserves(res).Clone(), nil
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.payment == nil {
		return ErrNotConfigured
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// requireMarket loads the reserves and enforces the caller-identity check
// shared by every gateway and distribution operation.
func (e *Engine) requireMarket(caller common.Address) (*Reserves, error) {
	res, err := e.state.ReservesGet()
	if err != nil {
		return nil, err
	}
	res = ensureReserves(res)
	if !res.MarketBound {
		return nil, ErrMarketNotBound
	}
	if caller != e.market {
		return nil, ErrUnauthorized
	}
	return res, nil
}

// BindMarket activates the engine for its configured market. The binding is
// one-shot; a second call fails with the first binding intact.
func (e *Engine) BindMarket(caller common.Address) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.market {
		return ErrUnauthorized
	}
	res, err := e.state.ReservesGet()
	if err != nil {
		return err
	}
	res = ensureReserves(res)
	if res.MarketBound {
		return ErrMarketBound
	}
	res.MarketBound = true
	return e.state.ReservesPut(res)
}

// DepositPaymentToken nets the incoming amount against any recorded
// shortfall and forwards the remainder to the external lending pool. When
// the buffer fully covers the deposit the external protocol is not touched:
// the incoming value simply cancels a previously recorded IOU.
func (e *Engine) DepositPaymentToken(caller common.Address, amount *big.Int) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	res, err := e.requireMarket(caller)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	remaining := cloneBigInt(amount)
	netted := false
	prev := res.Clone()
	if res.ShortfallWei.Sign() > 0 {
		if res.ShortfallWei.Cmp(remaining) >= 0 {
			res.ShortfallWei = new(big.Int).Sub(res.ShortfallWei, remaining)
			return e.state.ReservesPut(res)
		}
		remaining = remaining.Sub(remaining, res.ShortfallWei)
		res.ShortfallWei = big.NewInt(0)
		netted = true
		// Counters settle before the external call so a reentrant
		// observer never sees the cancelled shortfall.
		if err := e.state.ReservesPut(res); err != nil {
			return err
		}
	}
	if err := e.pool.Deposit(e.payment.Address(), remaining, e.self, e.referralCode); err != nil {
		if netted {
			// The deposit did not land; the netted shortfall is still
			// owed to the market.
			if restoreErr := e.state.ReservesPut(prev); restoreErr != nil {
				return fmt.Errorf("yield engine: restore shortfall after failed deposit: %w", restoreErr)
			}
		}
		return fmt.Errorf("yield engine: pool deposit: %w", err)
	}
	return nil
}

// TransferPaymentTokensToUser pays a user from the engine's direct
// payment-token balance, falling back to a pool withdrawal that consumes the
// recorded shortfall when the direct transfer cannot complete. Failure of the
// fallback withdrawal is the one hard-error path: the caller must retry once
// the protocol regains liquidity.
func (e *Engine) TransferPaymentTokensToUser(caller, user common.Address, amount *big.Int) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	res, err := e.requireMarket(caller)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	ok, err := e.payment.Transfer(user, amount)
	if err == nil && ok {
		return nil
	}
	if res.ShortfallWei.Cmp(amount) < 0 {
		return ErrShortfallExceeded
	}
	prev := res.Clone()
	res.ShortfallWei = new(big.Int).Sub(res.ShortfallWei, amount)
	if err := e.state.ReservesPut(res); err != nil {
		return err
	}
	if _, err := e.pool.Withdraw(e.payment.Address(), amount, user); err != nil {
		// The payout did not happen; the shortfall is still owed.
		if restoreErr := e.state.ReservesPut(prev); restoreErr != nil {
			return fmt.Errorf("yield engine: restore shortfall after failed payout: %w", restoreErr)
		}
		return fmt.Errorf("yield engine: payout withdrawal: %w", err)
	}
	return nil
}

// RemovePaymentTokenFromMarket withdraws the amount from the external pool
// into the engine's own custody. When the pool cannot honor the withdrawal
// the amount is recorded in the shortfall buffer instead of failing: the
// system keeps operating and the IOU is paid down by future deposits or
// payout-path withdrawals.
func (e *Engine) RemovePaymentTokenFromMarket(caller common.Address, amount *big.Int) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	res, err := e.requireMarket(caller)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, err := e.pool.Withdraw(e.payment.Address(), amount, e.self); err != nil {
		res.ShortfallWei = new(big.Int).Add(res.ShortfallWei, amount)
		return e.state.ReservesPut(res)
	}
	return nil
}

// DistributeYield reconciles the external receipt-token balance against the
// known liabilities and splits any excess between the treasury reserve and
// the market. The treasury amount floors; the remainder rounds in the
// market's favour. The returned amount is the market's allocation, which the
// caller credits to its own accounting.
func (e *Engine) DistributeYield(caller common.Address, totalRealizedWei, treasuryShareWad *big.Int) (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	res, err := e.requireMarket(caller)
	if err != nil {
		return nil, err
	}
	if totalRealizedWei == nil || totalRealizedWei.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if treasuryShareWad == nil || treasuryShareWad.Sign() < 0 || treasuryShareWad.Cmp(wad) > 0 {
		return nil, ErrInvalidShare
	}
	totalHeld, err := e.receipt.BalanceOf(e.self)
	if err != nil {
		return nil, fmt.Errorf("yield engine: receipt balance: %w", err)
	}
	accounted := new(big.Int).Add(totalRealizedWei, res.TreasuryWei)
	accounted = accounted.Add(accounted, res.ShortfallWei)
	switch totalHeld.Cmp(accounted) {
	case 0:
		return big.NewInt(0), nil
	case -1:
		// Either the external protocol misbehaved or the caller supplied
		// an overstated realized value. Fail loudly instead of
		// underflowing.
		return nil, ErrLedgerDrift
	}
	unrealized := new(big.Int).Sub(totalHeld, accounted)
	forTreasury := new(big.Int).Mul(unrealized, treasuryShareWad)
	forTreasury = forTreasury.Quo(forTreasury, wad)
	forMarket := new(big.Int).Sub(unrealized, forTreasury)
	res.TreasuryWei = new(big.Int).Add(res.TreasuryWei, forTreasury)
	if err := e.state.ReservesPut(res); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.YieldDistributed{
		UnrealizedWei:    unrealized,
		TreasuryShareWad: cloneBigInt(treasuryShareWad),
	})
	return forMarket, nil
}

// WithdrawTreasuryFunds pays the accumulated reserve from the external pool
// to the treasury address. Anyone may invoke it: funds can only reach the
// fixed treasury. The reserve is zeroed before the external call and written
// back when the withdrawal fails, so a failed attempt never loses the
// earmarked amount.
func (e *Engine) WithdrawTreasuryFunds() (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	res, err := e.state.ReservesGet()
	if err != nil {
		return nil, err
	}
	res = ensureReserves(res)
	amount := cloneBigInt(res.TreasuryWei)
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	prev := res.Clone()
	res.TreasuryWei = big.NewInt(0)
	if err := e.state.ReservesPut(res); err != nil {
		return nil, err
	}
	if _, err := e.pool.Withdraw(e.payment.Address(), amount, e.treasury); err != nil {
		if restoreErr := e.state.ReservesPut(prev); restoreErr != nil {
			return nil, fmt.Errorf("yield engine: restore treasury reserve after failed withdrawal: %w", restoreErr)
		}
		return nil, fmt.Errorf("yield engine: treasury withdrawal: %w", err)
	}
	e.emitter.Emit(events.YieldTreasuryWithdrawn{AmountWei: amount})
	return amount, nil
}

// ClaimRewards pulls the unclaimed incentive rewards owed for the engine's
// receipt-token holdings and directs the payout to the treasury. Rewards are
// a separate value stream from the payment-token yield; no internal counter
// is touched.
func (e *Engine) ClaimRewards() (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	unclaimed, err := e.incentives.UnclaimedRewards(e.self)
	if err != nil {
		return nil, fmt.Errorf("yield engine: unclaimed rewards: %w", err)
	}
	if unclaimed == nil || unclaimed.Sign() == 0 {
		return big.NewInt(0), nil
	}
	claimed, err := e.incentives.ClaimRewards([]common.Address{e.receipt.Address()}, unclaimed, e.treasury)
	if err != nil {
		return nil, fmt.Errorf("yield engine: claim rewards: %w", err)
	}
	e.emitter.Emit(events.YieldRewardsClaimed{AmountWei: cloneBigInt(claimed), Treasury: e.treasury})
	return cloneBigInt(claimed), nil
}

// RefreshPoolApproval re-resolves the lending pool from the registry and
// grants the returned endpoint an unlimited allowance over the payment
// asset. Maintenance operation for registry re-pointing; a no-op approval of
// the unchanged pool is harmless.
func (e *Engine) RefreshPoolApproval() error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	pool, err := e.registry.CurrentPool()
	if err != nil {
		return fmt.Errorf("yield engine: resolve pool: %w", err)
	}
	if err := e.payment.Approve(pool.Address(), maxApproval); err != nil {
		return fmt.Errorf("yield engine: approve pool: %w", err)
	}
	e.pool = pool
	return nil
}
