package aave

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"xsauce/native/yield"
)

// errExecutionReverted marks a transaction that was mined but failed, as
// reported by its receipt status.
var errExecutionReverted = errors.New("aave: execution reverted")

// Backend is the chain client surface the bindings require. An
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Binder bundles the chain backend, the signing transactor, and the receipt
// wait budget shared by every bound contract.
type Binder struct {
	backend Backend
	opts    *bind.TransactOpts
	timeout time.Duration
}

// NewBinder constructs a binder. The timeout bounds every call and the wait
// for each transaction receipt.
func NewBinder(backend Backend, opts *bind.TransactOpts, timeout time.Duration) (*Binder, error) {
	if backend == nil {
		return nil, fmt.Errorf("aave: backend required")
	}
	if opts == nil {
		return nil, fmt.Errorf("aave: transact opts required")
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Binder{backend: backend, opts: opts, timeout: timeout}, nil
}

func (b *Binder) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx}
}

func (b *Binder) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

// transact submits the method call and waits for its receipt. A reverted
// receipt is surfaced as an error so engine callers observe a checked
// failure rather than a silently mined no-op.
func (b *Binder) transact(contract *bind.BoundContract, method string, params ...interface{}) error {
	ctx, cancel := b.context()
	defer cancel()
	opts := *b.opts
	opts.Context = ctx
	tx, err := contract.Transact(&opts, method, params...)
	if err != nil {
		return fmt.Errorf("aave: %s: %w", method, err)
	}
	receipt, err := bind.WaitMined(ctx, b.backend, tx)
	if err != nil {
		return fmt.Errorf("aave: %s: wait receipt: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s (tx %s)", errExecutionReverted, method, tx.Hash().Hex())
	}
	return nil
}

func parseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("aave: invalid embedded ABI: %v", err))
	}
	return parsed
}

var (
	parsedERC20      = parseABI(erc20ABI)
	parsedPool       = parseABI(poolABI)
	parsedProvider   = parseABI(addressesProviderABI)
	parsedIncentives = parseABI(incentivesABI)
)

// ERC20 binds the payment asset. It implements yield.PaymentToken.
type ERC20 struct {
	address  common.Address
	contract *bind.BoundContract
	binder   *Binder
}

// NewERC20 binds the token at the supplied address.
func NewERC20(address common.Address, binder *Binder) *ERC20 {
	return &ERC20{
		address:  address,
		contract: bind.NewBoundContract(address, parsedERC20, binder.backend, binder.backend, binder.backend),
		binder:   binder,
	}
}

func (t *ERC20) Address() common.Address { return t.address }

// Transfer submits an ERC-20 transfer. A reverted transfer is the token
// reporting failure: the boolean is false and the error nil so callers can
// branch into their compensating path. Tokens that signal failure by
// returning false without reverting are reported as success here, since the
// return value is not recoverable from the receipt; only reverting tokens
// are supported as the payment asset.
func (t *ERC20) Transfer(to common.Address, amount *big.Int) (bool, error) {
	err := t.binder.transact(t.contract, "transfer", to, amount)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errExecutionReverted) {
		return false, nil
	}
	return false, err
}

// Approve grants the spender an allowance over the token.
func (t *ERC20) Approve(spender common.Address, amount *big.Int) error {
	return t.binder.transact(t.contract, "approve", spender, amount)
}

// BalanceOf reads the owner's token balance.
func (t *ERC20) BalanceOf(owner common.Address) (*big.Int, error) {
	ctx, cancel := t.binder.context()
	defer cancel()
	var results []interface{}
	if err := t.contract.Call(t.binder.callOpts(ctx), &results, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("aave: balanceOf: %w", err)
	}
	return *abi.ConvertType(results[0], new(*big.Int)).(**big.Int), nil
}

// AToken binds the interest-accruing receipt token. It implements
// yield.ReceiptToken.
type AToken struct {
	address  common.Address
	contract *bind.BoundContract
	binder   *Binder
}

// NewAToken binds the receipt token at the supplied address.
func NewAToken(address common.Address, binder *Binder) *AToken {
	return &AToken{
		address:  address,
		contract: bind.NewBoundContract(address, parsedERC20, binder.backend, binder.backend, binder.backend),
		binder:   binder,
	}
}

func (t *AToken) Address() common.Address { return t.address }

// BalanceOf reads the owner's receipt balance (principal plus accrued
// yield).
func (t *AToken) BalanceOf(owner common.Address) (*big.Int, error) {
	ctx, cancel := t.binder.context()
	defer cancel()
	var results []interface{}
	if err := t.contract.Call(t.binder.callOpts(ctx), &results, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("aave: aToken balanceOf: %w", err)
	}
	return *abi.ConvertType(results[0], new(*big.Int)).(**big.Int), nil
}

// Pool binds the lending pool. It implements yield.LendingPool.
type Pool struct {
	address  common.Address
	contract *bind.BoundContract
	binder   *Binder
}

// NewPool binds the pool at the supplied address.
func NewPool(address common.Address, binder *Binder) *Pool {
	return &Pool{
		address:  address,
		contract: bind.NewBoundContract(address, parsedPool, binder.backend, binder.backend, binder.backend),
		binder:   binder,
	}
}

func (p *Pool) Address() common.Address { return p.address }

// Deposit supplies the asset to the pool, crediting onBehalfOf with the
// receipt token.
func (p *Pool) Deposit(asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error {
	return p.binder.transact(p.contract, "deposit", asset, amount, onBehalfOf, referralCode)
}

// Withdraw redeems the asset from the pool to the supplied recipient. The
// pool's returned amount is not observable from the receipt, so the
// requested amount is echoed on success.
func (p *Pool) Withdraw(asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if err := p.binder.transact(p.contract, "withdraw", asset, amount, to); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// AddressesProvider binds the pool address registry. It implements
// yield.PoolRegistry.
type AddressesProvider struct {
	address  common.Address
	contract *bind.BoundContract
	binder   *Binder
}

// NewAddressesProvider binds the registry at the supplied address.
func NewAddressesProvider(address common.Address, binder *Binder) *AddressesProvider {
	return &AddressesProvider{
		address:  address,
		contract: bind.NewBoundContract(address, parsedProvider, binder.backend, binder.backend, binder.backend),
		binder:   binder,
	}
}

func (r *AddressesProvider) Address() common.Address { return r.address }

// CurrentPool resolves the registry's current lending pool endpoint.
func (r *AddressesProvider) CurrentPool() (yield.LendingPool, error) {
	ctx, cancel := r.binder.context()
	defer cancel()
	var results []interface{}
	if err := r.contract.Call(r.binder.callOpts(ctx), &results, "getLendingPool"); err != nil {
		return nil, fmt.Errorf("aave: getLendingPool: %w", err)
	}
	poolAddr := *abi.ConvertType(results[0], new(common.Address)).(*common.Address)
	if poolAddr == (common.Address{}) {
		return nil, fmt.Errorf("aave: registry returned zero pool address")
	}
	return NewPool(poolAddr, r.binder), nil
}

// RewardsController binds the incentives controller. It implements
// yield.IncentivesController.
type RewardsController struct {
	address  common.Address
	contract *bind.BoundContract
	binder   *Binder
}

// NewRewardsController binds the controller at the supplied address.
func NewRewardsController(address common.Address, binder *Binder) *RewardsController {
	return &RewardsController{
		address:  address,
		contract: bind.NewBoundContract(address, parsedIncentives, binder.backend, binder.backend, binder.backend),
		binder:   binder,
	}
}

func (c *RewardsController) Address() common.Address { return c.address }

// UnclaimedRewards reads the rewards accrued for the holder.
func (c *RewardsController) UnclaimedRewards(holder common.Address) (*big.Int, error) {
	ctx, cancel := c.binder.context()
	defer cancel()
	var results []interface{}
	if err := c.contract.Call(c.binder.callOpts(ctx), &results, "getUserUnclaimedRewards", holder); err != nil {
		return nil, fmt.Errorf("aave: getUserUnclaimedRewards: %w", err)
	}
	return *abi.ConvertType(results[0], new(*big.Int)).(**big.Int), nil
}

// ClaimRewards claims the amount for the supplied assets, paying out to the
// recipient. The requested amount is echoed on success; callers treating the
// value as an upper bound match the controller's semantics.
func (c *RewardsController) ClaimRewards(assets []common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if err := c.binder.transact(c.contract, "claimRewards", assets, amount, to); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}
