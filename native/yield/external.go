package yield

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentToken wraps the ERC-20 style deposit asset. Transfer reports the
// token-level success flag separately from transport errors so the engine can
// branch into its shortfall fallback on either outcome.
type PaymentToken interface {
	Address() common.Address
	Transfer(to common.Address, amount *big.Int) (bool, error)
	Approve(spender common.Address, amount *big.Int) error
	BalanceOf(owner common.Address) (*big.Int, error)
}

// ReceiptToken is the external protocol's interest-accruing receipt asset.
// Its balance tracks deposited principal plus accrued yield 1:1.
type ReceiptToken interface {
	Address() common.Address
	BalanceOf(owner common.Address) (*big.Int, error)
}

// LendingPool is the external lending protocol entry point. Withdraw returns
// a checked error when the protocol cannot honor the request; the engine
// converts that into buffer bookkeeping rather than propagating it.
type LendingPool interface {
	Address() common.Address
	Deposit(asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error
	Withdraw(asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
}

// PoolRegistry resolves the current lending pool endpoint. The registry may
// re-point the pool over time; RefreshPoolApproval consumes the new value.
type PoolRegistry interface {
	CurrentPool() (LendingPool, error)
}

// IncentivesController exposes the external protocol's reward stream for the
// engine's receipt-token holdings.
type IncentivesController interface {
	UnclaimedRewards(holder common.Address) (*big.Int, error)
	ClaimRewards(assets []common.Address, amount *big.Int, to common.Address) (*big.Int, error)
}
