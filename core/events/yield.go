package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeYieldDistributed      = "yield.distributed"
	TypeYieldRewardsClaimed   = "yield.rewards_claimed"
	TypeYieldTreasuryWithdraw = "yield.treasury_withdrawn"
)

// YieldDistributed is emitted when unrealized yield is split between the
// treasury reserve and the market.
type YieldDistributed struct {
	UnrealizedWei    *big.Int
	TreasuryShareWad *big.Int
}

func (YieldDistributed) EventType() string { return TypeYieldDistributed }

// Attributes returns the canonical string form of the event payload.
func (e YieldDistributed) Attributes() map[string]string {
	return map[string]string{
		"unrealizedYield":  formatAmount(e.UnrealizedWei),
		"treasuryShareWad": formatAmount(e.TreasuryShareWad),
	}
}

// YieldRewardsClaimed is emitted when incentive rewards are claimed from the
// external protocol and forwarded to the treasury.
type YieldRewardsClaimed struct {
	AmountWei *big.Int
	Treasury  common.Address
}

func (YieldRewardsClaimed) EventType() string { return TypeYieldRewardsClaimed }

// Attributes returns the canonical string form of the event payload.
func (e YieldRewardsClaimed) Attributes() map[string]string {
	return map[string]string{
		"amount":   formatAmount(e.AmountWei),
		"treasury": e.Treasury.Hex(),
	}
}

// YieldTreasuryWithdrawn is emitted when the accumulated treasury reserve is
// paid out from the external protocol to the treasury address.
type YieldTreasuryWithdrawn struct {
	AmountWei *big.Int
}

func (YieldTreasuryWithdrawn) EventType() string { return TypeYieldTreasuryWithdraw }

// Attributes returns the canonical string form of the event payload.
func (e YieldTreasuryWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"amount": formatAmount(e.AmountWei),
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
