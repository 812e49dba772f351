package yield

import "math/big"

// Reserves captures the durable counters owned by the yield engine: the
// portion of the external balance earmarked for the treasury, the running
// shortfall owed to the market, and the one-shot market binding flag.
type Reserves struct {
	TreasuryWei  *big.Int
	ShortfallWei *big.Int
	MarketBound  bool
}

// Clone returns a deep copy so callers can mutate the copy without touching
// the stored instance.
func (r *Reserves) Clone() *Reserves {
	if r == nil {
		return nil
	}
	clone := &Reserves{MarketBound: r.MarketBound}
	if r.TreasuryWei != nil {
		clone.TreasuryWei = new(big.Int).Set(r.TreasuryWei)
	}
	if r.ShortfallWei != nil {
		clone.ShortfallWei = new(big.Int).Set(r.ShortfallWei)
	}
	return clone
}

// EnsureDefaults populates nil big.Int fields so arithmetic and RLP handling
// are safe.
func (r *Reserves) EnsureDefaults() {
	if r.TreasuryWei == nil {
		r.TreasuryWei = big.NewInt(0)
	}
	if r.ShortfallWei == nil {
		r.ShortfallWei = big.NewInt(0)
	}
}

func ensureReserves(r *Reserves) *Reserves {
	if r == nil {
		r = &Reserves{}
	}
	r.EnsureDefaults()
	return r
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
