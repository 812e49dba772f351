package yield

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ConfigVersion is the current layout version of the stored configuration
// record. Older records are upgraded explicitly by MigrateConfigRecord;
// records from a newer layout are rejected.
const ConfigVersion = 2

// ConfigRecord pins the engine's collaborator addresses in durable state so
// a restart (or a re-deployment of the operator service) can detect
// configuration drift instead of silently re-wiring the engine. Version 1
// predates the referral code passthrough.
type ConfigRecord struct {
	Version      uint32
	Market       common.Address
	Treasury     common.Address
	PaymentToken common.Address
	ReceiptToken common.Address
	PoolRegistry common.Address
	Incentives   common.Address
	ReferralCode uint16 `rlp:"optional"`
}

// Validate ensures every collaborator address is set.
func (c *ConfigRecord) Validate() error {
	if c == nil {
		return fmt.Errorf("yield config: record must not be nil")
	}
	fields := []struct {
		name string
		addr common.Address
	}{
		{"market", c.Market},
		{"treasury", c.Treasury},
		{"paymentToken", c.PaymentToken},
		{"receiptToken", c.ReceiptToken},
		{"poolRegistry", c.PoolRegistry},
		{"incentives", c.Incentives},
	}
	for _, f := range fields {
		if f.addr == (common.Address{}) {
			return fmt.Errorf("yield config: %s address required", f.name)
		}
	}
	return nil
}

// Matches reports whether two records describe the same wiring, ignoring the
// layout version.
func (c *ConfigRecord) Matches(other *ConfigRecord) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Market == other.Market &&
		c.Treasury == other.Treasury &&
		c.PaymentToken == other.PaymentToken &&
		c.ReceiptToken == other.ReceiptToken &&
		c.PoolRegistry == other.PoolRegistry &&
		c.Incentives == other.Incentives &&
		c.ReferralCode == other.ReferralCode
}

// MigrateConfigRecord upgrades a stored record to the current layout. The
// upgrade path is explicit per version; there is no implicit layout
// compatibility across versions.
func MigrateConfigRecord(rec *ConfigRecord) (*ConfigRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("yield config: record must not be nil")
	}
	clone := *rec
	switch clone.Version {
	case ConfigVersion:
		return &clone, nil
	case 1:
		// v1 records carried no referral code; deposits forwarded the
		// zero code, which version 2 stores explicitly.
		clone.ReferralCode = 0
		clone.Version = ConfigVersion
		return &clone, nil
	default:
		return nil, fmt.Errorf("yield config: unsupported record version %d", clone.Version)
	}
}
