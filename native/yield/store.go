package yield

import (
	"fmt"
	"math/big"
)

// Storage abstracts the subset of state manager functionality required by
// the yield engine's durable counters.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	reservesKey = []byte("yield/reserves")
	configKey   = []byte("yield/config")
)

type storedReserves struct {
	TreasuryWei  *big.Int
	ShortfallWei *big.Int
	MarketBound  bool
}

// Store persists the engine's reserves and configuration record in the
// underlying key-value store. It satisfies the engine's state interface.
type Store struct {
	store Storage
}

// NewStore constructs a store bound to the provided storage backend.
func NewStore(store Storage) *Store {
	return &Store{store: store}
}

// ReservesGet loads the durable counters. A missing record yields a
// zero-valued Reserves so a fresh deployment starts consistent.
func (s *Store) ReservesGet() (*Reserves, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("yield store: not initialised")
	}
	var stored storedReserves
	ok, err := s.store.KVGet(reservesKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return ensureReserves(nil), nil
	}
	res := &Reserves{
		TreasuryWei:  stored.TreasuryWei,
		ShortfallWei: stored.ShortfallWei,
		MarketBound:  stored.MarketBound,
	}
	return ensureReserves(res), nil
}

// ReservesPut writes the durable counters.
func (s *Store) ReservesPut(res *Reserves) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("yield store: not initialised")
	}
	res = ensureReserves(res)
	return s.store.KVPut(reservesKey, &storedReserves{
		TreasuryWei:  res.TreasuryWei,
		ShortfallWei: res.ShortfallWei,
		MarketBound:  res.MarketBound,
	})
}

// ConfigGet loads the stored configuration record, migrating older versions
// to the current layout before returning.
func (s *Store) ConfigGet() (*ConfigRecord, bool, error) {
	if s == nil || s.store == nil {
		return nil, false, fmt.Errorf("yield store: not initialised")
	}
	var stored ConfigRecord
	ok, err := s.store.KVGet(configKey, &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	migrated, err := MigrateConfigRecord(&stored)
	if err != nil {
		return nil, false, err
	}
	return migrated, true, nil
}

// ConfigPut persists the configuration record at the current version.
func (s *Store) ConfigPut(rec *ConfigRecord) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("yield store: not initialised")
	}
	if rec == nil {
		return fmt.Errorf("yield store: config record must not be nil")
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	clone := *rec
	clone.Version = ConfigVersion
	return s.store.KVPut(configKey, &clone)
}
