package fund

import (
	"fmt"
	"math/big"
	"sync"
)

// TakeOrderArgs is the canonical decoded shape every adapter produces from
// its venue's tuple. Fields a venue does not use stay zero-valued.
type TakeOrderArgs struct {
	MakerAsset    string
	MakerQuantity *big.Int
	TakerAsset    string
	TakerQuantity *big.Int

	FeeAssets  []string
	FeeAmounts []*big.Int

	// Counterparty fields for signed-order venues.
	Maker        string
	Taker        string
	FeeRecipient string
	Sender       string

	// Resting order id for on-chain order books.
	OrderID uint64

	// Signed-order fields. OrderTakerAmount is the full taker-side size
	// of the resting order; TakerQuantity carries the fill amount.
	OrderTakerAmount *big.Int
	MakerFee         *big.Int
	TakerFee         *big.Int
	Expiration       uint64
	Salt             uint64
	Nonce            uint64
	Signature        []byte
}

// OrderFill is an adapter's normalized report of what actually settled.
// Partial-fill venues report the filled amounts, not the requested ones.
type OrderFill struct {
	BuyAsset   string
	BuyAmount  *big.Int
	SellAsset  string
	SellAmount *big.Int
	FeeAssets  []string
	FeeAmounts []*big.Int
}

// OrderTaker is the uniform take-order contract one shim per venue
// implements. The vault treats every implementation as untrusted and
// verifies custody deltas against the returned fill itself.
type OrderTaker interface {
	// Venue returns the registry identifier of the venue.
	Venue() string
	// ParseArgs decodes the venue's positional tuple into canonical form.
	ParseArgs(encoded []byte) (*TakeOrderArgs, error)
	// ValidateTakeOrderParams runs venue-specific precondition checks.
	// The reason string propagates verbatim to the vault's caller.
	ValidateTakeOrderParams(v *Vault, args *TakeOrderArgs) error
	// TakeOrder settles the trade against the venue and reports the fill.
	TakeOrder(v *Vault, args *TakeOrderArgs) (*OrderFill, error)
}

// StatefulVenue is implemented by adapters whose venue keeps bookkeeping
// outside the token ledger: resting offers, fill trackers, spent nonces,
// engine liquidity. The vault snapshots that state together with the
// ledger so an aborted call leaves no venue-side residue behind.
type StatefulVenue interface {
	// SnapshotVenue captures the venue's internal state and returns a
	// function that restores it.
	SnapshotVenue() (restore func())
}

// AdapterRegistry maps venue identifiers to their adapters. It is built at
// startup and only read at call time; the settlement core never mutates it.
type AdapterRegistry struct {
	adapters map[string]OrderTaker
	mu       sync.RWMutex
}

// NewAdapterRegistry creates an empty registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[string]OrderTaker)}
}

// Register adds an adapter under its venue identifier.
func (r *AdapterRegistry) Register(a OrderTaker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	venue := a.Venue()
	if _, exists := r.adapters[venue]; exists {
		return fmt.Errorf("adapter for venue %s already registered", venue)
	}
	r.adapters[venue] = a
	return nil
}

// Resolve looks up the adapter for a venue at call time.
func (r *AdapterRegistry) Resolve(venue string) (OrderTaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[venue]
	if !ok {
		return nil, fmt.Errorf("unknown integration adapter: %s", venue)
	}
	return a, nil
}

// Venues lists the registered venue identifiers.
func (r *AdapterRegistry) Venues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.adapters))
	for venue := range r.adapters {
		out = append(out, venue)
	}
	return out
}
