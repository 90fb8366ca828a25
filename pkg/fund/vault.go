package fund

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/log"
)

// Vault is the exclusive custodian of a fund's token holdings. Trades go
// out through CallOnIntegration, which treats every adapter as untrusted:
// it snapshots custody before the call and independently verifies that the
// realized balance deltas equal the adapter's reported fill.
type Vault struct {
	hub    *Hub
	addr   string
	logger log.Logger

	// Serializes integration calls; custody must not move concurrently
	// with the pre/post reconciliation window.
	mu sync.Mutex
}

func newVault(h *Hub) *Vault {
	return &Vault{
		hub:    h,
		addr:   h.name + "/vault",
		logger: h.logger.New("module", "vault"),
	}
}

// Address returns the vault's custody account.
func (v *Vault) Address() string { return v.addr }

// Hub returns the owning hub.
func (v *Vault) Hub() *Hub { return v.hub }

// Ledger returns the token ledger custody moves through.
func (v *Vault) Ledger() *TokenLedger { return v.hub.ledger }

// Holdings returns the vault's non-zero balances, the sole source of truth
// for the fund's net asset value.
func (v *Vault) Holdings() map[string]*big.Int {
	return v.hub.ledger.BalancesOf(v.addr)
}

// CallOnIntegration executes a take-order against a registered venue
// adapter. Restricted to the fund manager. Any validation or venue error
// propagates verbatim; a custody delta that does not match the reported
// fill aborts the whole call with every intermediate effect rolled back.
func (v *Vault) CallOnIntegration(caller, venue string, encodedArgs []byte) (*OrderFill, error) {
	if caller != v.hub.manager {
		return nil, fmt.Errorf("Only the fund manager can call this")
	}
	if v.hub.IsShutDown() {
		return nil, fmt.Errorf("Cannot trade in a shut down fund")
	}

	adapter, err := v.hub.registry.Resolve(venue)
	if err != nil {
		return nil, err
	}
	args, err := adapter.ParseArgs(encodedArgs)
	if err != nil {
		return nil, err
	}
	if err := adapter.ValidateTakeOrderParams(v, args); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	snap := v.hub.ledger.Snapshot()
	restoreVenue := func() {}
	if sv, ok := adapter.(StatefulVenue); ok {
		restoreVenue = sv.SnapshotVenue()
	}
	rollback := func() {
		v.hub.ledger.Restore(snap)
		restoreVenue()
	}

	fill, err := adapter.TakeOrder(v, args)
	if err != nil {
		rollback()
		return nil, err
	}
	if fill == nil {
		rollback()
		return nil, fmt.Errorf("adapter returned no fill")
	}
	if len(fill.FeeAssets) != len(fill.FeeAmounts) {
		rollback()
		return nil, fmt.Errorf("adapter fee report length mismatch")
	}

	if err := v.reconcile(snap, args, fill); err != nil {
		rollback()
		return nil, err
	}

	v.hub.events.Emit(EventOrderFilled, OrderFilled{
		Venue:      venue,
		BuyAsset:   fill.BuyAsset,
		BuyAmount:  clone(fill.BuyAmount),
		SellAsset:  fill.SellAsset,
		SellAmount: clone(fill.SellAmount),
		FeeAssets:  append([]string(nil), fill.FeeAssets...),
		FeeAmounts: cloneAmounts(fill.FeeAmounts),
	})
	v.logger.Info("order filled",
		"venue", venue,
		"buyAsset", fill.BuyAsset,
		"buyAmount", fill.BuyAmount.String(),
		"sellAsset", fill.SellAsset,
		"sellAmount", fill.SellAmount.String())
	return fill, nil
}

// reconcile asserts that for every touched asset the observed post-trade
// balance delta equals exactly what the fill reports. Equality, not bounds:
// a silent gain is as fatal as a silent loss.
func (v *Vault) reconcile(pre *LedgerSnapshot, args *TakeOrderArgs, fill *OrderFill) error {
	assets := touchedAssets(args, fill)

	expected := make(map[string]*big.Int, len(assets))
	for _, asset := range assets {
		expected[asset] = big.NewInt(0)
	}
	expected[fill.BuyAsset].Add(expected[fill.BuyAsset], fill.BuyAmount)
	expected[fill.SellAsset].Sub(expected[fill.SellAsset], fill.SellAmount)
	for i, feeAsset := range fill.FeeAssets {
		expected[feeAsset].Sub(expected[feeAsset], fill.FeeAmounts[i])
	}

	for _, asset := range assets {
		post := v.hub.ledger.BalanceOf(asset, v.addr)
		delta := post.Sub(post, pre.BalanceOf(asset, v.addr))
		if delta.Cmp(expected[asset]) != 0 {
			return fmt.Errorf("post-trade balance does not match reported fill for %s: delta %s, reported %s",
				asset, delta.String(), expected[asset].String())
		}
	}
	return nil
}

// touchedAssets collects every asset referenced by the call args and, once
// available, the reported fill. Assets a misbehaving adapter touches but
// never declares are caught by the assets it must declare to settle at all.
func touchedAssets(args *TakeOrderArgs, fill *OrderFill) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(asset string) {
		if asset != "" && !seen[asset] {
			seen[asset] = true
			out = append(out, asset)
		}
	}
	add(args.MakerAsset)
	add(args.TakerAsset)
	for _, a := range args.FeeAssets {
		add(a)
	}
	if fill != nil {
		add(fill.BuyAsset)
		add(fill.SellAsset)
		for _, a := range fill.FeeAssets {
			add(a)
		}
	}
	return out
}

func cloneAmounts(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, n := range in {
		out[i] = clone(n)
	}
	return out
}
