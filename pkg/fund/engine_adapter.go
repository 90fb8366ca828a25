package fund

import (
	"fmt"
	"math/big"
)

// VenueEngine identifies the internal liquidity engine in the registry.
const VenueEngine = "engine"

// EngineAdapter is the shim between the vault and the internal liquidity
// engine. Args use the minimal layout: makerAsset, makerQuantity,
// takerAsset, takerQuantity.
type EngineAdapter struct {
	engine *Engine
}

// NewEngineAdapter creates the engine shim.
func NewEngineAdapter(engine *Engine) *EngineAdapter {
	return &EngineAdapter{engine: engine}
}

// Venue implements OrderTaker.
func (a *EngineAdapter) Venue() string { return VenueEngine }

// SnapshotVenue implements StatefulVenue, covering the frozen/liquid
// split and the freeze clock.
func (a *EngineAdapter) SnapshotVenue() func() {
	e := a.engine
	e.mu.Lock()
	frozen := new(big.Int).Set(e.frozen)
	liquid := new(big.Int).Set(e.liquid)
	freezeStart := e.freezeStart
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.frozen = frozen
		e.liquid = liquid
		e.freezeStart = freezeStart
	}
}

// EncodeEngineTakeOrderArgs packs engine take-order args in the minimal
// layout.
func EncodeEngineTakeOrderArgs(makerAsset string, makerQuantity *big.Int, takerAsset string, takerQuantity *big.Int) ([]byte, error) {
	return EncodeTuple(LayoutMinimal, []interface{}{
		makerAsset, makerQuantity, takerAsset, takerQuantity,
	})
}

// ParseArgs implements OrderTaker.
func (a *EngineAdapter) ParseArgs(encoded []byte) (*TakeOrderArgs, error) {
	values, err := DecodeTuple(LayoutMinimal, encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid engine take order args: %w", err)
	}
	return &TakeOrderArgs{
		MakerAsset:    values[0].(string),
		MakerQuantity: values[1].(*big.Int),
		TakerAsset:    values[2].(string),
		TakerQuantity: values[3].(*big.Int),
	}, nil
}

// ValidateTakeOrderParams implements OrderTaker. The engine only ever
// sells its native asset for its settlement asset, out of thawed
// liquidity.
func (a *EngineAdapter) ValidateTakeOrderParams(v *Vault, args *TakeOrderArgs) error {
	if args.MakerAsset != a.engine.NativeAsset() {
		return fmt.Errorf("maker asset does not match native asset")
	}
	if args.TakerAsset != a.engine.SettlementAsset() {
		return fmt.Errorf("taker asset does not match settlement asset")
	}
	if args.MakerQuantity.Cmp(a.engine.Liquid()) > 0 {
		return fmt.Errorf("Not enough liquid ether to send")
	}
	return nil
}

// TakeOrder implements OrderTaker.
func (a *EngineAdapter) TakeOrder(v *Vault, args *TakeOrderArgs) (*OrderFill, error) {
	if err := a.engine.Sell(v.Address(), args.MakerQuantity, args.TakerQuantity); err != nil {
		return nil, err
	}
	return &OrderFill{
		BuyAsset:   args.MakerAsset,
		BuyAmount:  clone(args.MakerQuantity),
		SellAsset:  args.TakerAsset,
		SellAmount: clone(args.TakerQuantity),
		FeeAssets:  []string{},
		FeeAmounts: []*big.Int{},
	}, nil
}
