package fund

import (
	"fmt"
	"math/big"
	"sync"
)

// VenueAMM identifies the automated market maker pool in the registry.
const VenueAMM = "amm"

// AMMPool is an automated market maker holding reserves of every
// registered asset and quoting swaps at the oracle rate. Unlike the
// order-book venues there is no counterparty and no resting state: a
// swap trades against the pool's reserves in a single step.
type AMMPool struct {
	addr   string
	ledger *TokenLedger
	oracle PriceSource
	mu     sync.Mutex
}

// NewAMMPool creates a pool with empty reserves.
func NewAMMPool(ledger *TokenLedger, oracle PriceSource) *AMMPool {
	return &AMMPool{
		addr:   "amm",
		ledger: ledger,
		oracle: oracle,
	}
}

// Address returns the pool's reserve account.
func (p *AMMPool) Address() string { return p.addr }

// AddLiquidity deposits reserves into the pool.
func (p *AMMPool) AddLiquidity(from, asset string, amount *big.Int) error {
	if !isValidAmount(amount) || amount.Sign() == 0 {
		return fmt.Errorf("liquidity amount must be positive")
	}
	return p.ledger.Transfer(asset, from, p.addr, amount)
}

// ExpectedReceive quotes the destination amount for swapping srcAmount of
// srcAsset, floor-rounded at the oracle rate.
func (p *AMMPool) ExpectedReceive(srcAsset string, srcAmount *big.Int, destAsset string) (*big.Int, error) {
	rate, fresh := p.oracle.GetRate(srcAsset, destAsset)
	if !fresh {
		return nil, fmt.Errorf("Price not recent")
	}
	return mulDivFloor(srcAmount, rate, WAD), nil
}

// Swap exchanges srcAmount of srcAsset for destAsset at the quoted rate.
// minReceive guards the taker against the quote moving between encoding
// and settlement; the delivered amount is returned.
func (p *AMMPool) Swap(taker, srcAsset string, srcAmount *big.Int, destAsset string, minReceive *big.Int) (*big.Int, error) {
	if !isValidAmount(srcAmount) || srcAmount.Sign() == 0 {
		return nil, fmt.Errorf("swap amount must be positive")
	}
	if srcAsset == destAsset {
		return nil, fmt.Errorf("cannot swap an asset for itself")
	}
	out, err := p.ExpectedReceive(srcAsset, srcAmount, destAsset)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 {
		return nil, fmt.Errorf("swap amount too small to receive anything")
	}
	if minReceive != nil && out.Cmp(minReceive) < 0 {
		return nil, fmt.Errorf("swap returns less than the acceptable quantity")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ledger.BalanceOf(destAsset, p.addr).Cmp(out) < 0 {
		return nil, fmt.Errorf("insufficient pool reserves for %s", destAsset)
	}
	if err := p.ledger.Transfer(srcAsset, taker, p.addr, srcAmount); err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(destAsset, p.addr, taker, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AMMAdapter is the pool shim. Args use the minimal layout: makerAsset,
// makerQuantity, takerAsset, takerQuantity, where makerQuantity is the
// minimum acceptable receive for takerQuantity paid.
type AMMAdapter struct {
	pool *AMMPool
}

// NewAMMAdapter creates the pool shim.
func NewAMMAdapter(pool *AMMPool) *AMMAdapter {
	return &AMMAdapter{pool: pool}
}

// Venue implements OrderTaker.
func (a *AMMAdapter) Venue() string { return VenueAMM }

// EncodeAMMTakeOrderArgs packs pool take-order args in the minimal layout.
func EncodeAMMTakeOrderArgs(makerAsset string, makerQuantity *big.Int, takerAsset string, takerQuantity *big.Int) ([]byte, error) {
	return EncodeTuple(LayoutMinimal, []interface{}{
		makerAsset, makerQuantity, takerAsset, takerQuantity,
	})
}

// ParseArgs implements OrderTaker.
func (a *AMMAdapter) ParseArgs(encoded []byte) (*TakeOrderArgs, error) {
	values, err := DecodeTuple(LayoutMinimal, encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid pool take order args: %w", err)
	}
	return &TakeOrderArgs{
		MakerAsset:    values[0].(string),
		MakerQuantity: values[1].(*big.Int),
		TakerAsset:    values[2].(string),
		TakerQuantity: values[3].(*big.Int),
	}, nil
}

// ValidateTakeOrderParams implements OrderTaker.
func (a *AMMAdapter) ValidateTakeOrderParams(v *Vault, args *TakeOrderArgs) error {
	if args.MakerAsset == args.TakerAsset {
		return fmt.Errorf("cannot swap an asset for itself")
	}
	if args.TakerQuantity.Sign() == 0 {
		return fmt.Errorf("swap amount must be positive")
	}
	return nil
}

// TakeOrder implements OrderTaker. The fill reports the amount the pool
// actually delivered, which floor rounding can put above the quoted
// minimum.
func (a *AMMAdapter) TakeOrder(v *Vault, args *TakeOrderArgs) (*OrderFill, error) {
	out, err := a.pool.Swap(v.Address(), args.TakerAsset, args.TakerQuantity, args.MakerAsset, args.MakerQuantity)
	if err != nil {
		return nil, err
	}
	return &OrderFill{
		BuyAsset:   args.MakerAsset,
		BuyAmount:  out,
		SellAsset:  args.TakerAsset,
		SellAmount: clone(args.TakerQuantity),
		FeeAssets:  []string{},
		FeeAmounts: []*big.Int{},
	}, nil
}
