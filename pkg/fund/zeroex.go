package fund

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// Venue identifiers for the off-chain signed order books.
const (
	VenueZeroExV2 = "zeroex-v2"
	VenueZeroExV3 = "zeroex-v3"
)

// SignedOrder is an off-chain order created and signed by a maker, settled
// on-venue when a taker fills it. TakerFeeAsset is only meaningful on v3;
// v2 charges its fee in the venue's fixed fee asset.
type SignedOrder struct {
	Maker        string
	Taker        string // empty means open to any taker
	FeeRecipient string
	Sender       string // empty means any sender may submit

	MakerAsset       string
	TakerAsset       string
	MakerAssetAmount *big.Int
	TakerAssetAmount *big.Int
	MakerFee         *big.Int
	TakerFee         *big.Int
	TakerFeeAsset    string

	ExpirationTime uint64 // unix seconds
	Salt           uint64

	Signature []byte
}

// orderDigestLayout is the canonical tuple the order signature covers.
var orderDigestLayout = Layout{
	KindAddress, KindAddress, KindAddress, KindAddress,
	KindAddress, KindAddress, KindAddress, KindAddress,
	KindUint, KindUint, KindUint, KindUint, KindUint, KindUint,
}

// Digest returns the sha3 hash the maker signs, bound to one venue.
func (o *SignedOrder) Digest(venue string) ([32]byte, error) {
	encoded, err := EncodeTuple(orderDigestLayout, []interface{}{
		venue, o.Maker, o.Taker, o.FeeRecipient,
		o.Sender, o.MakerAsset, o.TakerAsset, o.TakerFeeAsset,
		o.MakerAssetAmount, o.TakerAssetAmount,
		clone(o.MakerFee), clone(o.TakerFee),
		new(big.Int).SetUint64(o.ExpirationTime),
		new(big.Int).SetUint64(o.Salt),
	})
	if err != nil {
		return [32]byte{}, err
	}
	return sha3.Sum256(encoded), nil
}

// Sign attaches the maker's signature over the order digest.
func (o *SignedOrder) Sign(venue string, key ed25519.PrivateKey) error {
	digest, err := o.Digest(venue)
	if err != nil {
		return err
	}
	o.Signature = ed25519.Sign(key, digest[:])
	return nil
}

// ZeroExVenueConfig carries the venue's deployment parameters.
type ZeroExVenueConfig struct {
	// Version selects the order family: 2 or 3.
	Version int
	// FeeAsset is the fixed taker fee asset on v2. Ignored on v3, where
	// each order names its own fee asset.
	FeeAsset string
	// ProtocolFeeAsset and ProtocolFeeAmount configure the flat per-fill
	// protocol fee charged on v3. Zero amount disables it.
	ProtocolFeeAsset  string
	ProtocolFeeAmount *big.Int
}

// ZeroExVenue settles off-chain signed orders. The maker pre-approves the
// venue over its sell balance; a fill pulls the maker side by allowance,
// pays the taker side directly and routes fees to the order's fee
// recipient. Partial fills fill the minimum of requested and remaining.
type ZeroExVenue struct {
	addr    string
	version int

	feeAsset          string
	protocolFeeAsset  string
	protocolFeeAmount *big.Int

	ledger  *TokenLedger
	signers map[string]ed25519.PublicKey
	filled  map[string]*big.Int // order digest hex -> taker amount filled
	now     func() time.Time
	mu      sync.Mutex
}

// NewZeroExVenue creates an empty venue.
func NewZeroExVenue(cfg ZeroExVenueConfig, ledger *TokenLedger) (*ZeroExVenue, error) {
	if cfg.Version != 2 && cfg.Version != 3 {
		return nil, fmt.Errorf("unsupported order family version %d", cfg.Version)
	}
	venue := &ZeroExVenue{
		addr:              fmt.Sprintf("zeroex-v%d", cfg.Version),
		version:           cfg.Version,
		feeAsset:          cfg.FeeAsset,
		protocolFeeAsset:  cfg.ProtocolFeeAsset,
		protocolFeeAmount: clone(cfg.ProtocolFeeAmount),
		ledger:            ledger,
		signers:           make(map[string]ed25519.PublicKey),
		filled:            make(map[string]*big.Int),
		now:               time.Now,
	}
	return venue, nil
}

// Address returns the venue's settlement account.
func (z *ZeroExVenue) Address() string { return z.addr }

// Version returns the order family version.
func (z *ZeroExVenue) Version() int { return z.version }

// RegisterSigner binds a maker address to its signing key.
func (z *ZeroExVenue) RegisterSigner(maker string, pub ed25519.PublicKey) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.signers[maker] = pub
}

// FilledAmount returns how much of the order's taker side has settled.
func (z *ZeroExVenue) FilledAmount(o *SignedOrder) (*big.Int, error) {
	digest, err := o.Digest(z.addr)
	if err != nil {
		return nil, err
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	if filled, ok := z.filled[hex.EncodeToString(digest[:])]; ok {
		return new(big.Int).Set(filled), nil
	}
	return big.NewInt(0), nil
}

// fillResult reports one settled fill.
type fillResult struct {
	TakerFilled *big.Int
	MakerFilled *big.Int
	FeePaid     *big.Int
	FeeAsset    string
	ProtocolFee *big.Int
}

// FillOrder settles a fill for the taker. Venue-side failures (expiry, bad
// signature, fully filled order) surface as errors the vault propagates
// verbatim.
func (z *ZeroExVenue) FillOrder(taker string, o *SignedOrder, fillTakerQuantity *big.Int) (*fillResult, error) {
	digest, err := o.Digest(z.addr)
	if err != nil {
		return nil, err
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	if o.ExpirationTime > 0 && uint64(z.now().Unix()) > o.ExpirationTime {
		return nil, fmt.Errorf("order has expired")
	}
	pub, ok := z.signers[o.Maker]
	if !ok || !ed25519.Verify(pub, digest[:], o.Signature) {
		return nil, fmt.Errorf("invalid order signature")
	}
	if !isValidAmount(fillTakerQuantity) || fillTakerQuantity.Sign() == 0 {
		return nil, fmt.Errorf("cannot fill zero taker quantity")
	}

	key := hex.EncodeToString(digest[:])
	already, ok := z.filled[key]
	if !ok {
		already = big.NewInt(0)
		z.filled[key] = already
	}
	remaining := new(big.Int).Sub(o.TakerAssetAmount, already)
	if remaining.Sign() <= 0 {
		return nil, fmt.Errorf("order is fully filled")
	}
	actual := new(big.Int).Set(fillTakerQuantity)
	if actual.Cmp(remaining) > 0 {
		actual.Set(remaining)
	}

	makerFilled := mulDivFloor(o.MakerAssetAmount, actual, o.TakerAssetAmount)
	feeAsset := z.feeAsset
	if z.version == 3 {
		feeAsset = o.TakerFeeAsset
	}
	// Fee owed to the protocol side rounds up.
	feePaid := big.NewInt(0)
	if o.TakerFee != nil && o.TakerFee.Sign() > 0 && feeAsset != "" {
		feePaid = mulDivCeil(o.TakerFee, actual, o.TakerAssetAmount)
	}

	if err := z.ledger.TransferFrom(o.MakerAsset, z.addr, o.Maker, taker, makerFilled); err != nil {
		return nil, err
	}
	if err := z.ledger.Transfer(o.TakerAsset, taker, o.Maker, actual); err != nil {
		return nil, err
	}
	if feePaid.Sign() > 0 {
		if err := z.ledger.Transfer(feeAsset, taker, o.FeeRecipient, feePaid); err != nil {
			return nil, err
		}
	}
	protocolFee := big.NewInt(0)
	if z.version == 3 && z.protocolFeeAmount != nil && z.protocolFeeAmount.Sign() > 0 {
		protocolFee = new(big.Int).Set(z.protocolFeeAmount)
		if err := z.ledger.Transfer(z.protocolFeeAsset, taker, z.addr, protocolFee); err != nil {
			return nil, err
		}
	}
	already.Add(already, actual)

	return &fillResult{
		TakerFilled: actual,
		MakerFilled: makerFilled,
		FeePaid:     feePaid,
		FeeAsset:    feeAsset,
		ProtocolFee: protocolFee,
	}, nil
}

// ZeroExAdapter is the signed-order-book shim, covering both the v2 and v3
// tuple layouts.
type ZeroExAdapter struct {
	venue *ZeroExVenue
}

// NewZeroExAdapter creates the signed-order-book shim.
func NewZeroExAdapter(venue *ZeroExVenue) *ZeroExAdapter {
	return &ZeroExAdapter{venue: venue}
}

// Venue implements OrderTaker.
func (a *ZeroExAdapter) Venue() string {
	if a.venue.version == 3 {
		return VenueZeroExV3
	}
	return VenueZeroExV2
}

// SnapshotVenue implements StatefulVenue, covering the fill tracker.
func (a *ZeroExAdapter) SnapshotVenue() func() {
	v := a.venue
	v.mu.Lock()
	filled := make(map[string]*big.Int, len(v.filled))
	for digest, amount := range v.filled {
		filled[digest] = new(big.Int).Set(amount)
	}
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.filled = filled
	}
}

func (a *ZeroExAdapter) layout() Layout {
	if a.venue.version == 3 {
		return LayoutZeroExV3
	}
	return LayoutZeroExV2
}

// EncodeZeroExTakeOrderArgs packs a signed order plus the taker fill
// quantity into the venue's tuple layout.
func EncodeZeroExTakeOrderArgs(version int, o *SignedOrder, fillTakerQuantity *big.Int) ([]byte, error) {
	values := []interface{}{
		o.Maker, o.Taker, o.FeeRecipient, o.Sender,
		clone(o.MakerAssetAmount), clone(o.TakerAssetAmount),
		clone(o.MakerFee), clone(o.TakerFee),
		new(big.Int).SetUint64(o.ExpirationTime),
		new(big.Int).SetUint64(o.Salt),
		clone(fillTakerQuantity),
		[]byte(o.MakerAsset), []byte(o.TakerAsset),
	}
	layout := LayoutZeroExV2
	if version == 3 {
		layout = LayoutZeroExV3
		// Maker fee asset slot is reserved and zero-filled.
		values = append(values, []byte{}, []byte(o.TakerFeeAsset))
	}
	values = append(values, o.Signature)
	return EncodeTuple(layout, values)
}

// ParseArgs implements OrderTaker.
func (a *ZeroExAdapter) ParseArgs(encoded []byte) (*TakeOrderArgs, error) {
	values, err := DecodeTuple(a.layout(), encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid signed order take order args: %w", err)
	}
	args := &TakeOrderArgs{
		Maker:         values[0].(string),
		Taker:         values[1].(string),
		FeeRecipient:  values[2].(string),
		Sender:        values[3].(string),
		MakerQuantity: values[4].(*big.Int),
		// Taker quantity carries the fill amount, not the order size.
		TakerQuantity: values[10].(*big.Int),
		MakerFee:      values[6].(*big.Int),
		TakerFee:      values[7].(*big.Int),
		Expiration:    values[8].(*big.Int).Uint64(),
		Salt:          values[9].(*big.Int).Uint64(),
		MakerAsset:    string(values[11].([]byte)),
		TakerAsset:    string(values[12].([]byte)),
	}
	args.OrderTakerAmount = values[5].(*big.Int)
	feeAsset := a.venue.feeAsset
	if a.venue.version == 3 {
		feeAsset = string(values[14].([]byte))
		args.Signature = values[15].([]byte)
	} else {
		args.Signature = values[13].([]byte)
	}
	if args.TakerFee.Sign() > 0 && feeAsset != "" {
		args.FeeAssets = []string{feeAsset}
		args.FeeAmounts = []*big.Int{clone(args.TakerFee)}
	}
	return args, nil
}

// ValidateTakeOrderParams implements OrderTaker.
func (a *ZeroExAdapter) ValidateTakeOrderParams(v *Vault, args *TakeOrderArgs) error {
	if args.Taker != "" && args.Taker != v.Address() {
		return fmt.Errorf("order taker does not match fund vault")
	}
	if args.Sender != "" && args.Sender != v.Address() {
		return fmt.Errorf("order sender does not match fund vault")
	}
	if args.TakerQuantity.Sign() == 0 {
		return fmt.Errorf("cannot fill zero taker quantity")
	}
	return nil
}

// TakeOrder implements OrderTaker. The fill reports settled amounts, which
// a partial fill prorates.
func (a *ZeroExAdapter) TakeOrder(v *Vault, args *TakeOrderArgs) (*OrderFill, error) {
	order := a.orderFromArgs(args)
	result, err := a.venue.FillOrder(v.Address(), order, args.TakerQuantity)
	if err != nil {
		return nil, err
	}

	fill := &OrderFill{
		BuyAsset:   order.MakerAsset,
		BuyAmount:  result.MakerFilled,
		SellAsset:  order.TakerAsset,
		SellAmount: result.TakerFilled,
		FeeAssets:  []string{},
		FeeAmounts: []*big.Int{},
	}
	if result.FeePaid.Sign() > 0 {
		fill.FeeAssets = append(fill.FeeAssets, result.FeeAsset)
		fill.FeeAmounts = append(fill.FeeAmounts, result.FeePaid)
	}
	if result.ProtocolFee.Sign() > 0 {
		fill.FeeAssets = append(fill.FeeAssets, a.venue.protocolFeeAsset)
		fill.FeeAmounts = append(fill.FeeAmounts, result.ProtocolFee)
	}
	return fill, nil
}

func (a *ZeroExAdapter) orderFromArgs(args *TakeOrderArgs) *SignedOrder {
	order := &SignedOrder{
		Maker:            args.Maker,
		Taker:            args.Taker,
		FeeRecipient:     args.FeeRecipient,
		Sender:           args.Sender,
		MakerAsset:       args.MakerAsset,
		TakerAsset:       args.TakerAsset,
		MakerAssetAmount: args.MakerQuantity,
		TakerAssetAmount: args.OrderTakerAmount,
		MakerFee:         args.MakerFee,
		TakerFee:         args.TakerFee,
		ExpirationTime:   args.Expiration,
		Salt:             args.Salt,
		Signature:        args.Signature,
	}
	if a.venue.version == 3 && len(args.FeeAssets) > 0 {
		order.TakerFeeAsset = args.FeeAssets[0]
	}
	return order
}
