package fund

import (
	"crypto/ed25519"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// VenueAirSwap identifies the off-chain matched swap venue in the registry.
const VenueAirSwap = "airswap"

// SwapOrder is a bilateral, full-fill-only swap matched off-chain: the
// maker signs terms naming a specific sender (taker). Nonces make each
// order single-use. AffiliateAmount must be zero when Affiliate is empty;
// the amount does not survive the wire round-trip without an affiliate.
type SwapOrder struct {
	Maker       string
	MakerAsset  string
	Sender      string
	SenderAsset string
	Affiliate   string
	Signatory   string

	Nonce           uint64
	Expiry          uint64 // unix seconds
	MakerAmount     *big.Int
	SenderAmount    *big.Int
	AffiliateAmount *big.Int

	Signature []byte
}

var swapDigestLayout = Layout{
	KindAddress, KindAddress, KindAddress, KindAddress, KindAddress, KindAddress,
	KindUint, KindUint, KindUint, KindUint, KindUint,
}

// Digest returns the sha3 hash the signatory signs.
func (o *SwapOrder) Digest(venue string) ([32]byte, error) {
	encoded, err := EncodeTuple(swapDigestLayout, []interface{}{
		venue, o.Maker, o.MakerAsset, o.Sender, o.SenderAsset, o.Affiliate,
		new(big.Int).SetUint64(o.Nonce),
		new(big.Int).SetUint64(o.Expiry),
		o.MakerAmount, o.SenderAmount, clone(o.AffiliateAmount),
	})
	if err != nil {
		return [32]byte{}, err
	}
	return sha3.Sum256(encoded), nil
}

// Sign attaches the signatory's signature over the order digest.
func (o *SwapOrder) Sign(venue string, key ed25519.PrivateKey) error {
	digest, err := o.Digest(venue)
	if err != nil {
		return err
	}
	o.Signature = ed25519.Sign(key, digest[:])
	return nil
}

// AirSwapVenue settles matched swaps. The maker pre-approves the venue
// over its sell balance; each nonce settles at most once.
type AirSwapVenue struct {
	addr       string
	ledger     *TokenLedger
	signers    map[string]ed25519.PublicKey
	usedNonces map[string]map[uint64]bool
	now        func() time.Time
	mu         sync.Mutex
}

// NewAirSwapVenue creates an empty venue.
func NewAirSwapVenue(ledger *TokenLedger) *AirSwapVenue {
	return &AirSwapVenue{
		addr:       "airswap",
		ledger:     ledger,
		signers:    make(map[string]ed25519.PublicKey),
		usedNonces: make(map[string]map[uint64]bool),
		now:        time.Now,
	}
}

// Address returns the venue's settlement account.
func (v *AirSwapVenue) Address() string { return v.addr }

// RegisterSigner binds a signatory address to its signing key.
func (v *AirSwapVenue) RegisterSigner(signatory string, pub ed25519.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.signers[signatory] = pub
}

// Swap settles a matched order in full. The submitting account must be the
// order's named sender.
func (v *AirSwapVenue) Swap(sender string, o *SwapOrder) error {
	digest, err := o.Digest(v.addr)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if o.Sender != sender {
		return fmt.Errorf("sender does not match order")
	}
	if o.Expiry > 0 && uint64(v.now().Unix()) > o.Expiry {
		return fmt.Errorf("order has expired")
	}
	signatory := o.Signatory
	if signatory == "" {
		signatory = o.Maker
	}
	pub, ok := v.signers[signatory]
	if !ok || !ed25519.Verify(pub, digest[:], o.Signature) {
		return fmt.Errorf("invalid order signature")
	}
	if v.usedNonces[o.Maker][o.Nonce] {
		return fmt.Errorf("order nonce already taken")
	}

	if err := v.ledger.TransferFrom(o.MakerAsset, v.addr, o.Maker, sender, o.MakerAmount); err != nil {
		return err
	}
	if err := v.ledger.Transfer(o.SenderAsset, sender, o.Maker, o.SenderAmount); err != nil {
		return err
	}
	if o.Affiliate != "" && o.AffiliateAmount != nil && o.AffiliateAmount.Sign() > 0 {
		if err := v.ledger.Transfer(o.SenderAsset, sender, o.Affiliate, o.AffiliateAmount); err != nil {
			return err
		}
	}

	if v.usedNonces[o.Maker] == nil {
		v.usedNonces[o.Maker] = make(map[uint64]bool)
	}
	v.usedNonces[o.Maker][o.Nonce] = true
	return nil
}

// AirSwapAdapter is the matched-swap shim.
type AirSwapAdapter struct {
	venue *AirSwapVenue
}

// NewAirSwapAdapter creates the matched-swap shim.
func NewAirSwapAdapter(venue *AirSwapVenue) *AirSwapAdapter {
	return &AirSwapAdapter{venue: venue}
}

// Venue implements OrderTaker.
func (a *AirSwapAdapter) Venue() string { return VenueAirSwap }

// SnapshotVenue implements StatefulVenue, covering the spent nonces.
func (a *AirSwapAdapter) SnapshotVenue() func() {
	v := a.venue
	v.mu.Lock()
	nonces := make(map[string]map[uint64]bool, len(v.usedNonces))
	for maker, used := range v.usedNonces {
		cp := make(map[uint64]bool, len(used))
		for nonce := range used {
			cp[nonce] = true
		}
		nonces[maker] = cp
	}
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.usedNonces = nonces
	}
}

// EncodeAirSwapTakeOrderArgs packs a matched swap order into the venue's
// tuple layout. The selector and version slots are reserved, zero-filled.
func EncodeAirSwapTakeOrderArgs(o *SwapOrder) ([]byte, error) {
	if len(o.Signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes", ed25519.SignatureSize)
	}
	return EncodeTuple(LayoutAirSwap, []interface{}{
		o.Maker, o.MakerAsset, o.Sender, o.SenderAsset, o.Affiliate, o.Signatory,
		new(big.Int).SetUint64(o.Nonce),
		new(big.Int).SetUint64(o.Expiry),
		clone(o.MakerAmount), clone(o.SenderAmount), clone(o.AffiliateAmount),
		big.NewInt(0),
		[]byte{}, []byte{},
		o.Signature[:32], o.Signature[32:],
		byte(0x01), byte(0x00),
	})
}

// ParseArgs implements OrderTaker.
func (a *AirSwapAdapter) ParseArgs(encoded []byte) (*TakeOrderArgs, error) {
	values, err := DecodeTuple(LayoutAirSwap, encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid swap take order args: %w", err)
	}
	signature := append([]byte{}, values[14].([]byte)...)
	signature = append(signature, values[15].([]byte)...)

	args := &TakeOrderArgs{
		Maker:         values[0].(string),
		MakerAsset:    values[1].(string),
		Sender:        values[2].(string),
		TakerAsset:    values[3].(string),
		FeeRecipient:  values[4].(string),
		Taker:         values[5].(string), // signatory rides the taker slot
		Nonce:         values[6].(*big.Int).Uint64(),
		Expiration:    values[7].(*big.Int).Uint64(),
		MakerQuantity: values[8].(*big.Int),
		TakerQuantity: values[9].(*big.Int),
		Signature:     signature,
	}
	if affiliateAmount := values[10].(*big.Int); affiliateAmount.Sign() > 0 && args.FeeRecipient != "" {
		args.FeeAssets = []string{args.TakerAsset}
		args.FeeAmounts = []*big.Int{affiliateAmount}
	}
	return args, nil
}

// ValidateTakeOrderParams implements OrderTaker. Swaps are full-fill only
// and name their sender, which must be the fund's vault.
func (a *AirSwapAdapter) ValidateTakeOrderParams(v *Vault, args *TakeOrderArgs) error {
	if args.Sender != v.Address() {
		return fmt.Errorf("sender does not match fund vault")
	}
	if args.MakerQuantity.Sign() == 0 || args.TakerQuantity.Sign() == 0 {
		return fmt.Errorf("swap amounts must be positive")
	}
	return nil
}

// TakeOrder implements OrderTaker.
func (a *AirSwapAdapter) TakeOrder(v *Vault, args *TakeOrderArgs) (*OrderFill, error) {
	order := &SwapOrder{
		Maker:        args.Maker,
		MakerAsset:   args.MakerAsset,
		Sender:       args.Sender,
		SenderAsset:  args.TakerAsset,
		Affiliate:    args.FeeRecipient,
		Signatory:    args.Taker,
		Nonce:        args.Nonce,
		Expiry:       args.Expiration,
		MakerAmount:  args.MakerQuantity,
		SenderAmount: args.TakerQuantity,
		AffiliateAmount: func() *big.Int {
			if len(args.FeeAmounts) > 0 {
				return args.FeeAmounts[0]
			}
			return big.NewInt(0)
		}(),
		Signature: args.Signature,
	}
	if err := a.venue.Swap(v.Address(), order); err != nil {
		return nil, err
	}

	fill := &OrderFill{
		BuyAsset:   order.MakerAsset,
		BuyAmount:  clone(order.MakerAmount),
		SellAsset:  order.SenderAsset,
		SellAmount: clone(order.SenderAmount),
		FeeAssets:  []string{},
		FeeAmounts: []*big.Int{},
	}
	if order.Affiliate != "" && order.AffiliateAmount.Sign() > 0 {
		fill.FeeAssets = append(fill.FeeAssets, order.SenderAsset)
		fill.FeeAmounts = append(fill.FeeAmounts, clone(order.AffiliateAmount))
	}
	return fill, nil
}
