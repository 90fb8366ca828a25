package fund

import (
	"fmt"
	"math/big"
	"sync"
)

// VenueOasis identifies the on-chain order book in the registry.
const VenueOasis = "oasis"

// Offer is one resting order on the on-chain order book. Amounts track the
// unfilled remainder.
type Offer struct {
	ID         uint64
	Owner      string
	SellAsset  string
	SellAmount *big.Int
	BuyAsset   string
	BuyAmount  *big.Int
	Active     bool
}

// OasisVenue is an on-chain order book: makers escrow their sell asset
// when posting an offer, takers fill against resting offers, partial fills
// supported.
type OasisVenue struct {
	addr        string
	ledger      *TokenLedger
	lastOfferID uint64
	offers      map[uint64]*Offer
	mu          sync.Mutex
}

// NewOasisVenue creates an empty order book.
func NewOasisVenue(ledger *TokenLedger) *OasisVenue {
	return &OasisVenue{
		addr:   "oasis",
		ledger: ledger,
		offers: make(map[uint64]*Offer),
	}
}

// Address returns the venue's escrow account.
func (o *OasisVenue) Address() string { return o.addr }

// LastOfferID returns the most recently assigned offer id.
func (o *OasisVenue) LastOfferID() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastOfferID
}

// Offer posts a resting order, escrowing the full sell amount.
func (o *OasisVenue) Offer(owner string, sellAmount *big.Int, sellAsset string, buyAmount *big.Int, buyAsset string) (uint64, error) {
	if !isValidAmount(sellAmount) || sellAmount.Sign() == 0 ||
		!isValidAmount(buyAmount) || buyAmount.Sign() == 0 {
		return 0, fmt.Errorf("offer amounts must be positive")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.ledger.Transfer(sellAsset, owner, o.addr, sellAmount); err != nil {
		return 0, err
	}
	o.lastOfferID++
	o.offers[o.lastOfferID] = &Offer{
		ID:         o.lastOfferID,
		Owner:      owner,
		SellAsset:  sellAsset,
		SellAmount: clone(sellAmount),
		BuyAsset:   buyAsset,
		BuyAmount:  clone(buyAmount),
		Active:     true,
	}
	return o.lastOfferID, nil
}

// GetOffer returns a copy of an offer.
func (o *OasisVenue) GetOffer(id uint64) (*Offer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	offer, ok := o.offers[id]
	if !ok {
		return nil, false
	}
	out := *offer
	out.SellAmount = clone(offer.SellAmount)
	out.BuyAmount = clone(offer.BuyAmount)
	return &out, true
}

// Cancel deactivates an offer and refunds the unfilled escrow.
func (o *OasisVenue) Cancel(owner string, id uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	offer, ok := o.offers[id]
	if !ok || !offer.Active {
		return fmt.Errorf("offer is not active")
	}
	if offer.Owner != owner {
		return fmt.Errorf("only the offer owner can cancel")
	}
	if err := o.ledger.Transfer(offer.SellAsset, o.addr, owner, offer.SellAmount); err != nil {
		return err
	}
	offer.Active = false
	return nil
}

// Take fills an offer. quantity is the amount of the offer's buy asset the
// taker pays; the maker side fills proportionally, rounded down. A
// zero-quantity take is a rejection on this venue, not a no-op.
func (o *OasisVenue) Take(taker string, id uint64, quantity *big.Int) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	offer, ok := o.offers[id]
	if !ok || !offer.Active {
		return nil, fmt.Errorf("offer is not active")
	}
	if !isValidAmount(quantity) || quantity.Sign() == 0 {
		return nil, fmt.Errorf("taker quantity must be greater than zero")
	}
	if quantity.Cmp(offer.BuyAmount) > 0 {
		return nil, fmt.Errorf("taker quantity exceeds available order quantity")
	}

	makerFilled := mulDivFloor(offer.SellAmount, quantity, offer.BuyAmount)
	if err := o.ledger.Transfer(offer.BuyAsset, taker, offer.Owner, quantity); err != nil {
		return nil, err
	}
	if err := o.ledger.Transfer(offer.SellAsset, o.addr, taker, makerFilled); err != nil {
		return nil, err
	}

	offer.SellAmount.Sub(offer.SellAmount, makerFilled)
	offer.BuyAmount.Sub(offer.BuyAmount, quantity)
	if offer.BuyAmount.Sign() == 0 {
		offer.Active = false
		// Rounding dust from proportional fills goes back to the maker.
		if offer.SellAmount.Sign() > 0 {
			if err := o.ledger.Transfer(offer.SellAsset, o.addr, offer.Owner, offer.SellAmount); err != nil {
				return nil, err
			}
			offer.SellAmount.SetInt64(0)
		}
	}
	return makerFilled, nil
}

// snapshotOffers deep-copies the book so a restore cannot alias live
// amounts.
func (o *OasisVenue) snapshotOffers() (uint64, map[uint64]*Offer) {
	offers := make(map[uint64]*Offer, len(o.offers))
	for id, offer := range o.offers {
		cp := *offer
		cp.SellAmount = clone(offer.SellAmount)
		cp.BuyAmount = clone(offer.BuyAmount)
		offers[id] = &cp
	}
	return o.lastOfferID, offers
}

// OasisAdapter is the order-book shim. Args layout: makerAsset,
// makerQuantity, takerAsset, takerQuantity, orderID.
type OasisAdapter struct {
	venue *OasisVenue
}

// NewOasisAdapter creates the order-book shim.
func NewOasisAdapter(venue *OasisVenue) *OasisAdapter {
	return &OasisAdapter{venue: venue}
}

// Venue implements OrderTaker.
func (a *OasisAdapter) Venue() string { return VenueOasis }

// SnapshotVenue implements StatefulVenue. Offer bookkeeping must roll
// back with the ledger or a later Cancel refunds the wrong remainder.
func (a *OasisAdapter) SnapshotVenue() func() {
	v := a.venue
	v.mu.Lock()
	lastID, offers := v.snapshotOffers()
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.lastOfferID = lastID
		v.offers = offers
	}
}

// EncodeOasisTakeOrderArgs packs order-book take-order args.
func EncodeOasisTakeOrderArgs(makerAsset string, makerQuantity *big.Int, takerAsset string, takerQuantity *big.Int, orderID uint64) ([]byte, error) {
	return EncodeTuple(LayoutOasis, []interface{}{
		makerAsset, makerQuantity, takerAsset, takerQuantity,
		new(big.Int).SetUint64(orderID),
	})
}

// ParseArgs implements OrderTaker.
func (a *OasisAdapter) ParseArgs(encoded []byte) (*TakeOrderArgs, error) {
	values, err := DecodeTuple(LayoutOasis, encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid oasis take order args: %w", err)
	}
	return &TakeOrderArgs{
		MakerAsset:    values[0].(string),
		MakerQuantity: values[1].(*big.Int),
		TakerAsset:    values[2].(string),
		TakerQuantity: values[3].(*big.Int),
		OrderID:       values[4].(*big.Int).Uint64(),
	}, nil
}

// ValidateTakeOrderParams implements OrderTaker.
func (a *OasisAdapter) ValidateTakeOrderParams(v *Vault, args *TakeOrderArgs) error {
	offer, ok := a.venue.GetOffer(args.OrderID)
	if !ok || !offer.Active {
		return fmt.Errorf("offer is not active")
	}
	if args.MakerAsset != offer.SellAsset {
		return fmt.Errorf("maker asset does not match order")
	}
	if args.TakerAsset != offer.BuyAsset {
		return fmt.Errorf("taker asset does not match order")
	}
	if args.TakerQuantity.Sign() == 0 {
		return fmt.Errorf("taker quantity must be greater than zero")
	}
	if args.TakerQuantity.Cmp(offer.BuyAmount) > 0 {
		return fmt.Errorf("taker quantity exceeds available order quantity")
	}
	return nil
}

// TakeOrder implements OrderTaker. The fill reports the amount actually
// received on the maker side, which a partial fill prorates.
func (a *OasisAdapter) TakeOrder(v *Vault, args *TakeOrderArgs) (*OrderFill, error) {
	makerFilled, err := a.venue.Take(v.Address(), args.OrderID, args.TakerQuantity)
	if err != nil {
		return nil, err
	}
	return &OrderFill{
		BuyAsset:   args.MakerAsset,
		BuyAmount:  makerFilled,
		SellAsset:  args.TakerAsset,
		SellAmount: clone(args.TakerQuantity),
		FeeAssets:  []string{},
		FeeAmounts: []*big.Int{},
	}, nil
}
