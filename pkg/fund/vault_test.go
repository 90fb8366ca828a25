package fund

import (
	"crypto/ed25519"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rogueAdapter reports a fill that disagrees with the balances it actually
// moves, exercising the vault's reconciliation rollback.
type rogueAdapter struct {
	skim *big.Int // buy-side amount quietly withheld from the vault
}

func (a *rogueAdapter) Venue() string { return "rogue" }

func (a *rogueAdapter) ParseArgs(encoded []byte) (*TakeOrderArgs, error) {
	values, err := DecodeTuple(LayoutMinimal, encoded)
	if err != nil {
		return nil, err
	}
	return &TakeOrderArgs{
		MakerAsset:    values[0].(string),
		MakerQuantity: values[1].(*big.Int),
		TakerAsset:    values[2].(string),
		TakerQuantity: values[3].(*big.Int),
	}, nil
}

func (a *rogueAdapter) ValidateTakeOrderParams(v *Vault, args *TakeOrderArgs) error {
	return nil
}

func (a *rogueAdapter) TakeOrder(v *Vault, args *TakeOrderArgs) (*OrderFill, error) {
	ledger := v.Ledger()
	if err := ledger.Transfer(args.TakerAsset, v.Address(), testMaker, args.TakerQuantity); err != nil {
		return nil, err
	}
	delivered := new(big.Int).Sub(args.MakerQuantity, a.skim)
	if err := ledger.Mint(args.MakerAsset, v.Address(), delivered); err != nil {
		return nil, err
	}
	// Reports the full amount regardless of what was delivered.
	return &OrderFill{
		BuyAsset:   args.MakerAsset,
		BuyAmount:  clone(args.MakerQuantity),
		SellAsset:  args.TakerAsset,
		SellAmount: clone(args.TakerQuantity),
		FeeAssets:  []string{},
		FeeAmounts: []*big.Int{},
	}, nil
}

func TestCallOnIntegrationAccessControl(t *testing.T) {
	f := newTestFund(t)
	encoded, err := EncodeEngineTakeOrderArgs(assetWETH, eth(1), assetMLN, eth(2))
	require.NoError(t, err)

	t.Run("manager only", func(t *testing.T) {
		_, err := f.hub.Vault().CallOnIntegration(testInvestor, VenueEngine, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Only the fund manager can call this")
	})

	t.Run("unknown venue", func(t *testing.T) {
		_, err := f.hub.Vault().CallOnIntegration(testManager, "uniswap", encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown integration adapter: uniswap")
	})

	t.Run("shut down fund", func(t *testing.T) {
		require.NoError(t, f.hub.ShutDown(testManager))
		defer func() { require.NoError(t, f.hub.Resume(testManager)) }()

		_, err := f.hub.Vault().CallOnIntegration(testManager, VenueEngine, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Cannot trade in a shut down fund")
	})
}

func TestReconciliationRollsBackMisreportedFill(t *testing.T) {
	f := newTestFund(t)
	rogue := &rogueAdapter{skim: big.NewInt(1)}
	require.NoError(t, f.hub.Registry().Register(rogue))

	f.invest(t, testInvestor, eth(2), assetMLN)
	vaultAddr := f.hub.Vault().Address()
	makerBefore := f.ledger.BalanceOf(assetMLN, testMaker)

	encoded, err := EncodeTuple(LayoutMinimal, []interface{}{
		assetWETH, eth(1), assetMLN, eth(2),
	})
	require.NoError(t, err)

	_, err = f.hub.Vault().CallOnIntegration(testManager, "rogue", encoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post-trade balance does not match reported fill for "+assetWETH)

	// Every intermediate effect is rolled back, counterparty included.
	assert.Equal(t, eth(2), f.ledger.BalanceOf(assetMLN, vaultAddr))
	assert.Equal(t, big.NewInt(0), f.ledger.BalanceOf(assetWETH, vaultAddr))
	assert.Equal(t, makerBefore, f.ledger.BalanceOf(assetMLN, testMaker))
	assert.Empty(t, f.orderFilledEvents(), "no fill event for an aborted call")
}

func TestReconciliationAcceptsHonestFill(t *testing.T) {
	f := newTestFund(t)
	honest := &rogueAdapter{skim: big.NewInt(0)}
	require.NoError(t, f.hub.Registry().Register(honest))

	f.invest(t, testInvestor, eth(2), assetMLN)

	encoded, err := EncodeTuple(LayoutMinimal, []interface{}{
		assetWETH, eth(1), assetMLN, eth(2),
	})
	require.NoError(t, err)

	fill, err := f.hub.Vault().CallOnIntegration(testManager, "rogue", encoded)
	require.NoError(t, err)
	assert.Equal(t, eth(1), fill.BuyAmount)

	filled := f.orderFilledEvents()
	require.Len(t, filled, 1, "exactly one fill event per verified trade")
	assert.Equal(t, fill.BuyAmount, filled[0].BuyAmount)
	assert.Equal(t, fill.SellAmount, filled[0].SellAmount)
}

// A fill where the vault sits on both sides of a leg nets that leg to
// zero, so reconciliation rejects the reported fill and the whole call
// must unwind, venue bookkeeping included.
func TestReconciliationRestoresVenueBookkeeping(t *testing.T) {
	t.Run("oasis offer remainder", func(t *testing.T) {
		f := newTestFund(t)
		venue := NewOasisVenue(f.ledger)
		require.NoError(t, f.hub.Registry().Register(NewOasisAdapter(venue)))

		f.invest(t, testInvestor, eth(2), assetWETH)
		f.invest(t, testInvestor, eth(1), assetMLN)
		vaultAddr := f.hub.Vault().Address()

		id, err := venue.Offer(vaultAddr, eth(1), assetWETH, milli(500), assetMLN)
		require.NoError(t, err)

		encoded, err := EncodeOasisTakeOrderArgs(assetWETH, eth(1), assetMLN, milli(500), id)
		require.NoError(t, err)
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueOasis, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "post-trade balance does not match reported fill")

		// The offer's remainder must agree with the restored escrow.
		offer, ok := venue.GetOffer(id)
		require.True(t, ok)
		assert.True(t, offer.Active)
		assert.Equal(t, eth(1), offer.SellAmount)
		assert.Equal(t, milli(500), offer.BuyAmount)
		assert.Equal(t, eth(1), f.ledger.BalanceOf(assetWETH, venue.Address()))
		assert.Empty(t, f.orderFilledEvents())

		// Cancelling refunds the full escrow, leaving no stranded value.
		require.NoError(t, venue.Cancel(vaultAddr, id))
		assert.Equal(t, eth(2), f.ledger.BalanceOf(assetWETH, vaultAddr))
		assert.Equal(t, big.NewInt(0), f.ledger.BalanceOf(assetWETH, venue.Address()))
	})

	t.Run("signed order fill tracker", func(t *testing.T) {
		f := newTestFund(t)
		venue, err := NewZeroExVenue(ZeroExVenueConfig{Version: 2, FeeAsset: assetZRX}, f.ledger)
		require.NoError(t, err)
		require.NoError(t, f.hub.Registry().Register(NewZeroExAdapter(venue)))

		f.invest(t, testInvestor, eth(2), assetWETH)
		f.invest(t, testInvestor, eth(1), assetMLN)
		vaultAddr := f.hub.Vault().Address()

		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		venue.RegisterSigner(vaultAddr, pub)
		require.NoError(t, f.ledger.Approve(assetWETH, vaultAddr, venue.Address(), eth(1)))

		order := &SignedOrder{
			Maker:            vaultAddr,
			MakerAsset:       assetWETH,
			TakerAsset:       assetMLN,
			MakerAssetAmount: eth(1),
			TakerAssetAmount: milli(500),
			MakerFee:         big.NewInt(0),
			TakerFee:         big.NewInt(0),
			Salt:             11,
		}
		require.NoError(t, order.Sign(venue.Address(), priv))

		encoded, err := EncodeZeroExTakeOrderArgs(2, order, milli(500))
		require.NoError(t, err)
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueZeroExV2, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "post-trade balance does not match reported fill")

		filled, err := venue.FilledAmount(order)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(0), filled, "aborted fill leaves no filled amount")
	})

	t.Run("swap nonce", func(t *testing.T) {
		f := newTestFund(t)
		venue := NewAirSwapVenue(f.ledger)
		require.NoError(t, f.hub.Registry().Register(NewAirSwapAdapter(venue)))

		f.invest(t, testInvestor, eth(2), assetWETH)
		f.invest(t, testInvestor, eth(1), assetMLN)
		vaultAddr := f.hub.Vault().Address()

		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		venue.RegisterSigner(vaultAddr, pub)
		require.NoError(t, f.ledger.Approve(assetWETH, vaultAddr, venue.Address(), eth(1)))

		order := &SwapOrder{
			Maker:           vaultAddr,
			MakerAsset:      assetWETH,
			Sender:          vaultAddr,
			SenderAsset:     assetMLN,
			Nonce:           1,
			MakerAmount:     eth(1),
			SenderAmount:    milli(500),
			AffiliateAmount: big.NewInt(0),
		}
		require.NoError(t, order.Sign(venue.Address(), priv))

		encoded, err := EncodeAirSwapTakeOrderArgs(order)
		require.NoError(t, err)
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueAirSwap, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "post-trade balance does not match reported fill")

		// A replay fails on reconciliation again, not on a spent nonce.
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueAirSwap, encoded)
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "order nonce already taken")
		assert.Contains(t, err.Error(), "post-trade balance does not match reported fill")
	})
}

func TestAdapterRegistry(t *testing.T) {
	r := NewAdapterRegistry()
	require.NoError(t, r.Register(&rogueAdapter{skim: big.NewInt(0)}))

	err := r.Register(&rogueAdapter{skim: big.NewInt(0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter for venue rogue already registered")

	a, err := r.Resolve("rogue")
	require.NoError(t, err)
	assert.Equal(t, "rogue", a.Venue())
	assert.Equal(t, []string{"rogue"}, r.Venues())
}
