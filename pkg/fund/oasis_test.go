package fund

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOasisOfferLifecycle(t *testing.T) {
	f := newTestFund(t)
	venue := NewOasisVenue(f.ledger)

	t.Run("posting escrows the sell side", func(t *testing.T) {
		id, err := venue.Offer(testMaker, eth(2), assetMLN, eth(1), assetWETH)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
		assert.Equal(t, eth(2), f.ledger.BalanceOf(assetMLN, venue.Address()))

		offer, ok := venue.GetOffer(id)
		require.True(t, ok)
		assert.True(t, offer.Active)
		assert.Equal(t, testMaker, offer.Owner)
	})

	t.Run("zero amounts rejected", func(t *testing.T) {
		_, err := venue.Offer(testMaker, big.NewInt(0), assetMLN, eth(1), assetWETH)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "offer amounts must be positive")
	})

	t.Run("cancel is owner-only and refunds escrow", func(t *testing.T) {
		err := venue.Cancel(testInvestor, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only the offer owner can cancel")

		makerBefore := f.ledger.BalanceOf(assetMLN, testMaker)
		require.NoError(t, venue.Cancel(testMaker, 1))
		assert.Equal(t, new(big.Int).Add(makerBefore, eth(2)), f.ledger.BalanceOf(assetMLN, testMaker))
		assert.Equal(t, big.NewInt(0), f.ledger.BalanceOf(assetMLN, venue.Address()))

		err = venue.Cancel(testMaker, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "offer is not active")
	})
}

func TestOasisTake(t *testing.T) {
	setup := func(t *testing.T) (*testFund, *OasisVenue, uint64) {
		f := newTestFund(t)
		venue := NewOasisVenue(f.ledger)
		id, err := venue.Offer(testMaker, eth(2), assetMLN, eth(1), assetWETH)
		require.NoError(t, err)
		return f, venue, id
	}

	t.Run("zero quantity is a rejection", func(t *testing.T) {
		_, venue, id := setup(t)
		_, err := venue.Take(testInvestor, id, big.NewInt(0))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "taker quantity must be greater than zero")
	})

	t.Run("overfill rejected", func(t *testing.T) {
		_, venue, id := setup(t)
		_, err := venue.Take(testInvestor, id, eth(2))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "taker quantity exceeds available order quantity")
	})

	t.Run("partial fill prorates the maker side", func(t *testing.T) {
		f, venue, id := setup(t)
		makerFilled, err := venue.Take(testInvestor, id, milli(250))
		require.NoError(t, err)
		assert.Equal(t, milli(500), makerFilled, "quarter of the buy side takes a quarter of the sell side")

		offer, ok := venue.GetOffer(id)
		require.True(t, ok)
		assert.True(t, offer.Active)
		assert.Equal(t, milli(1500), offer.SellAmount)
		assert.Equal(t, milli(750), offer.BuyAmount)
		assert.Equal(t, milli(500), new(big.Int).Sub(f.ledger.BalanceOf(assetMLN, testInvestor), eth(10)))
	})

	t.Run("full fill deactivates and clears escrow", func(t *testing.T) {
		f, venue, id := setup(t)
		makerFilled, err := venue.Take(testInvestor, id, eth(1))
		require.NoError(t, err)
		assert.Equal(t, eth(2), makerFilled)

		offer, _ := venue.GetOffer(id)
		assert.False(t, offer.Active)
		assert.Equal(t, big.NewInt(0), f.ledger.BalanceOf(assetMLN, venue.Address()))

		_, err = venue.Take(testInvestor, id, eth(1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "offer is not active")
	})

	t.Run("sequential partial fills exhaust the escrow exactly", func(t *testing.T) {
		f := newTestFund(t)
		venue := NewOasisVenue(f.ledger)
		// 7 sold for 3 does not divide evenly; prorating against the
		// remainder means the last fill sweeps whatever floor division
		// left behind.
		id, err := venue.Offer(testMaker, big.NewInt(7), assetMLN, big.NewInt(3), assetWETH)
		require.NoError(t, err)

		takerBefore := f.ledger.BalanceOf(assetMLN, testInvestor)
		total := big.NewInt(0)
		for i := 0; i < 3; i++ {
			got, err := venue.Take(testInvestor, id, big.NewInt(1))
			require.NoError(t, err)
			total.Add(total, got)
		}
		offer, _ := venue.GetOffer(id)
		assert.False(t, offer.Active)
		assert.Equal(t, big.NewInt(7), total)
		assert.Equal(t, big.NewInt(0), f.ledger.BalanceOf(assetMLN, venue.Address()))
		assert.Equal(t, big.NewInt(7), new(big.Int).Sub(f.ledger.BalanceOf(assetMLN, testInvestor), takerBefore))
	})
}

func TestOasisAdapterThroughVault(t *testing.T) {
	f := newTestFund(t)
	venue := NewOasisVenue(f.ledger)
	require.NoError(t, f.hub.Registry().Register(NewOasisAdapter(venue)))

	// Resting order: sell 0.02 MLN for 0.01 WETH, a 2 MLN/WETH rate.
	offerID, err := venue.Offer(testMaker, milli(20), assetMLN, milli(10), assetWETH)
	require.NoError(t, err)

	f.invest(t, testInvestor, eth(1), assetWETH)
	vaultAddr := f.hub.Vault().Address()

	t.Run("asset mismatch", func(t *testing.T) {
		encoded, err := EncodeOasisTakeOrderArgs(assetDAI, milli(20), assetWETH, milli(10), offerID)
		require.NoError(t, err)
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueOasis, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maker asset does not match order")

		encoded, err = EncodeOasisTakeOrderArgs(assetMLN, milli(20), assetDAI, milli(10), offerID)
		require.NoError(t, err)
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueOasis, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "taker asset does not match order")
	})

	t.Run("unknown order id", func(t *testing.T) {
		encoded, err := EncodeOasisTakeOrderArgs(assetMLN, milli(20), assetWETH, milli(10), 99)
		require.NoError(t, err)
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueOasis, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "offer is not active")
	})

	t.Run("fill spends exactly the quoted rate", func(t *testing.T) {
		encoded, err := EncodeOasisTakeOrderArgs(assetMLN, milli(20), assetWETH, milli(10), offerID)
		require.NoError(t, err)
		fill, err := f.hub.Vault().CallOnIntegration(testManager, VenueOasis, encoded)
		require.NoError(t, err)

		// Selling 0.01 WETH at rate 2 brings in exactly 0.02 MLN.
		assert.Equal(t, milli(20), fill.BuyAmount)
		assert.Equal(t, milli(10), fill.SellAmount)
		assert.Equal(t, milli(20), f.ledger.BalanceOf(assetMLN, vaultAddr))
		assert.Equal(t, new(big.Int).Sub(eth(1), milli(10)), f.ledger.BalanceOf(assetWETH, vaultAddr))

		filled := f.orderFilledEvents()
		require.Len(t, filled, 1)
		assert.Equal(t, VenueOasis, filled[0].Venue)
		assert.Equal(t, milli(20), filled[0].BuyAmount)
		assert.Empty(t, filled[0].FeeAssets)
	})
}
