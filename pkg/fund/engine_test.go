package fund

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine builds a WETH engine settling in MLN on top of the fund
// fixture, seeded with one WETH of frozen liquidity.
func newTestEngine(t *testing.T, f *testFund, cfg EngineConfig) *Engine {
	t.Helper()
	if cfg.NativeAsset == "" {
		cfg.NativeAsset = assetWETH
	}
	if cfg.SettlementAsset == "" {
		cfg.SettlementAsset = assetMLN
	}
	eng, err := NewEngine(cfg, f.ledger, f.feed, f.hub.Events(), newTestLogger())
	require.NoError(t, err)
	eng.now = f.clock.Now

	require.NoError(t, f.ledger.Mint(assetWETH, "fee-source", eth(1)))
	require.NoError(t, eng.Accumulate("fee-source", eth(1)))
	return eng
}

func TestEngineThawGating(t *testing.T) {
	f := newTestFund(t)
	eng := newTestEngine(t, f, EngineConfig{})

	assert.Equal(t, eth(1), eng.Frozen())
	assert.Equal(t, big.NewInt(0), eng.Liquid())

	err := eng.Thaw()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Thawing not possible")

	// One second short is still short.
	f.clock.Advance(DefaultFreezePeriod - time.Second)
	err = eng.Thaw()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Thawing not possible")

	f.clock.Advance(time.Second)
	require.NoError(t, eng.Thaw())
	assert.Equal(t, big.NewInt(0), eng.Frozen())
	assert.Equal(t, eth(1), eng.Liquid(), "thawed amount equals everything accumulated")

	err = eng.Thaw()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no frozen liquidity to thaw")

	thaws := f.hub.Events().EventsByType(EventEngineThawed)
	require.Len(t, thaws, 1)
	assert.Equal(t, eth(1), thaws[0].Data.(EngineThawed).Amount)
}

func TestEngineThawRestartsClockForNewDeposits(t *testing.T) {
	f := newTestFund(t)
	eng := newTestEngine(t, f, EngineConfig{FreezePeriod: time.Hour})

	f.clock.Advance(time.Hour)
	require.NoError(t, eng.Thaw())

	// The next deposit opens a fresh epoch with a fresh clock.
	require.NoError(t, f.ledger.Mint(assetWETH, "fee-source", eth(2)))
	require.NoError(t, eng.Accumulate("fee-source", eth(2)))
	err := eng.Thaw()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Thawing not possible")

	f.clock.Advance(time.Hour)
	require.NoError(t, eng.Thaw())
	assert.Equal(t, eth(3), eng.Liquid())
}

func TestEnginePrice(t *testing.T) {
	f := newTestFund(t)

	t.Run("oracle rate", func(t *testing.T) {
		eng := newTestEngine(t, f, EngineConfig{})
		price, err := eng.Price()
		require.NoError(t, err)
		assert.Equal(t, milli(500), price, "0.5 WETH per MLN")
	})

	t.Run("premium improves the rate", func(t *testing.T) {
		eng := newTestEngine(t, f, EngineConfig{PremiumBps: 500})
		price, err := eng.Price()
		require.NoError(t, err)
		assert.Equal(t, milli(525), price)
	})

	t.Run("stale settlement quote", func(t *testing.T) {
		eng := newTestEngine(t, f, EngineConfig{})
		f.feed.MarkStale(assetMLN)
		_, err := eng.Price()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Price not recent")
		postTestPrices(t, f.feed)
	})
}

func TestEngineSell(t *testing.T) {
	setup := func(t *testing.T) (*testFund, *Engine) {
		f := newTestFund(t)
		eng := newTestEngine(t, f, EngineConfig{})
		f.clock.Advance(DefaultFreezePeriod)
		postTestPrices(t, f.feed)
		require.NoError(t, eng.Thaw())
		return f, eng
	}

	t.Run("exceeding liquid balance", func(t *testing.T) {
		f, eng := setup(t)
		over := new(big.Int).Add(eng.Liquid(), big.NewInt(1))
		err := eng.Sell(testInvestor, over, eth(3))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Not enough liquid ether to send")
		assert.Equal(t, eth(10), f.ledger.BalanceOf(assetMLN, testInvestor), "nothing burned")
	})

	t.Run("underpaying the required settlement", func(t *testing.T) {
		_, eng := setup(t)
		// 1 WETH at 0.5 WETH/MLN requires 2 MLN; one wei short fails.
		short := new(big.Int).Sub(eth(2), big.NewInt(1))
		err := eng.Sell(testInvestor, eth(1), short)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "settlement quantity too low for requested amount")
	})

	t.Run("full fill drains liquidity and burns settlement", func(t *testing.T) {
		f, eng := setup(t)
		mlnSupplyBefore := f.ledger.BalanceOf(assetMLN, testInvestor)

		// Quote floor(maker/price)+1 so ceiling rounding can never reject.
		pay := new(big.Int).Add(eth(2), big.NewInt(1))
		require.NoError(t, eng.Sell(testInvestor, eth(1), pay))

		assert.Equal(t, big.NewInt(0), eng.Liquid())
		assert.Equal(t, eth(11), f.ledger.BalanceOf(assetWETH, testInvestor))
		assert.Equal(t, new(big.Int).Sub(mlnSupplyBefore, pay), f.ledger.BalanceOf(assetMLN, testInvestor))
		assert.Equal(t, big.NewInt(0), f.ledger.BalanceOf(assetWETH, eng.Address()))
	})
}

func TestEngineAdapterThroughVault(t *testing.T) {
	f := newTestFund(t)
	eng := newTestEngine(t, f, EngineConfig{})
	require.NoError(t, f.hub.Registry().Register(NewEngineAdapter(eng)))

	f.invest(t, testInvestor, eth(5), assetMLN)

	t.Run("wrong maker asset", func(t *testing.T) {
		encoded, err := EncodeEngineTakeOrderArgs(assetDAI, eth(1), assetMLN, eth(2))
		require.NoError(t, err)
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueEngine, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maker asset does not match native asset")
	})

	t.Run("wrong taker asset", func(t *testing.T) {
		encoded, err := EncodeEngineTakeOrderArgs(assetWETH, eth(1), assetDAI, eth(2))
		require.NoError(t, err)
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueEngine, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "taker asset does not match settlement asset")
	})

	t.Run("frozen liquidity is not spendable", func(t *testing.T) {
		encoded, err := EncodeEngineTakeOrderArgs(assetWETH, eth(1), assetMLN, eth(3))
		require.NoError(t, err)
		_, err = f.hub.Vault().CallOnIntegration(testManager, VenueEngine, encoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Not enough liquid ether to send")
	})

	t.Run("fill settles through the vault", func(t *testing.T) {
		f.clock.Advance(DefaultFreezePeriod)
		postTestPrices(t, f.feed)
		require.NoError(t, eng.Thaw())

		pay := new(big.Int).Add(eth(2), big.NewInt(1))
		encoded, err := EncodeEngineTakeOrderArgs(assetWETH, eth(1), assetMLN, pay)
		require.NoError(t, err)
		fill, err := f.hub.Vault().CallOnIntegration(testManager, VenueEngine, encoded)
		require.NoError(t, err)

		assert.Equal(t, eth(1), fill.BuyAmount)
		assert.Equal(t, pay, fill.SellAmount)
		assert.Equal(t, eth(1), f.ledger.BalanceOf(assetWETH, f.hub.Vault().Address()))
		assert.Equal(t, new(big.Int).Sub(eth(5), pay), f.ledger.BalanceOf(assetMLN, f.hub.Vault().Address()))

		filled := f.orderFilledEvents()
		require.Len(t, filled, 1)
		assert.Equal(t, VenueEngine, filled[0].Venue)
		assert.Equal(t, eth(1), filled[0].BuyAmount)
	})
}
