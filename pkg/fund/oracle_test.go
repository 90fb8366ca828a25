package fund

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceFeedRates(t *testing.T) {
	clock := newTestClock()
	feed := NewPriceFeed(time.Hour)
	feed.now = clock.Now
	postTestPrices(t, feed)

	t.Run("CrossRate", func(t *testing.T) {
		rate, fresh := feed.GetRate(assetMLN, assetWETH)
		require.True(t, fresh)
		assert.Equal(t, milli(500), rate, "0.5 WETH per MLN")

		inverse, fresh := feed.GetRate(assetWETH, assetMLN)
		require.True(t, fresh)
		assert.Equal(t, eth(2), inverse)
	})

	t.Run("SameAsset", func(t *testing.T) {
		rate, fresh := feed.GetRate(assetDAI, assetDAI)
		require.True(t, fresh)
		assert.Equal(t, new(big.Int).Set(WAD), rate)
	})

	t.Run("UnknownAsset", func(t *testing.T) {
		_, fresh := feed.GetRate("UNPRICED", assetWETH)
		assert.False(t, fresh)
	})

	t.Run("StaleAfterWindow", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		_, fresh := feed.GetRate(assetMLN, assetWETH)
		assert.False(t, fresh)

		// A repost refreshes the quote.
		require.NoError(t, feed.PostRate(assetMLN, decimal.RequireFromString("0.5")))
		require.NoError(t, feed.PostRate(assetWETH, decimal.NewFromInt(1)))
		_, fresh = feed.GetRate(assetMLN, assetWETH)
		assert.True(t, fresh)
	})

	t.Run("MarkStale", func(t *testing.T) {
		feed.MarkStale(assetMLN)
		rate, fresh := feed.GetRate(assetMLN, assetWETH)
		assert.False(t, fresh)
		assert.Equal(t, milli(500), rate, "rate still quoted, just not fresh")
	})

	t.Run("RejectsNonPositivePrice", func(t *testing.T) {
		err := feed.PostRate(assetDAI, decimal.Zero)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "price must be positive")
	})
}
