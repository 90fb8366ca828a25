package fund

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHubValidation(t *testing.T) {
	ledger := NewTokenLedger()
	require.NoError(t, ledger.RegisterAsset(assetWETH, 18))
	feed := NewPriceFeed(0)

	t.Run("empty name", func(t *testing.T) {
		_, err := NewHub(HubConfig{Manager: testManager, DenominationAsset: assetWETH}, ledger, feed, newTestLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fund name must not be empty")
	})

	t.Run("empty manager", func(t *testing.T) {
		_, err := NewHub(HubConfig{Name: "f", DenominationAsset: assetWETH}, ledger, feed, newTestLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fund manager must not be empty")
	})

	t.Run("unregistered denomination asset", func(t *testing.T) {
		_, err := NewHub(HubConfig{Name: "f", Manager: testManager, DenominationAsset: assetDAI}, ledger, feed, newTestLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "denomination asset "+assetDAI+" not registered")
	})
}

func TestHubSetupEmitsEvent(t *testing.T) {
	f := newTestFund(t)

	setups := f.hub.Events().EventsByType(EventFundSetupCompleted)
	require.Len(t, setups, 1)
	assert.Equal(t, f.hub.Name(), setups[0].Data.(FundSetupCompleted).Hub)
	assert.Equal(t, testManager, f.hub.Manager())
	assert.Equal(t, assetWETH, f.hub.DenominationAsset())
}

func TestShutDownAndResume(t *testing.T) {
	f := newTestFund(t)

	t.Run("manager only", func(t *testing.T) {
		err := f.hub.ShutDown(testInvestor)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Only the fund manager can call this")
		assert.False(t, f.hub.IsShutDown())

		require.NoError(t, f.hub.ShutDown(testManager))
		assert.True(t, f.hub.IsShutDown())

		err = f.hub.Resume(testInvestor)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Only the fund manager can call this")
		assert.True(t, f.hub.IsShutDown())

		require.NoError(t, f.hub.Resume(testManager))
		assert.False(t, f.hub.IsShutDown())
	})

	t.Run("events", func(t *testing.T) {
		assert.Len(t, f.hub.Events().EventsByType(EventFundShutDown), 1)
		assert.Len(t, f.hub.Events().EventsByType(EventFundResumed), 1)
	})
}
