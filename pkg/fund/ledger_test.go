package fund

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLedgerTransfers(t *testing.T) {
	ledger := NewTokenLedger()
	require.NoError(t, ledger.RegisterAsset(assetWETH, 18))
	require.NoError(t, ledger.Mint(assetWETH, "alice", eth(5)))

	t.Run("Transfer", func(t *testing.T) {
		require.NoError(t, ledger.Transfer(assetWETH, "alice", "bob", eth(2)))
		assert.Equal(t, eth(3), ledger.BalanceOf(assetWETH, "alice"))
		assert.Equal(t, eth(2), ledger.BalanceOf(assetWETH, "bob"))
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		err := ledger.Transfer(assetWETH, "bob", "alice", eth(100))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insufficient balance")
		assert.Equal(t, eth(2), ledger.BalanceOf(assetWETH, "bob"))
	})

	t.Run("UnknownAsset", func(t *testing.T) {
		err := ledger.Transfer("UNREGISTERED", "alice", "bob", eth(1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown asset")
	})

	t.Run("TransferFromNeedsAllowance", func(t *testing.T) {
		err := ledger.TransferFrom(assetWETH, "spender", "alice", "bob", eth(1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insufficient allowance")

		require.NoError(t, ledger.Approve(assetWETH, "alice", "spender", eth(1)))
		require.NoError(t, ledger.TransferFrom(assetWETH, "spender", "alice", "bob", eth(1)))
		assert.Equal(t, big.NewInt(0), ledger.Allowance(assetWETH, "alice", "spender"))
	})
}

func TestTokenLedgerSnapshotRestore(t *testing.T) {
	ledger := NewTokenLedger()
	require.NoError(t, ledger.RegisterAsset(assetWETH, 18))
	require.NoError(t, ledger.RegisterAsset(assetMLN, 18))
	require.NoError(t, ledger.Mint(assetWETH, "alice", eth(5)))
	require.NoError(t, ledger.Approve(assetWETH, "alice", "spender", eth(4)))

	snap := ledger.Snapshot()

	require.NoError(t, ledger.Transfer(assetWETH, "alice", "bob", eth(3)))
	require.NoError(t, ledger.Mint(assetMLN, "bob", eth(7)))
	require.NoError(t, ledger.TransferFrom(assetWETH, "spender", "alice", "carol", eth(1)))

	ledger.Restore(snap)

	assert.Equal(t, eth(5), ledger.BalanceOf(assetWETH, "alice"))
	assert.Equal(t, big.NewInt(0), ledger.BalanceOf(assetWETH, "bob"))
	assert.Equal(t, big.NewInt(0), ledger.BalanceOf(assetMLN, "bob"))
	assert.Equal(t, eth(4), ledger.Allowance(assetWETH, "alice", "spender"))
	assert.Equal(t, eth(5), snap.BalanceOf(assetWETH, "alice"))
}
