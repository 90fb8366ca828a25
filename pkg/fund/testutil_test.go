package fund

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	assetWETH = "WETH"
	assetMLN  = "MLN"
	assetDAI  = "DAI"
	assetZRX  = "ZRX"

	testManager  = "manager"
	testInvestor = "investor1"
	testMaker    = "counterparty"
)

// testClock is a settable wall clock shared by every time-gated component
// in a fixture.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLogger() log.Logger {
	level, _ := log.ToLevel("error")
	return log.NewTestLogger(level)
}

// testFund bundles a fully wired fund with its collaborators.
type testFund struct {
	clock  *testClock
	ledger *TokenLedger
	feed   *PriceFeed
	hub    *Hub
}

// newTestFund builds a WETH-denominated fund with four registered assets,
// fresh prices, a funded investor and an MLN-funded counterparty.
func newTestFund(t *testing.T) *testFund {
	t.Helper()

	clock := newTestClock()
	ledger := NewTokenLedger()
	for _, asset := range []string{assetWETH, assetMLN, assetDAI, assetZRX} {
		require.NoError(t, ledger.RegisterAsset(asset, 18))
	}

	feed := NewPriceFeed(time.Hour)
	feed.now = clock.Now
	postTestPrices(t, feed)

	hub, err := NewHub(HubConfig{
		Name:              "testfund",
		Manager:           testManager,
		DenominationAsset: assetWETH,
	}, ledger, feed, newTestLogger())
	require.NoError(t, err)
	hub.now = clock.Now

	require.NoError(t, ledger.Mint(assetWETH, testInvestor, eth(10)))
	require.NoError(t, ledger.Mint(assetMLN, testInvestor, eth(10)))
	require.NoError(t, ledger.Mint(assetMLN, testMaker, eth(10)))

	return &testFund{clock: clock, ledger: ledger, feed: feed, hub: hub}
}

// postTestPrices publishes reference prices: WETH 1.0, MLN 0.5, DAI 0.001,
// ZRX 0.002 (all in WETH terms since WETH posts at 1.0).
func postTestPrices(t *testing.T, feed *PriceFeed) {
	t.Helper()
	require.NoError(t, feed.PostRate(assetWETH, decimal.NewFromInt(1)))
	require.NoError(t, feed.PostRate(assetMLN, decimal.RequireFromString("0.5")))
	require.NoError(t, feed.PostRate(assetDAI, decimal.RequireFromString("0.001")))
	require.NoError(t, feed.PostRate(assetZRX, decimal.RequireFromString("0.002")))
}

// eth returns n * 1e18.
func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), WAD)
}

// milli returns n * 1e15.
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil))
}

// invest runs the full request/execute path for the investor.
func (f *testFund) invest(t *testing.T, investor string, amount *big.Int, asset string) *big.Int {
	t.Helper()
	require.NoError(t, f.hub.Participation().RequestInvestment(investor, amount, big.NewInt(0), asset))
	shares, err := f.hub.Participation().ExecuteRequest(investor)
	require.NoError(t, err)
	return shares
}

// orderFilledEvents returns the OrderFilled payloads emitted so far.
func (f *testFund) orderFilledEvents() []OrderFilled {
	var out []OrderFilled
	for _, ev := range f.hub.Events().EventsByType(EventOrderFilled) {
		out = append(out, ev.Data.(OrderFilled))
	}
	return out
}
