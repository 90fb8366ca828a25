package fund

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource supplies a quoted exchange rate between two assets plus a
// freshness flag. The settlement core only ever consumes these two signals;
// how the rate is produced is the feed's business.
type PriceSource interface {
	// GetRate returns the WAD-scaled rate of base in quote terms and
	// whether the underlying observations are within the staleness window.
	GetRate(base, quote string) (*big.Int, bool)
}

type pricePoint struct {
	rate *big.Int // WAD price of the asset in reference-quote terms
	at   time.Time
}

// PriceFeed is a push-updated price source. Observers post per-asset prices
// in a common reference quote; cross rates derive from the quote chain.
// A quote goes stale once its newest observation is older than the window.
type PriceFeed struct {
	window time.Duration
	prices map[string]*pricePoint
	now    func() time.Time
	mu     sync.RWMutex
}

// NewPriceFeed creates a feed with the given staleness window. A
// non-positive window disables staleness checks.
func NewPriceFeed(window time.Duration) *PriceFeed {
	return &PriceFeed{
		window: window,
		prices: make(map[string]*pricePoint),
		now:    time.Now,
	}
}

// PostRate records a human-unit price for an asset in reference-quote terms.
func (f *PriceFeed) PostRate(asset string, price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("price must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = &pricePoint{
		rate: price.Shift(18).BigInt(),
		at:   f.now(),
	}
	return nil
}

// MarkStale forces the quote for an asset to report not-fresh, regardless of
// wall clock. Used operationally to fence off a feed known to be bad.
func (f *PriceFeed) MarkStale(asset string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prices[asset]; ok {
		p.at = time.Time{}
	}
}

// GetRate implements PriceSource. The rate of base in quote terms is the
// ratio of their reference prices, floor-divided at WAD precision.
func (f *PriceFeed) GetRate(base, quote string) (*big.Int, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if base == quote {
		return new(big.Int).Set(WAD), true
	}
	pb, okB := f.prices[base]
	pq, okQ := f.prices[quote]
	if !okB || !okQ || pq.rate.Sign() == 0 {
		return big.NewInt(0), false
	}
	rate := mulDivFloor(pb.rate, WAD, pq.rate)
	return rate, f.isRecent(pb.at) && f.isRecent(pq.at)
}

// LastUpdate returns the time of the newest observation for an asset.
func (f *PriceFeed) LastUpdate(asset string) (time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[asset]
	if !ok {
		return time.Time{}, false
	}
	return p.at, true
}

func (f *PriceFeed) isRecent(at time.Time) bool {
	if at.IsZero() {
		return false
	}
	if f.window <= 0 {
		return true
	}
	return f.now().Sub(at) <= f.window
}
