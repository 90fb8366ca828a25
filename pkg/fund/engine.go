package fund

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// DefaultFreezePeriod is the time lock before accumulated engine liquidity
// becomes spendable.
const DefaultFreezePeriod = 32 * 24 * time.Hour

// EngineConfig carries the engine's deployment parameters.
type EngineConfig struct {
	// NativeAsset is the base asset the engine accumulates and sells.
	NativeAsset string
	// SettlementAsset is the asset the engine charges and burns.
	SettlementAsset string
	// FreezePeriod overrides DefaultFreezePeriod when positive.
	FreezePeriod time.Duration
	// PremiumBps improves the engine's sell rate over the oracle quote,
	// in basis points of the settlement valuation.
	PremiumBps int64
}

// Engine is the internal bonding-curve liquidity venue. It accumulates the
// native asset over time, time-locks it, and once thawed sells it for the
// settlement asset at an oracle-derived premium price, burning the
// proceeds.
type Engine struct {
	addr            string
	nativeAsset     string
	settlementAsset string
	freezePeriod    time.Duration
	premiumBps      int64

	frozen      *big.Int
	liquid      *big.Int
	freezeStart time.Time

	ledger *TokenLedger
	oracle PriceSource
	events *EventFeed
	logger log.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewEngine creates an engine with empty liquidity.
func NewEngine(cfg EngineConfig, ledger *TokenLedger, oracle PriceSource, events *EventFeed, logger log.Logger) (*Engine, error) {
	if _, ok := ledger.Asset(cfg.NativeAsset); !ok {
		return nil, fmt.Errorf("native asset %s not registered", cfg.NativeAsset)
	}
	if _, ok := ledger.Asset(cfg.SettlementAsset); !ok {
		return nil, fmt.Errorf("settlement asset %s not registered", cfg.SettlementAsset)
	}
	freeze := cfg.FreezePeriod
	if freeze <= 0 {
		freeze = DefaultFreezePeriod
	}
	return &Engine{
		addr:            "engine",
		nativeAsset:     cfg.NativeAsset,
		settlementAsset: cfg.SettlementAsset,
		freezePeriod:    freeze,
		premiumBps:      cfg.PremiumBps,
		frozen:          big.NewInt(0),
		liquid:          big.NewInt(0),
		ledger:          ledger,
		oracle:          oracle,
		events:          events,
		logger:          logger.New("module", "engine"),
		now:             time.Now,
	}, nil
}

// Address returns the engine's custody account.
func (e *Engine) Address() string { return e.addr }

// NativeAsset returns the asset the engine sells.
func (e *Engine) NativeAsset() string { return e.nativeAsset }

// SettlementAsset returns the asset the engine charges.
func (e *Engine) SettlementAsset() string { return e.settlementAsset }

// Frozen returns the accumulated, not yet spendable balance.
func (e *Engine) Frozen() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.frozen)
}

// Liquid returns the thawed, spendable balance.
func (e *Engine) Liquid() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.liquid)
}

// Accumulate accepts inbound native-asset value unconditionally. The first
// deposit of a freeze epoch starts its clock.
func (e *Engine) Accumulate(from string, amount *big.Int) error {
	if !isValidAmount(amount) || amount.Sign() == 0 {
		return fmt.Errorf("invalid amount")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Transfer(e.nativeAsset, from, e.addr, amount); err != nil {
		return err
	}
	if e.frozen.Sign() == 0 {
		e.freezeStart = e.now()
	}
	e.frozen.Add(e.frozen, amount)
	e.logger.Debug("liquidity accumulated", "amount", amount.String(), "frozen", e.frozen.String())
	return nil
}

// Thaw moves the frozen balance into spendable liquidity once the freeze
// period has elapsed, and resets the clock for newly accumulated value.
func (e *Engine) Thaw() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.frozen.Sign() == 0 {
		return fmt.Errorf("no frozen liquidity to thaw")
	}
	if e.now().Before(e.freezeStart.Add(e.freezePeriod)) {
		return fmt.Errorf("Thawing not possible")
	}

	thawed := new(big.Int).Set(e.frozen)
	e.liquid.Add(e.liquid, thawed)
	e.frozen.SetInt64(0)
	e.freezeStart = time.Time{}

	e.events.Emit(EventEngineThawed, EngineThawed{
		Amount: thawed,
		Liquid: new(big.Int).Set(e.liquid),
	})
	e.logger.Info("liquidity thawed", "amount", thawed.String(), "liquid", e.liquid.String())
	return nil
}

// Price returns the engine's WAD sell rate: native units per settlement
// unit, improved by the configured premium. Burning settlement supply earns
// a better-than-market rate.
func (e *Engine) Price() (*big.Int, error) {
	rate, fresh := e.oracle.GetRate(e.settlementAsset, e.nativeAsset)
	if !fresh {
		return nil, fmt.Errorf("Price not recent")
	}
	premium := big.NewInt(10000 + e.premiumBps)
	return mulDivFloor(rate, premium, big.NewInt(10000)), nil
}

// Sell fills an order against the thawed balance: the buyer pays
// takerQuantity of the settlement asset (burned) and receives makerQuantity
// of the native asset. The settlement amount owed is rounded up so floor
// division can never under-charge the engine; callers conventionally quote
// floor(maker/price)+1.
func (e *Engine) Sell(buyer string, makerQuantity, takerQuantity *big.Int) error {
	price, err := e.Price()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if makerQuantity.Cmp(e.liquid) > 0 {
		return fmt.Errorf("Not enough liquid ether to send")
	}
	required := mulDivCeil(makerQuantity, WAD, price)
	if takerQuantity.Cmp(required) < 0 {
		return fmt.Errorf("settlement quantity too low for requested amount")
	}

	if err := e.ledger.Burn(e.settlementAsset, buyer, takerQuantity); err != nil {
		return err
	}
	if err := e.ledger.Transfer(e.nativeAsset, e.addr, buyer, makerQuantity); err != nil {
		return err
	}
	e.liquid.Sub(e.liquid, makerQuantity)
	e.logger.Info("engine fill",
		"buyer", buyer,
		"sent", makerQuantity.String(),
		"burned", takerQuantity.String(),
		"liquid", e.liquid.String())
	return nil
}
