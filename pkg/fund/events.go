package fund

import (
	"math/big"
	"sync"
	"time"
)

// EventType tags the settlement events a fund emits.
type EventType string

const (
	EventFundSetupCompleted  EventType = "FundSetupCompleted"
	EventFundShutDown        EventType = "FundShutDown"
	EventFundResumed         EventType = "FundResumed"
	EventInvestmentRequested EventType = "InvestmentRequested"
	EventRequestCancelled    EventType = "RequestCancelled"
	EventRequestExecuted     EventType = "RequestExecuted"
	EventSharesRedeemed      EventType = "SharesRedeemed"
	EventOrderFilled         EventType = "OrderFilled"
	EventEngineThawed        EventType = "EngineThawed"
)

// Event is one entry in a fund's event log.
type Event struct {
	Sequence uint64      `json:"sequence"`
	Type     EventType   `json:"type"`
	Time     time.Time   `json:"time"`
	Data     interface{} `json:"data"`
}

// FundSetupCompleted is emitted once when a hub finishes wiring its spokes.
type FundSetupCompleted struct {
	Hub string `json:"hub"`
}

// InvestmentRequested is emitted when an investor opens or replaces a
// pending investment request.
type InvestmentRequested struct {
	Investor  string   `json:"investor"`
	Asset     string   `json:"asset"`
	Amount    *big.Int `json:"amount"`
	MinShares *big.Int `json:"minShares"`
}

// RequestCancelled is emitted when a pending request is cancelled and its
// escrow refunded.
type RequestCancelled struct {
	Investor string   `json:"investor"`
	Asset    string   `json:"asset"`
	Refunded *big.Int `json:"refunded"`
}

// RequestExecuted is emitted when a pending request converts into shares.
type RequestExecuted struct {
	Investor string   `json:"investor"`
	Asset    string   `json:"asset"`
	Amount   *big.Int `json:"amount"`
	Shares   *big.Int `json:"shares"`
}

// SharesRedeemed is emitted when an investor burns shares for a slice of
// the vault holdings.
type SharesRedeemed struct {
	Investor string              `json:"investor"`
	Shares   *big.Int            `json:"shares"`
	Payouts  map[string]*big.Int `json:"payouts"`
}

// OrderFilled is the normalized fill report, emitted exactly once per
// successful integration call.
type OrderFilled struct {
	Venue      string     `json:"venue"`
	BuyAsset   string     `json:"buyAsset"`
	BuyAmount  *big.Int   `json:"buyAmount"`
	SellAsset  string     `json:"sellAsset"`
	SellAmount *big.Int   `json:"sellAmount"`
	FeeAssets  []string   `json:"feeAssets"`
	FeeAmounts []*big.Int `json:"feeAmounts"`
}

// EngineThawed is emitted when frozen engine liquidity becomes spendable.
type EngineThawed struct {
	Amount *big.Int `json:"amount"`
	Liquid *big.Int `json:"liquid"`
}

// EventFeed is an append-only event log with fan-out to subscribers.
// Slow subscribers are skipped rather than blocking settlement.
type EventFeed struct {
	events []Event
	subs   []chan Event
	seq    uint64
	now    func() time.Time
	mu     sync.RWMutex
}

// NewEventFeed creates an empty feed.
func NewEventFeed() *EventFeed {
	return &EventFeed{now: time.Now}
}

// Emit appends an event and fans it out.
func (f *EventFeed) Emit(t EventType, data interface{}) Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	ev := Event{Sequence: f.seq, Type: t, Time: f.now(), Data: data}
	f.events = append(f.events, ev)
	for _, sub := range f.subs {
		select {
		case sub <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel receiving every event emitted after the call.
func (f *EventFeed) Subscribe(buffer int) <-chan Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Event, buffer)
	f.subs = append(f.subs, ch)
	return ch
}

// Events returns a copy of the full log.
func (f *EventFeed) Events() []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// EventsByType filters the log by event type.
func (f *EventFeed) EventsByType(t EventType) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []Event
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
