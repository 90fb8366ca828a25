package fund

import (
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// HubConfig carries the deployment-time parameters of one fund.
type HubConfig struct {
	Name              string
	Manager           string
	DenominationAsset string
}

// Hub is the composition root of a fund. It binds the vault, the
// participation ledger and the adapter registry, and carries the shutdown
// flag that gates every mutating operation.
type Hub struct {
	name          string
	manager       string
	denomAsset    string
	ledger        *TokenLedger
	oracle        PriceSource
	shares        *Shares
	vault         *Vault
	participation *Participation
	registry      *AdapterRegistry
	events        *EventFeed
	logger        log.Logger

	shutDown bool
	now      func() time.Time
	mu       sync.RWMutex
}

// NewHub wires a fund together and emits FundSetupCompleted.
func NewHub(cfg HubConfig, ledger *TokenLedger, oracle PriceSource, logger log.Logger) (*Hub, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("fund name must not be empty")
	}
	if cfg.Manager == "" {
		return nil, fmt.Errorf("fund manager must not be empty")
	}
	if _, ok := ledger.Asset(cfg.DenominationAsset); !ok {
		return nil, fmt.Errorf("denomination asset %s not registered", cfg.DenominationAsset)
	}

	h := &Hub{
		name:       cfg.Name,
		manager:    cfg.Manager,
		denomAsset: cfg.DenominationAsset,
		ledger:     ledger,
		oracle:     oracle,
		shares:     NewShares(),
		registry:   NewAdapterRegistry(),
		events:     NewEventFeed(),
		logger:     logger.New("fund", cfg.Name),
		now:        time.Now,
	}
	h.vault = newVault(h)
	h.participation = newParticipation(h)

	h.events.Emit(EventFundSetupCompleted, FundSetupCompleted{Hub: cfg.Name})
	h.logger.Info("fund setup completed",
		"manager", cfg.Manager,
		"denomination", cfg.DenominationAsset)
	return h, nil
}

// Name returns the fund's name.
func (h *Hub) Name() string { return h.name }

// Manager returns the fund manager's address.
func (h *Hub) Manager() string { return h.manager }

// DenominationAsset returns the asset share prices are quoted in.
func (h *Hub) DenominationAsset() string { return h.denomAsset }

// Ledger returns the fund's token ledger.
func (h *Hub) Ledger() *TokenLedger { return h.ledger }

// Oracle returns the fund's price source.
func (h *Hub) Oracle() PriceSource { return h.oracle }

// Shares returns the fund's share ledger.
func (h *Hub) Shares() *Shares { return h.shares }

// Vault returns the fund's custody vault.
func (h *Hub) Vault() *Vault { return h.vault }

// Participation returns the fund's investment ledger.
func (h *Hub) Participation() *Participation { return h.participation }

// Registry returns the fund's adapter registry.
func (h *Hub) Registry() *AdapterRegistry { return h.registry }

// Events returns the fund's event feed.
func (h *Hub) Events() *EventFeed { return h.events }

// IsShutDown reports whether the emergency stop is engaged.
func (h *Hub) IsShutDown() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.shutDown
}

// ShutDown engages the emergency stop. Manager only.
func (h *Hub) ShutDown(caller string) error {
	if caller != h.manager {
		return fmt.Errorf("Only the fund manager can call this")
	}
	h.mu.Lock()
	h.shutDown = true
	h.mu.Unlock()

	h.events.Emit(EventFundShutDown, nil)
	h.logger.Warn("fund shut down", "by", caller)
	return nil
}

// Resume clears the emergency stop. Manager only.
func (h *Hub) Resume(caller string) error {
	if caller != h.manager {
		return fmt.Errorf("Only the fund manager can call this")
	}
	h.mu.Lock()
	h.shutDown = false
	h.mu.Unlock()

	h.events.Emit(EventFundResumed, nil)
	h.logger.Info("fund resumed", "by", caller)
	return nil
}
