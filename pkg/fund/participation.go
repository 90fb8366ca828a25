package fund

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// Request is one investor's pending, not-yet-priced intent to deposit
// capital for shares. At most one per investor; the investor address is
// the unique key.
type Request struct {
	Investor  string    `json:"investor"`
	Asset     string    `json:"asset"`
	Amount    *big.Int  `json:"amount"`
	MinShares *big.Int  `json:"minShares"`
	Timestamp time.Time `json:"timestamp"`
}

// Participation is the two-phase investment ledger. Requesting escrows the
// deposit; execution re-checks shutdown and price freshness before pricing
// the capital into shares. The split is a deliberate re-validation
// boundary: a stale quote at request time settles before capital is priced.
type Participation struct {
	hub        *Hub
	escrowAddr string
	requests   map[string]*Request
	logger     log.Logger
	mu         sync.Mutex
}

func newParticipation(h *Hub) *Participation {
	return &Participation{
		hub:        h,
		escrowAddr: h.name + "/escrow",
		requests:   make(map[string]*Request),
		logger:     h.logger.New("module", "participation"),
	}
}

// EscrowAddress returns the account pending deposits are staged in.
func (p *Participation) EscrowAddress() string { return p.escrowAddr }

// RequestInvestment opens a pending request and escrows the deposit. A
// prior pending request for the same investor is replaced, its escrow
// refunded first; last write wins without error.
func (p *Participation) RequestInvestment(investor string, amount, minShares *big.Int, asset string) error {
	if p.hub.IsShutDown() {
		return fmt.Errorf("Cannot invest in shut down fund")
	}
	if !isValidAmount(amount) || !isValidAmount(minShares) {
		return fmt.Errorf("invalid amount")
	}
	if _, ok := p.hub.ledger.Asset(asset); !ok {
		return fmt.Errorf("unknown asset %s", asset)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prior, ok := p.requests[investor]; ok {
		if err := p.hub.ledger.Transfer(prior.Asset, p.escrowAddr, prior.Investor, prior.Amount); err != nil {
			return err
		}
		delete(p.requests, investor)
	}
	if err := p.hub.ledger.Transfer(asset, investor, p.escrowAddr, amount); err != nil {
		return err
	}

	p.requests[investor] = &Request{
		Investor:  investor,
		Asset:     asset,
		Amount:    clone(amount),
		MinShares: clone(minShares),
		Timestamp: p.hub.now(),
	}
	p.hub.events.Emit(EventInvestmentRequested, InvestmentRequested{
		Investor:  investor,
		Asset:     asset,
		Amount:    clone(amount),
		MinShares: clone(minShares),
	})
	p.logger.Info("investment requested",
		"investor", investor, "asset", asset, "amount", amount.String())
	return nil
}

// CancelRequest refunds the escrowed deposit in full and deletes the
// pending request.
func (p *Participation) CancelRequest(investor string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.requests[investor]
	if !ok {
		return fmt.Errorf("No request for this address")
	}
	if err := p.hub.ledger.Transfer(req.Asset, p.escrowAddr, investor, req.Amount); err != nil {
		return err
	}
	delete(p.requests, investor)

	p.hub.events.Emit(EventRequestCancelled, RequestCancelled{
		Investor: investor,
		Asset:    req.Asset,
		Refunded: clone(req.Amount),
	})
	p.logger.Info("request cancelled", "investor", investor)
	return nil
}

// HasRequest reports whether an executable request is pending for the
// investor. A zero-amount request counts as absent.
func (p *Participation) HasRequest(investor string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.requests[investor]
	return ok && req.Amount.Sign() > 0
}

// PendingRequest returns a copy of the investor's pending request.
func (p *Participation) PendingRequest(investor string) (*Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.requests[investor]
	if !ok {
		return nil, false
	}
	out := *req
	out.Amount = clone(req.Amount)
	out.MinShares = clone(req.MinShares)
	return &out, true
}

// ExecuteRequest converts the caller's own pending request into shares.
func (p *Participation) ExecuteRequest(investor string) (*big.Int, error) {
	return p.ExecuteRequestFor(investor, investor)
}

// ExecuteRequestFor executes a pending request on behalf of an investor.
// Shutdown and price freshness are re-checked here, not cached from
// request time. All checks run before any mutation so the call is atomic.
func (p *Participation) ExecuteRequestFor(caller, investor string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.requests[investor]
	if !ok || req.Amount.Sign() == 0 {
		return nil, fmt.Errorf("No request for this address")
	}
	if p.hub.IsShutDown() {
		return nil, fmt.Errorf("Cannot invest in shut down fund")
	}

	shares, err := p.shareQuantity(req)
	if err != nil {
		return nil, err
	}
	if shares.Cmp(req.MinShares) < 0 {
		return nil, fmt.Errorf("Too few shares would be received")
	}

	// Checks done; the remaining effects cannot fail. Escrow holds the
	// deposit by construction and minting only adds.
	if err := p.hub.ledger.Transfer(req.Asset, p.escrowAddr, p.hub.vault.addr, req.Amount); err != nil {
		return nil, err
	}
	if err := p.hub.shares.Mint(investor, shares); err != nil {
		return nil, err
	}
	delete(p.requests, investor)

	p.hub.events.Emit(EventRequestExecuted, RequestExecuted{
		Investor: investor,
		Asset:    req.Asset,
		Amount:   clone(req.Amount),
		Shares:   clone(shares),
	})
	p.logger.Info("request executed",
		"investor", investor,
		"caller", caller,
		"asset", req.Asset,
		"amount", req.Amount.String(),
		"shares", shares.String())
	return shares, nil
}

// shareQuantity prices a deposit into shares at the fund's current share
// price. The first investment sets a 1:1 price in denomination terms.
// Rounds down: share issuance never favors the incoming investor.
func (p *Participation) shareQuantity(req *Request) (*big.Int, error) {
	depositValue, err := p.denomValue(req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	supply := p.hub.shares.TotalSupply()
	if supply.Sign() == 0 {
		return depositValue, nil
	}

	nav := big.NewInt(0)
	for asset, bal := range p.hub.vault.Holdings() {
		value, err := p.denomValue(asset, bal)
		if err != nil {
			return nil, err
		}
		nav.Add(nav, value)
	}
	if nav.Sign() == 0 {
		return nil, fmt.Errorf("fund has shares but no value")
	}
	return mulDivFloor(depositValue, supply, nav), nil
}

func (p *Participation) denomValue(asset string, amount *big.Int) (*big.Int, error) {
	rate, fresh := p.hub.oracle.GetRate(asset, p.hub.denomAsset)
	if !fresh {
		return nil, fmt.Errorf("Price not recent")
	}
	return mulDivFloor(amount, rate, WAD), nil
}

// RedeemShares burns all of the investor's shares and pays out the
// proportional slice of every vault holding. Rounds down per holding.
func (p *Participation) RedeemShares(investor string) (map[string]*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.hub.shares.BalanceOf(investor)
	if held.Sign() == 0 {
		return nil, fmt.Errorf("no shares to redeem")
	}
	supply := p.hub.shares.TotalSupply()

	payouts := make(map[string]*big.Int)
	for asset, bal := range p.hub.vault.Holdings() {
		payouts[asset] = mulDivFloor(bal, held, supply)
	}
	if err := p.hub.shares.Burn(investor, held); err != nil {
		return nil, err
	}
	for asset, amount := range payouts {
		if err := p.hub.ledger.Transfer(asset, p.hub.vault.addr, investor, amount); err != nil {
			return nil, err
		}
	}

	p.hub.events.Emit(EventSharesRedeemed, SharesRedeemed{
		Investor: investor,
		Shares:   clone(held),
		Payouts:  payouts,
	})
	p.logger.Info("shares redeemed", "investor", investor, "shares", held.String())
	return payouts, nil
}
