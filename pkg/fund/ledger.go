package fund

import (
	"fmt"
	"math/big"
	"sync"
)

// TokenLedger is the token transfer primitive backing all custody in the
// system. Every balance movement between the vault, investors and venues
// goes through it. Transfers are atomic: they either apply in full or
// return an error with no balance change.
type TokenLedger struct {
	assets     map[string]*AssetInfo
	balances   map[string]map[string]*big.Int            // asset -> holder -> balance
	allowances map[string]map[string]map[string]*big.Int // asset -> owner -> spender -> remaining
	mu         sync.RWMutex
}

// NewTokenLedger creates an empty token ledger.
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		assets:     make(map[string]*AssetInfo),
		balances:   make(map[string]map[string]*big.Int),
		allowances: make(map[string]map[string]map[string]*big.Int),
	}
}

// RegisterAsset adds an asset to the ledger. Decimals are deployment
// configuration consumed by price feeds and display layers.
func (l *TokenLedger) RegisterAsset(symbol string, decimals uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.assets[symbol]; exists {
		return fmt.Errorf("asset %s already registered", symbol)
	}
	l.assets[symbol] = &AssetInfo{Symbol: symbol, Decimals: decimals}
	l.balances[symbol] = make(map[string]*big.Int)
	l.allowances[symbol] = make(map[string]map[string]*big.Int)
	return nil
}

// Asset returns the registered info for a symbol.
func (l *TokenLedger) Asset(symbol string) (*AssetInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info, ok := l.assets[symbol]
	return info, ok
}

// Mint credits newly issued units of an asset to a holder.
func (l *TokenLedger) Mint(asset, to string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !isValidAmount(amount) {
		return fmt.Errorf("invalid amount")
	}
	holders, ok := l.balances[asset]
	if !ok {
		return fmt.Errorf("unknown asset %s", asset)
	}
	bal, ok := holders[to]
	if !ok {
		bal = big.NewInt(0)
		holders[to] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// Burn destroys units held by a holder.
func (l *TokenLedger) Burn(asset, from string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !isValidAmount(amount) {
		return fmt.Errorf("invalid amount")
	}
	holders, ok := l.balances[asset]
	if !ok {
		return fmt.Errorf("unknown asset %s", asset)
	}
	bal := holders[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	bal.Sub(bal, amount)
	return nil
}

// BalanceOf returns the holder's balance of an asset.
func (l *TokenLedger) BalanceOf(asset, holder string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	holders, ok := l.balances[asset]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := holders[holder]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// BalancesOf returns every non-zero holding of an account.
func (l *TokenLedger) BalancesOf(holder string) map[string]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]*big.Int)
	for asset, holders := range l.balances {
		if bal, ok := holders[holder]; ok && bal.Sign() > 0 {
			out[asset] = new(big.Int).Set(bal)
		}
	}
	return out
}

// Transfer moves amount of asset from one holder to another.
func (l *TokenLedger) Transfer(asset, from, to string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(asset, from, to, amount)
}

func (l *TokenLedger) transferLocked(asset, from, to string, amount *big.Int) error {
	if !isValidAmount(amount) {
		return fmt.Errorf("invalid amount")
	}
	holders, ok := l.balances[asset]
	if !ok {
		return fmt.Errorf("unknown asset %s", asset)
	}
	src := holders[from]
	if src == nil || src.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	dst, ok := holders[to]
	if !ok {
		dst = big.NewInt(0)
		holders[to] = dst
	}
	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}

// Approve sets the spender's allowance over the owner's balance.
func (l *TokenLedger) Approve(asset, owner, spender string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !isValidAmount(amount) {
		return fmt.Errorf("invalid amount")
	}
	owners, ok := l.allowances[asset]
	if !ok {
		return fmt.Errorf("unknown asset %s", asset)
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[string]*big.Int)
		owners[owner] = spenders
	}
	spenders[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining allowance of spender over owner's balance.
func (l *TokenLedger) Allowance(asset, owner, spender string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	owners, ok := l.allowances[asset]
	if !ok {
		return big.NewInt(0)
	}
	spenders, ok := owners[owner]
	if !ok {
		return big.NewInt(0)
	}
	remaining, ok := spenders[spender]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(remaining)
}

// TransferFrom moves amount from owner to recipient using the spender's
// allowance. Allowance and balance are checked before either is touched.
func (l *TokenLedger) TransferFrom(asset, spender, owner, to string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !isValidAmount(amount) {
		return fmt.Errorf("invalid amount")
	}
	owners, ok := l.allowances[asset]
	if !ok {
		return fmt.Errorf("unknown asset %s", asset)
	}
	spenders := owners[owner]
	remaining := spenders[spender]
	if remaining == nil || remaining.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient allowance")
	}
	if err := l.transferLocked(asset, owner, to, amount); err != nil {
		return err
	}
	remaining.Sub(remaining, amount)
	return nil
}

// LedgerSnapshot is a point-in-time copy of all balances and allowances.
type LedgerSnapshot struct {
	balances   map[string]map[string]*big.Int
	allowances map[string]map[string]map[string]*big.Int
}

// BalanceOf returns a holder's balance as of the snapshot.
func (s *LedgerSnapshot) BalanceOf(asset, holder string) *big.Int {
	holders, ok := s.balances[asset]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := holders[holder]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// Snapshot captures the full custody state. The vault takes one before every
// integration call so a reconciliation failure can roll everything back.
func (l *TokenLedger) Snapshot() *LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := &LedgerSnapshot{
		balances:   make(map[string]map[string]*big.Int, len(l.balances)),
		allowances: make(map[string]map[string]map[string]*big.Int, len(l.allowances)),
	}
	for asset, holders := range l.balances {
		copied := make(map[string]*big.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(big.Int).Set(bal)
		}
		snap.balances[asset] = copied
	}
	for asset, owners := range l.allowances {
		copiedOwners := make(map[string]map[string]*big.Int, len(owners))
		for owner, spenders := range owners {
			copiedSpenders := make(map[string]*big.Int, len(spenders))
			for spender, remaining := range spenders {
				copiedSpenders[spender] = new(big.Int).Set(remaining)
			}
			copiedOwners[owner] = copiedSpenders
		}
		snap.allowances[asset] = copiedOwners
	}
	return snap
}

// Restore rewinds the ledger to a snapshot.
func (l *TokenLedger) Restore(snap *LedgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for asset := range l.balances {
		l.balances[asset] = make(map[string]*big.Int)
	}
	for asset, holders := range snap.balances {
		copied := make(map[string]*big.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(big.Int).Set(bal)
		}
		l.balances[asset] = copied
	}
	for asset := range l.allowances {
		l.allowances[asset] = make(map[string]map[string]*big.Int)
	}
	for asset, owners := range snap.allowances {
		copiedOwners := make(map[string]map[string]*big.Int, len(owners))
		for owner, spenders := range owners {
			copiedSpenders := make(map[string]*big.Int, len(spenders))
			for spender, remaining := range spenders {
				copiedSpenders[spender] = new(big.Int).Set(remaining)
			}
			copiedOwners[owner] = copiedSpenders
		}
		l.allowances[asset] = copiedOwners
	}
}
