package fund

import (
	"fmt"
	"math/big"
	"sync"
)

// Shares tracks fund share balances. Minting happens only on request
// execution; burning only on redemption.
type Shares struct {
	balances map[string]*big.Int
	total    *big.Int
	mu       sync.RWMutex
}

// NewShares creates an empty share ledger.
func NewShares() *Shares {
	return &Shares{
		balances: make(map[string]*big.Int),
		total:    big.NewInt(0),
	}
}

// Mint credits newly issued shares.
func (s *Shares) Mint(holder string, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isValidAmount(amount) {
		return fmt.Errorf("invalid amount")
	}
	bal, ok := s.balances[holder]
	if !ok {
		bal = big.NewInt(0)
		s.balances[holder] = bal
	}
	bal.Add(bal, amount)
	s.total.Add(s.total, amount)
	return nil
}

// Burn destroys shares held by a holder.
func (s *Shares) Burn(holder string, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isValidAmount(amount) {
		return fmt.Errorf("invalid amount")
	}
	bal := s.balances[holder]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient shares")
	}
	bal.Sub(bal, amount)
	s.total.Sub(s.total, amount)
	if bal.Sign() == 0 {
		delete(s.balances, holder)
	}
	return nil
}

// BalanceOf returns the holder's share balance.
func (s *Shares) BalanceOf(holder string) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.balances[holder]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// TotalSupply returns the outstanding share supply.
func (s *Shares) TotalSupply() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.total)
}
