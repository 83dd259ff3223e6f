package token

import (
	"sync"
)

// System is the in-memory reference implementation of Ledger
type System struct {
	balances   map[string]uint64
	allowances map[string]map[string]uint64
	mutex      sync.RWMutex
}

// NewSystem creates a new token system
func NewSystem() *System {
	return &System{
		balances:   make(map[string]uint64),
		allowances: make(map[string]map[string]uint64),
	}
}

// Mint credits freshly issued tokens to an address
func (s *System) Mint(identity string, amount uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.balances[identity] += amount
}

// BalanceOf returns the balance of an identity
func (s *System) BalanceOf(identity string) uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.balances[identity]
}

// TotalSupply returns the sum of all balances
func (s *System) TotalSupply() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var total uint64
	for _, balance := range s.balances {
		total += balance
	}
	return total
}

// Transfer moves tokens from one identity to another
func (s *System) Transfer(from, to string, amount uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.transfer(from, to, amount)
}

// TransferFrom moves tokens on behalf of the owner, consuming allowance
func (s *System) TransferFrom(spender, from, to string, amount uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.allowances[from][spender] < amount {
		return ErrInsufficientAllowance
	}
	if err := s.transfer(from, to, amount); err != nil {
		return err
	}
	s.allowances[from][spender] -= amount
	return nil
}

// Allowance returns how much spender may move on behalf of owner
func (s *System) Allowance(owner, spender string) uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.allowances[owner][spender]
}

// Approve sets the spender allowance for the owner
func (s *System) Approve(owner, spender string, amount uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.allowances[owner] == nil {
		s.allowances[owner] = make(map[string]uint64)
	}
	s.allowances[owner][spender] = amount
	return nil
}

func (s *System) transfer(from, to string, amount uint64) error {
	if s.balances[from] < amount {
		return ErrInsufficientBalance
	}
	s.balances[from] -= amount
	s.balances[to] += amount
	return nil
}
