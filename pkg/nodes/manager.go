package nodes

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNodeNotFound indicates the identity is not a registered node
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeExists indicates the identity is already registered
	ErrNodeExists = errors.New("node already registered")

	// ErrInsufficientStake indicates the stake reduction exceeds the staked amount
	ErrInsufficientStake = errors.New("insufficient staked amount")
)

// Node is a participant account record
type Node struct {
	Address    string    `json:"address"`
	Staked     uint64    `json:"staked"`
	Delegated  uint64    `json:"delegated"`
	Reputation int64     `json:"reputation"`
	LastActive time.Time `json:"last_active"`
}

// Manager manages node accounts, their stake and reputation
type Manager struct {
	nodes map[string]*Node
	// minStake is the activity threshold; a node with less staked is inactive
	minStake uint64
	// privilegedReputation is the score at or above which an active node
	// qualifies for the privileged reward multiplier
	privilegedReputation int64
	mutex                sync.RWMutex
	now                  func() time.Time
}

// NewManager creates a new node manager
func NewManager(minStake uint64, privilegedReputation int64) *Manager {
	return &Manager{
		nodes:                make(map[string]*Node),
		minStake:             minStake,
		privilegedReputation: privilegedReputation,
		now:                  time.Now,
	}
}

// Register creates a new node account
func (m *Manager) Register(address string, stake uint64, reputation int64) (*Node, error) {
	if address == "" {
		return nil, errors.New("node address must not be empty")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.nodes[address]; exists {
		return nil, ErrNodeExists
	}
	node := &Node{
		Address:    address,
		Staked:     stake,
		Reputation: reputation,
		LastActive: m.now(),
	}
	m.nodes[address] = node
	out := *node
	return &out, nil
}

// Remove deletes a node account
func (m *Manager) Remove(address string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.nodes[address]; !exists {
		return ErrNodeNotFound
	}
	delete(m.nodes, address)
	return nil
}

// Get returns a copy of the node record
func (m *Manager) Get(address string) (*Node, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	node, exists := m.nodes[address]
	if !exists {
		return nil, ErrNodeNotFound
	}
	out := *node
	return &out, nil
}

// List returns copies of all node records
func (m *Manager) List() []*Node {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]*Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		copy := *node
		out = append(out, &copy)
	}
	return out
}

// AddStake increases a node's staked amount
func (m *Manager) AddStake(address string, amount uint64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	node, exists := m.nodes[address]
	if !exists {
		return ErrNodeNotFound
	}
	node.Staked += amount
	node.LastActive = m.now()
	return nil
}

// ReduceStake decreases a node's staked amount
func (m *Manager) ReduceStake(address string, amount uint64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	node, exists := m.nodes[address]
	if !exists {
		return ErrNodeNotFound
	}
	if node.Staked < amount {
		return ErrInsufficientStake
	}
	node.Staked -= amount
	node.LastActive = m.now()
	return nil
}

// Delegate adds delegated weight to a node
func (m *Manager) Delegate(address string, amount uint64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	node, exists := m.nodes[address]
	if !exists {
		return ErrNodeNotFound
	}
	node.Delegated += amount
	return nil
}

// SetReputation updates a node's reputation score
func (m *Manager) SetReputation(address string, score int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	node, exists := m.nodes[address]
	if !exists {
		return ErrNodeNotFound
	}
	node.Reputation = score
	return nil
}

// IsRegistered reports whether the identity is a registered node
func (m *Manager) IsRegistered(address string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, exists := m.nodes[address]
	return exists
}

// IsActive reports whether the node's stake meets the minimum threshold
func (m *Manager) IsActive(address string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	node, exists := m.nodes[address]
	return exists && node.Staked >= m.minStake
}

// IsPrivileged reports whether the node qualifies for the privileged
// reward multiplier: active and at or above the reputation threshold.
func (m *Manager) IsPrivileged(address string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	node, exists := m.nodes[address]
	return exists && node.Staked >= m.minStake && node.Reputation >= m.privilegedReputation
}

// ReputationOf returns the node's reputation score, zero if unknown
func (m *Manager) ReputationOf(address string) int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if node, exists := m.nodes[address]; exists {
		return node.Reputation
	}
	return 0
}

// TotalStaked returns the sum of all staked amounts
func (m *Manager) TotalStaked() uint64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var total uint64
	for _, node := range m.nodes {
		total += node.Staked
	}
	return total
}
