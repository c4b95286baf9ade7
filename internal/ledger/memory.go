package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type balanceKey struct {
	token  common.Address
	holder common.Address
}

// journalEntry restores one balance (or one supply when supply is set).
type journalEntry struct {
	key    balanceKey
	supply bool
	prev   *big.Int
}

// Memory is an in-memory journaled State.
type Memory struct {
	mu        sync.Mutex
	balances  map[balanceKey]*big.Int
	supplies  map[common.Address]*big.Int
	journal   []journalEntry
	snapshots []int
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[balanceKey]*big.Int),
		supplies: make(map[common.Address]*big.Int),
	}
}

func (m *Memory) BalanceOf(token, holder common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balance(balanceKey{token: token, holder: holder})
}

func (m *Memory) TotalSupply(token common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.supplies[token]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

func (m *Memory) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fromKey := balanceKey{token: token, holder: from}
	fromBalance := m.balance(fromKey)
	if fromBalance.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "holder %s has %s, needs %s", from.Hex(), fromBalance, amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	toKey := balanceKey{token: token, holder: to}
	m.setBalance(fromKey, new(big.Int).Sub(fromBalance, amount))
	m.setBalance(toKey, new(big.Int).Add(m.balance(toKey), amount))

	return nil
}

func (m *Memory) Mint(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey{token: token, holder: to}
	m.setBalance(key, new(big.Int).Add(m.balance(key), amount))
	m.setSupply(token, new(big.Int).Add(m.supply(token), amount))

	return nil
}

func (m *Memory) Burn(token, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey{token: token, holder: from}
	current := m.balance(key)
	if current.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "cannot burn %s from %s holding %s", amount, from.Hex(), current)
	}

	m.setBalance(key, new(big.Int).Sub(current, amount))
	m.setSupply(token, new(big.Int).Sub(m.supply(token), amount))

	return nil
}

func (m *Memory) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = append(m.snapshots, len(m.journal))
	return len(m.snapshots) - 1
}

// RevertToSnapshot undoes every change made after the snapshot was taken and
// discards that snapshot together with all snapshots taken after it.
func (m *Memory) RevertToSnapshot(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id < 0 || id >= len(m.snapshots) {
		return errors.Wrapf(ErrInvalidSnapshot, "id %d", id)
	}

	mark := m.snapshots[id]
	for i := len(m.journal) - 1; i >= mark; i-- {
		entry := m.journal[i]
		if entry.supply {
			m.supplies[entry.key.token] = entry.prev
			continue
		}
		m.balances[entry.key] = entry.prev
	}

	m.journal = m.journal[:mark]
	m.snapshots = m.snapshots[:id]

	return nil
}

func (m *Memory) DiscardSnapshot(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id < 0 || id >= len(m.snapshots) {
		return errors.Wrapf(ErrInvalidSnapshot, "id %d", id)
	}

	m.snapshots = m.snapshots[:id]
	if len(m.snapshots) == 0 {
		m.journal = m.journal[:0]
	}

	return nil
}

func (m *Memory) balance(key balanceKey) *big.Int {
	if b, ok := m.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *Memory) supply(token common.Address) *big.Int {
	if s, ok := m.supplies[token]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

func (m *Memory) setBalance(key balanceKey, value *big.Int) {
	m.journal = append(m.journal, journalEntry{key: key, prev: m.balance(key)})
	m.balances[key] = value
}

func (m *Memory) setSupply(token common.Address, value *big.Int) {
	m.journal = append(m.journal, journalEntry{key: balanceKey{token: token}, supply: true, prev: m.supply(token)})
	m.supplies[token] = value
}
