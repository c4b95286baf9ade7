package adapter

import (
	"math/big"
	"sync"

	"github/chapool/go-autoyield/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Mock is a deterministic adapter for simulations and tests. Positions are
// tracked 1:1 in asset units and yield only appears when Accrue is called.
type Mock struct {
	id    common.Address
	asset common.Address

	mu            sync.Mutex
	withdrawLimit *big.Int
}

func NewMock(id, asset common.Address) *Mock {
	return &Mock{id: id, asset: asset}
}

func (m *Mock) ID() common.Address    { return m.id }
func (m *Mock) Asset() common.Address { return m.asset }

// SetWithdrawLimit caps the assets returned by each Withdraw; nil removes the cap.
func (m *Mock) SetWithdrawLimit(limit *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.withdrawLimit = limit
}

// Accrue credits owner with amount of yield, minting the backing assets into the vault.
func (m *Mock) Accrue(state ledger.State, owner common.Address, amount *big.Int) error {
	if err := state.Mint(m.asset, m.id, amount); err != nil {
		return errors.Wrap(err, "failed to mint accrued assets")
	}
	return state.Mint(m.id, owner, amount)
}

func (m *Mock) Deposit(state ledger.State, owner common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := state.Transfer(m.asset, owner, m.id, amount); err != nil {
		return nil, errors.Wrap(err, "failed to pull assets into mock vault")
	}
	if err := state.Mint(m.id, owner, amount); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

func (m *Mock) Withdraw(state ledger.State, owner common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	assets := minBig(amount, state.BalanceOf(m.id, owner))
	m.mu.Lock()
	if m.withdrawLimit != nil {
		assets = minBig(assets, m.withdrawLimit)
	}
	m.mu.Unlock()

	if assets.Sign() == 0 {
		return new(big.Int), nil
	}
	if err := state.Burn(m.id, owner, assets); err != nil {
		return nil, err
	}
	if err := state.Transfer(m.asset, m.id, owner, assets); err != nil {
		return nil, errors.Wrap(err, "failed to release mock vault assets")
	}
	return assets, nil
}

func (m *Mock) TotalValue(state ledger.State, owner common.Address) *big.Int {
	return state.BalanceOf(m.id, owner)
}
