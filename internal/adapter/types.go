// Package adapter normalizes external yield vaults to plain asset-amount
// semantics: deposit, withdraw and total value for one owner.
package adapter

import (
	"math/big"

	"github/chapool/go-autoyield/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrInvalidAmount   = errors.New("adapter amount must be positive")
	ErrZeroShares      = errors.New("deposit too small to mint shares")
	ErrAdapterExists   = errors.New("adapter already registered")
	ErrAdapterNotFound = errors.New("adapter not registered")
)

// Adapter wraps one yield-bearing vault. The owner is the account on whose
// behalf the call is made.
type Adapter interface {
	// ID identifies the adapter on the account whitelist.
	ID() common.Address

	// Asset is the token the vault accepts.
	Asset() common.Address

	// Deposit moves amount of the asset from owner into the vault and returns the shares minted.
	Deposit(state ledger.State, owner common.Address, amount *big.Int) (*big.Int, error)

	// Withdraw returns up to amount of the asset to owner. The returned amount is
	// authoritative and may be lower than requested when the vault is liquidity limited.
	Withdraw(state ledger.State, owner common.Address, amount *big.Int) (*big.Int, error)

	// TotalValue reports the asset value of owner's position.
	TotalValue(state ledger.State, owner common.Address) *big.Int
}
