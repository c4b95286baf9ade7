// Package ledger holds the token balances the policy state machine and the
// yield adapters operate on. Balances are journaled so that a failed call can
// be rolled back to the snapshot taken before it started.
package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrNegativeAmount      = errors.New("negative token amount")
	ErrInvalidSnapshot     = errors.New("invalid snapshot id")
)

// State is the minimal token ledger needed by accounts and adapters.
type State interface {
	BalanceOf(token, holder common.Address) *big.Int
	TotalSupply(token common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	Mint(token, to common.Address, amount *big.Int) error
	Burn(token, from common.Address, amount *big.Int) error

	// Snapshot returns an id that RevertToSnapshot accepts. Snapshots nest.
	Snapshot() int
	RevertToSnapshot(id int) error

	// DiscardSnapshot keeps every change made since the snapshot and forgets it.
	DiscardSnapshot(id int) error
}
