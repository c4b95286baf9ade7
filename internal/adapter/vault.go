package adapter

import (
	"math/big"

	"github/chapool/go-autoyield/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ShareVault adapts an ERC-4626 style vault. Assets are held under the vault
// address and shares are a ledger token keyed by the same address. Conversions
// use a virtual offset of one share and one asset so an empty vault prices 1:1.
type ShareVault struct {
	id    common.Address
	asset common.Address

	// liquidityCap bounds the assets released by one Withdraw call; nil means unlimited.
	liquidityCap *big.Int
}

func NewShareVault(id, asset common.Address) *ShareVault {
	return &ShareVault{id: id, asset: asset}
}

// WithLiquidityCap limits how much a single withdrawal can release.
func (v *ShareVault) WithLiquidityCap(limit *big.Int) *ShareVault {
	if limit != nil {
		v.liquidityCap = new(big.Int).Set(limit)
	}
	return v
}

func (v *ShareVault) ID() common.Address    { return v.id }
func (v *ShareVault) Asset() common.Address { return v.asset }

func (v *ShareVault) Deposit(state ledger.State, owner common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	shares := v.toShares(state, amount, false)
	if shares.Sign() == 0 {
		return nil, errors.Wrapf(ErrZeroShares, "deposit of %s", amount)
	}

	if err := state.Transfer(v.asset, owner, v.id, amount); err != nil {
		return nil, errors.Wrap(err, "failed to pull assets into vault")
	}
	if err := state.Mint(v.id, owner, shares); err != nil {
		return nil, errors.Wrap(err, "failed to mint vault shares")
	}

	return shares, nil
}

func (v *ShareVault) Withdraw(state ledger.State, owner common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	ownerShares := state.BalanceOf(v.id, owner)
	maxAssets := v.toAssets(state, ownerShares)

	assets := minBig(amount, maxAssets)
	assets = minBig(assets, state.BalanceOf(v.asset, v.id))
	if v.liquidityCap != nil {
		assets = minBig(assets, v.liquidityCap)
	}
	if assets.Sign() == 0 {
		return new(big.Int), nil
	}

	shares := ownerShares
	if assets.Cmp(maxAssets) < 0 {
		shares = minBig(v.toShares(state, assets, true), ownerShares)
	}

	if err := state.Burn(v.id, owner, shares); err != nil {
		return nil, errors.Wrap(err, "failed to burn vault shares")
	}
	if err := state.Transfer(v.asset, v.id, owner, assets); err != nil {
		return nil, errors.Wrap(err, "failed to release vault assets")
	}

	return assets, nil
}

func (v *ShareVault) TotalValue(state ledger.State, owner common.Address) *big.Int {
	return v.toAssets(state, state.BalanceOf(v.id, owner))
}

func (v *ShareVault) toShares(state ledger.State, assets *big.Int, roundUp bool) *big.Int {
	supply := new(big.Int).Add(state.TotalSupply(v.id), big.NewInt(1))
	total := new(big.Int).Add(state.BalanceOf(v.asset, v.id), big.NewInt(1))

	num := new(big.Int).Mul(assets, supply)
	if roundUp {
		num.Add(num, new(big.Int).Sub(total, big.NewInt(1)))
	}
	return num.Quo(num, total)
}

func (v *ShareVault) toAssets(state ledger.State, shares *big.Int) *big.Int {
	if shares.Sign() == 0 {
		return new(big.Int)
	}
	supply := new(big.Int).Add(state.TotalSupply(v.id), big.NewInt(1))
	total := new(big.Int).Add(state.BalanceOf(v.asset, v.id), big.NewInt(1))

	num := new(big.Int).Mul(shares, total)
	return num.Quo(num, supply)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
