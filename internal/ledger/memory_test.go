package ledger_test

import (
	"math/big"
	"testing"

	"github/chapool/go-autoyield/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestTransferMovesBalance(t *testing.T) {
	state := ledger.NewMemory()
	require.NoError(t, state.Mint(usdc, alice, big.NewInt(100)))

	require.NoError(t, state.Transfer(usdc, alice, bob, big.NewInt(40)))

	assert.Equal(t, int64(60), state.BalanceOf(usdc, alice).Int64())
	assert.Equal(t, int64(40), state.BalanceOf(usdc, bob).Int64())
	assert.Equal(t, int64(100), state.TotalSupply(usdc).Int64())
}

func TestTransferInsufficientBalance(t *testing.T) {
	state := ledger.NewMemory()
	require.NoError(t, state.Mint(usdc, alice, big.NewInt(10)))

	err := state.Transfer(usdc, alice, bob, big.NewInt(11))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, int64(10), state.BalanceOf(usdc, alice).Int64())
}

func TestRevertToSnapshot(t *testing.T) {
	state := ledger.NewMemory()
	require.NoError(t, state.Mint(usdc, alice, big.NewInt(100)))

	outer := state.Snapshot()
	require.NoError(t, state.Transfer(usdc, alice, bob, big.NewInt(30)))

	inner := state.Snapshot()
	require.NoError(t, state.Burn(usdc, bob, big.NewInt(5)))
	require.NoError(t, state.RevertToSnapshot(inner))

	assert.Equal(t, int64(30), state.BalanceOf(usdc, bob).Int64())
	assert.Equal(t, int64(100), state.TotalSupply(usdc).Int64())

	require.NoError(t, state.RevertToSnapshot(outer))
	assert.Equal(t, int64(100), state.BalanceOf(usdc, alice).Int64())
	assert.Equal(t, int64(0), state.BalanceOf(usdc, bob).Int64())

	require.ErrorIs(t, state.RevertToSnapshot(inner), ledger.ErrInvalidSnapshot)
}

func TestDiscardSnapshotKeepsChanges(t *testing.T) {
	state := ledger.NewMemory()
	require.NoError(t, state.Mint(usdc, alice, big.NewInt(5)))

	id := state.Snapshot()
	require.NoError(t, state.Transfer(usdc, alice, bob, big.NewInt(5)))
	require.NoError(t, state.DiscardSnapshot(id))

	assert.Equal(t, int64(5), state.BalanceOf(usdc, bob).Int64())
	require.ErrorIs(t, state.RevertToSnapshot(id), ledger.ErrInvalidSnapshot)
}
