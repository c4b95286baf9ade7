package chain_test

import (
	"math/big"
	"testing"

	"github/chapool/go-autoyield/internal/chain"
	"github/chapool/go-autoyield/internal/policy"
	"github/chapool/go-autoyield/internal/test"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalViews(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 400)
	ctx := t.Context()

	threshold, err := f.Chain.Threshold(ctx, test.AccountAddress, test.USDC)
	require.NoError(t, err)
	assert.Equal(t, int64(test.DefaultThreshold), threshold.Int64())

	current, err := f.Chain.CurrentAdapter(ctx, test.AccountAddress, test.USDC)
	require.NoError(t, err)
	assert.Equal(t, test.VaultAID, current)

	allowed, err := f.Chain.IsAdapterAllowed(ctx, test.AccountAddress, test.VaultCID)
	require.NoError(t, err)
	assert.False(t, allowed)

	liquid, err := f.Chain.TokenBalance(ctx, test.USDC, test.AccountAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(250), liquid.Int64())

	position, err := f.Chain.PositionValue(ctx, test.VaultAID, test.AccountAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(400), position.Int64())

	key, err := f.Chain.AutomationKey(ctx, test.AccountAddress)
	require.NoError(t, err)
	assert.Equal(t, f.Automation.Address(), key)
}

func TestLocalNonceFollowsHandledOps(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	ctx := t.Context()

	template := userop.AutomationNonce(f.Automation.Address(), 0)

	nonce, err := f.Chain.GetNonce(ctx, test.AccountAddress, template.Key())
	require.NoError(t, err)
	assert.Equal(t, template.BigInt(), nonce)

	calldata, err := policy.EncodeRebalance(test.USDC)
	require.NoError(t, err)

	op := &userop.UserOperation{
		Sender:               test.AccountAddress,
		Nonce:                nonce,
		CallData:             calldata,
		CallGasLimit:         big.NewInt(100_000),
		VerificationGasLimit: big.NewInt(100_000),
		PreVerificationGas:   big.NewInt(21_000),
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(1),
	}
	hash, err := op.Hash(test.EntryPoint, test.ChainID)
	require.NoError(t, err)
	op.Signature, err = f.Automation.SignHash(hash)
	require.NoError(t, err)
	packed, err := op.Pack()
	require.NoError(t, err)

	res, err := f.Chain.HandleOp(packed)
	require.NoError(t, err)
	assert.Equal(t, policy.OpRebalance, res.Operation)

	nonce, err = f.Chain.GetNonce(ctx, test.AccountAddress, template.Key())
	require.NoError(t, err)
	assert.Equal(t, template.WithSequence(1).BigInt(), nonce)

	owner, err := f.Chain.GetNonce(ctx, test.AccountAddress, userop.OwnerNonce(0).Key())
	require.NoError(t, err)
	assert.Zero(t, owner.Sign())
}

func TestLocalUnknownAccount(t *testing.T) {
	f := test.NewFixture(t)

	_, err := f.Chain.Threshold(t.Context(), common.HexToAddress("0x01"), test.USDC)
	require.ErrorIs(t, err, chain.ErrUnknownAccount)
}
