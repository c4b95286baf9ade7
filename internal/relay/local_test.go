package relay_test

import (
	"testing"

	"github/chapool/go-autoyield/internal/policy"
	"github/chapool/go-autoyield/internal/relay"
	"github/chapool/go-autoyield/internal/test"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecutesOperation(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	l := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	ctx := t.Context()

	calldata, err := policy.EncodeRebalance(test.USDC)
	require.NoError(t, err)
	op := f.SignedOp(t, f.Automation, userop.AutomationNonce(f.Automation.Address(), 0), calldata)

	hash, err := l.Send(ctx, op)
	require.NoError(t, err)

	want, err := op.Hash(test.EntryPoint, test.ChainID)
	require.NoError(t, err)
	assert.Equal(t, want, hash)

	receipt, err := l.Receipt(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Success)

	liquid, yield := f.Balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(150), yield)
	assert.Len(t, l.Sent(), 1)
}

func TestLocalRejectsInvalidSignature(t *testing.T) {
	f := test.NewFixture(t)
	l := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)

	calldata, err := policy.EncodeRebalance(test.USDC)
	require.NoError(t, err)
	// owner signature under the automation nonce key
	op := f.SignedOp(t, f.Owner, userop.AutomationNonce(f.Automation.Address(), 0), calldata)

	_, err = l.Send(t.Context(), op)

	var rejected *relay.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, relay.CodeInvalidFields, rejected.Code)
	assert.Empty(t, l.Sent())
}

func TestLocalRevertedCallHasFailedReceipt(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	l := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	ctx := t.Context()

	calldata, err := policy.EncodeMigrate(test.USDC, test.VaultCID)
	require.NoError(t, err)
	op := f.SignedOp(t, f.Automation, userop.AutomationNonce(f.Automation.Address(), 0), calldata)

	hash, err := l.Send(ctx, op)
	require.NoError(t, err)

	receipt, err := l.Receipt(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Success)
	assert.Contains(t, receipt.Reason, policy.ErrAdapterNotAllowed.Error())
}

func TestLocalInclusionDelay(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	l := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID, relay.WithInclusionDelay(2))
	ctx := t.Context()

	calldata, err := policy.EncodeRebalance(test.USDC)
	require.NoError(t, err)
	hash, err := l.Send(ctx, f.SignedOp(t, f.Owner, userop.OwnerNonce(0), calldata))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		receipt, err := l.Receipt(ctx, hash)
		require.NoError(t, err)
		assert.Nil(t, receipt)
	}

	receipt, err := l.Receipt(ctx, hash)
	require.NoError(t, err)
	assert.NotNil(t, receipt)
}

func TestLocalSponsorship(t *testing.T) {
	f := test.NewFixture(t)
	ctx := t.Context()

	unsponsored := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	_, err := unsponsored.SponsorStub(ctx, &userop.UserOperation{})
	var rejected *relay.RejectedError
	require.ErrorAs(t, err, &rejected)

	sponsored := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID, relay.WithLocalPaymaster(paymasterAddr))
	final, err := sponsored.SponsorFinal(ctx, &userop.UserOperation{})
	require.NoError(t, err)
	assert.Equal(t, paymasterAddr, final.Paymaster)
	assert.True(t, final.IsFinal)
}
