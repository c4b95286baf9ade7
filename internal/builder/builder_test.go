package builder_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github/chapool/go-autoyield/internal/builder"
	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/metrics"
	"github/chapool/go-autoyield/internal/policy"
	"github/chapool/go-autoyield/internal/relay"
	"github/chapool/go-autoyield/internal/test"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymaster = common.HexToAddress("0x00000000000000000000000000000000000009a5")

func testConfig(sponsored bool) builder.Config {
	return builder.Config{
		EntryPoint:          test.EntryPoint,
		ChainID:             test.ChainID,
		Sponsorship:         sponsored,
		GasBufferPercent:    20,
		PollInterval:        5 * time.Millisecond,
		ConfirmationTimeout: time.Second,
	}
}

func rebalanceRequest(t *testing.T, f *test.Fixture) builder.Request {
	t.Helper()

	calldata, err := policy.EncodeRebalance(test.USDC)
	require.NoError(t, err)
	return builder.Request{
		Account:    test.AccountAddress,
		CallData:   calldata,
		Credential: policy.CredentialAutomation,
		Signer:     f.Automation,
	}
}

func TestExecuteAutomationRebalance(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID, relay.WithLocalPaymaster(paymaster))
	m, err := metrics.New(config.Server{})
	require.NoError(t, err)
	b := builder.New(testConfig(true), f.Chain, r, m, time2.DefaultClock)

	op, err := b.Execute(t.Context(), rebalanceRequest(t, f))
	require.NoError(t, err)

	assert.Equal(t, builder.StateConfirmed, op.State())
	require.NotNil(t, op.Receipt())
	assert.True(t, op.Receipt().Success)
	assert.Equal(t, op.Hash(), op.RelayHash())
	assert.Equal(t, f.Automation.Address(), op.Nonce().Credential)

	liquid, yield := f.Balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(150), yield)

	sent := r.Sent()
	require.Len(t, sent, 1)
	verification, call := userop.UnpackUint128Pair(sent[0].AccountGasLimits)
	assert.Equal(t, int64(180_000), verification.Int64())
	assert.Equal(t, int64(360_000), call.Int64())

	pm, pmVerification, pmPostOp, data, err := userop.UnpackPaymasterAndData(sent[0].PaymasterAndData)
	require.NoError(t, err)
	assert.Equal(t, paymaster, pm)
	assert.Equal(t, int64(72_000), pmVerification.Int64())
	assert.Equal(t, int64(24_000), pmPostOp.Int64())
	assert.Equal(t, []byte{0x01}, data)

	count, err := testutil.GatherAndCount(m.Registry(), "autoyield_builder_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExecuteWithoutSponsorship(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	b := builder.New(testConfig(false), f.Chain, r, nil, nil)

	op, err := b.Execute(t.Context(), rebalanceRequest(t, f))
	require.NoError(t, err)
	assert.Equal(t, builder.StateConfirmed, op.State())

	sent := r.Sent()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].PaymasterAndData)
}

func TestExecuteOwnerMigrate(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 100, 300)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	b := builder.New(testConfig(false), f.Chain, r, nil, nil)

	calldata, err := policy.EncodeMigrate(test.USDC, test.VaultBID)
	require.NoError(t, err)
	op, err := b.Execute(t.Context(), builder.Request{
		Account:    test.AccountAddress,
		CallData:   calldata,
		Credential: policy.CredentialOwner,
		Signer:     f.Owner,
	})
	require.NoError(t, err)

	assert.True(t, op.Nonce().IsRoot())
	assert.Equal(t, test.VaultBID, f.Account.CurrentAdapter(test.USDC))
	liquid, yield := f.Balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(300), yield)
}

func TestExecuteUsesNextSequence(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	b := builder.New(testConfig(false), f.Chain, r, nil, nil)

	for want := uint64(0); want < 3; want++ {
		op, err := b.Execute(t.Context(), rebalanceRequest(t, f))
		require.NoError(t, err)
		assert.Equal(t, want, op.Nonce().Sequence)
	}
}

func TestExecuteSerializesPerAccount(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	b := builder.New(testConfig(false), f.Chain, r, nil, nil)

	const n = 4
	req := rebalanceRequest(t, f)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Execute(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for _, op := range r.Sent() {
		seen[op.Nonce.String()] = true
	}
	assert.Len(t, seen, n)
}

func TestExecuteRevertedCallFails(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	b := builder.New(testConfig(false), f.Chain, r, nil, nil)

	calldata, err := policy.EncodeMigrate(test.USDC, test.VaultCID)
	require.NoError(t, err)
	op, err := b.Execute(t.Context(), builder.Request{
		Account:    test.AccountAddress,
		CallData:   calldata,
		Credential: policy.CredentialAutomation,
		Signer:     f.Automation,
	})

	require.ErrorIs(t, err, builder.ErrOperationReverted)
	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StateConfirmed, stageErr.Stage)
	assert.False(t, stageErr.Transient())
	assert.Equal(t, builder.StateFailed, op.State())
	assert.Equal(t, test.VaultAID, f.Account.CurrentAdapter(test.USDC))
}

var clockStart = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// runWithClock runs Execute in the background and fires each pending clock
// wakeup until it returns.
func runWithClock(t *testing.T, b *builder.Builder, clock *time2.MockClock, req builder.Request) (*builder.Operation, error) {
	t.Helper()

	var (
		op  *builder.Operation
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		op, err = b.Execute(t.Context(), req)
	}()

	giveUp := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return op, err
		case <-giveUp:
			t.Fatal("operation did not finish")
		case <-time.After(time.Millisecond):
		}

		if clock.WakeupsCount() == 0 {
			continue
		}
		// let the poll loop reach its select before the wakeup fires
		time.Sleep(time.Millisecond)
		clock.AdvanceToNextWakeup()
	}
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID, relay.WithInclusionDelay(-1))
	cfg := testConfig(false)
	cfg.PollInterval = 10 * time.Second
	cfg.ConfirmationTimeout = time.Minute
	clock := time2.NewMockClock(clockStart)
	b := builder.New(cfg, f.Chain, r, nil, clock)

	op, err := runWithClock(t, b, clock, rebalanceRequest(t, f))

	require.ErrorIs(t, err, builder.ErrConfirmationTimeout)
	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StateConfirmed, stageErr.Stage)
	assert.True(t, stageErr.Transient())

	assert.Equal(t, builder.StateFailed, op.State())
	require.ErrorIs(t, op.Err(), builder.ErrConfirmationTimeout)
	assert.Nil(t, op.Receipt())
	assert.Len(t, r.Sent(), 1)
	assert.Equal(t, clockStart.Add(time.Minute), clock.Now())
}

func TestExecuteRequestConfirmationTimeout(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID, relay.WithInclusionDelay(-1))
	cfg := testConfig(false)
	cfg.PollInterval = 10 * time.Second
	cfg.ConfirmationTimeout = time.Hour
	clock := time2.NewMockClock(clockStart)
	b := builder.New(cfg, f.Chain, r, nil, clock)

	req := rebalanceRequest(t, f)
	req.ConfirmationTimeout = 25 * time.Second

	op, err := runWithClock(t, b, clock, req)

	require.ErrorIs(t, err, builder.ErrConfirmationTimeout)
	assert.Equal(t, builder.StateFailed, op.State())
	assert.Equal(t, clockStart.Add(25*time.Second), clock.Now())
}

func TestExecuteDefaultsNonPositiveIntervals(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID, relay.WithInclusionDelay(2))
	cfg := testConfig(false)
	cfg.PollInterval = 0
	cfg.ConfirmationTimeout = -time.Second
	clock := time2.NewMockClock(clockStart)
	b := builder.New(cfg, f.Chain, r, nil, clock)

	op, err := runWithClock(t, b, clock, rebalanceRequest(t, f))

	require.NoError(t, err)
	assert.Equal(t, builder.StateConfirmed, op.State())
	assert.Equal(t, clockStart.Add(2*builder.DefaultPollInterval), clock.Now())
}

func TestExecuteCanceledWhileAwaitingReceipt(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID, relay.WithInclusionDelay(-1))
	clock := time2.NewMockClock(clockStart)
	b := builder.New(testConfig(false), f.Chain, r, nil, clock)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() {
		for clock.WakeupsCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	op, err := b.Execute(ctx, rebalanceRequest(t, f))

	require.ErrorIs(t, err, context.Canceled)
	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StateConfirmed, stageErr.Stage)
	assert.Equal(t, builder.StateFailed, op.State())
	assert.Len(t, r.Sent(), 1)
}

func TestExecuteRelayRejectionIsTerminal(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	b := builder.New(testConfig(false), f.Chain, r, nil, nil)

	req := rebalanceRequest(t, f)
	req.Signer = f.Owner

	op, err := b.Execute(t.Context(), req)

	var rejected *relay.RejectedError
	require.ErrorAs(t, err, &rejected)
	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StateSubmitted, stageErr.Stage)
	assert.False(t, stageErr.Transient())
	assert.Equal(t, builder.StateFailed, op.State())
	assert.Empty(t, r.Sent())
}

type overpricedRelay struct {
	*relay.Local
}

func (overpricedRelay) GasFees(context.Context) (*relay.Fees, error) {
	huge := new(big.Int).Lsh(big.NewInt(1), 128)
	return &relay.Fees{MaxFeePerGas: huge, MaxPriorityFeePerGas: big.NewInt(1)}, nil
}

func TestExecuteOverflowIsFatal(t *testing.T) {
	f := test.NewFixture(t)
	f.Fund(t, 250, 0)
	local := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	b := builder.New(testConfig(false), f.Chain, overpricedRelay{local}, nil, nil)

	op, err := b.Execute(t.Context(), rebalanceRequest(t, f))

	require.ErrorIs(t, err, userop.ErrOverflow)
	var stageErr *builder.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, builder.StateHashed, stageErr.Stage)
	assert.False(t, stageErr.Transient())
	assert.Equal(t, builder.StateFailed, op.State())
	assert.Empty(t, local.Sent())
}

func TestStagesCheckPreconditions(t *testing.T) {
	f := test.NewFixture(t)
	r := relay.NewLocal(f.Chain, test.EntryPoint, test.ChainID)
	b := builder.New(testConfig(false), f.Chain, r, nil, nil)
	ctx := t.Context()

	op, err := builder.NewOperation(rebalanceRequest(t, f))
	require.NoError(t, err)

	err = b.Sign(ctx, op)
	require.ErrorIs(t, err, builder.ErrInvalidTransition)
	assert.Equal(t, builder.StateIdle, op.State())

	require.NoError(t, b.FetchNonce(ctx, op))
	assert.Equal(t, builder.StateNonceFetched, op.State())
	assert.Equal(t, userop.DummySignature, op.UserOperation().Signature)

	err = b.FetchNonce(ctx, op)
	require.ErrorIs(t, err, builder.ErrInvalidTransition)
	assert.Equal(t, builder.StateNonceFetched, op.State())

	err = b.AwaitReceipt(ctx, op)
	require.ErrorIs(t, err, builder.ErrInvalidTransition)
}

func TestNewOperationValidatesRequest(t *testing.T) {
	f := test.NewFixture(t)

	_, err := builder.NewOperation(builder.Request{Account: test.AccountAddress, CallData: []byte{1, 2, 3, 4}, Credential: policy.CredentialOwner})
	require.ErrorIs(t, err, builder.ErrInvalidRequest)

	_, err = builder.NewOperation(builder.Request{Account: test.AccountAddress, CallData: []byte{1}, Credential: policy.CredentialOwner, Signer: f.Owner})
	require.ErrorIs(t, err, builder.ErrInvalidRequest)

	_, err = builder.NewOperation(builder.Request{Account: test.AccountAddress, CallData: []byte{1, 2, 3, 4}, Credential: policy.CredentialNone, Signer: f.Owner})
	require.ErrorIs(t, err, builder.ErrInvalidRequest)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "sponsorship-finalized", builder.StateSponsorshipFinalized.String())
	assert.Equal(t, "state(42)", builder.State(42).String())
	assert.True(t, builder.StateFailed.Terminal())
	assert.False(t, builder.StateSubmitted.Terminal())
}
