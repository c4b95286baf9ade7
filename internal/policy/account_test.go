package policy_test

import (
	"math/big"
	"math/rand"
	"testing"

	"github/chapool/go-autoyield/internal/adapter"
	"github/chapool/go-autoyield/internal/ledger"
	"github/chapool/go-autoyield/internal/policy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdc        = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	accountAddr = common.HexToAddress("0x00000000000000000000000000000000000acc01")
	ownerAddr   = common.HexToAddress("0x000000000000000000000000000000000000000a")
	autoAddr    = common.HexToAddress("0x000000000000000000000000000000000000000b")
	merchant    = common.HexToAddress("0x000000000000000000000000000000000000beef")
	mockAID     = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	mockBID     = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	unlistedID  = common.HexToAddress("0x00000000000000000000000000000000000000f3")
)

type fixture struct {
	state   *ledger.Memory
	mockA   *adapter.Mock
	mockB   *adapter.Mock
	account *policy.Account
	owner   policy.Caller
	auto    policy.Caller
}

func newFixture(t *testing.T, threshold int64, opts ...policy.AccountOption) *fixture {
	t.Helper()

	f := &fixture{
		state: ledger.NewMemory(),
		mockA: adapter.NewMock(mockAID, usdc),
		mockB: adapter.NewMock(mockBID, usdc),
		owner: policy.Owner(ownerAddr),
		auto:  policy.Automation(autoAddr),
	}

	registry, err := adapter.NewRegistry(f.mockA, f.mockB, adapter.NewMock(unlistedID, usdc))
	require.NoError(t, err)

	f.account = policy.NewAccount(accountAddr, f.state, registry, opts...)
	require.NoError(t, f.account.Initialize(policy.InitConfig{
		Owner:         ownerAddr,
		AutomationKey: autoAddr,
		Adapters:      []common.Address{mockAID, mockBID},
		Thresholds:    map[common.Address]*big.Int{usdc: big.NewInt(threshold)},
	}))

	return f
}

// fund puts liquid on the account and yield in mock A, which becomes current.
func (f *fixture) fund(t *testing.T, liquid, yield int64) {
	t.Helper()

	require.NoError(t, f.state.Mint(usdc, accountAddr, big.NewInt(liquid)))
	if f.account.CurrentAdapter(usdc) == (common.Address{}) {
		// liquid is at most the threshold in every caller, so nothing moves here
		_, err := f.account.Migrate(f.owner, usdc, mockAID)
		require.NoError(t, err)
	}
	if yield > 0 {
		require.NoError(t, f.mockA.Accrue(f.state, accountAddr, big.NewInt(yield)))
	}
}

func (f *fixture) balances() (int64, int64) {
	return f.account.LiquidBalance(usdc).Int64(), f.account.YieldBalance(usdc).Int64()
}

func TestSpendUnstakesDeficit(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 30, 470)

	res, err := f.account.SpendWithAutoSource(f.owner, usdc, merchant, big.NewInt(150), nil)
	require.NoError(t, err)

	// required 250, deficit 220, liquid back to 100 after the transfer
	assert.Equal(t, int64(220), res.Unstaked.Int64())
	assert.Equal(t, int64(0), res.Restaked.Int64())

	liquid, yield := f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(250), yield)
	assert.Equal(t, int64(150), f.state.BalanceOf(usdc, merchant).Int64())
}

func TestSpendIsAtomicWhenFundsAreShort(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 400)

	_, err := f.account.SpendWithAutoSource(f.owner, usdc, merchant, big.NewInt(1000), nil)
	require.ErrorIs(t, err, policy.ErrInsufficientFunds)

	liquid, yield := f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(400), yield)
	assert.Equal(t, int64(0), f.state.BalanceOf(usdc, merchant).Int64())
}

func TestSpendRevertsWhenCallFails(t *testing.T) {
	failing := func(_ ledger.State, _, _ common.Address, _ *big.Int, payload []byte) error {
		if len(payload) > 0 && payload[0] == 0xff {
			return assert.AnError
		}
		return nil
	}
	f := newFixture(t, 100, policy.WithCallHook(failing))
	f.fund(t, 100, 400)

	_, err := f.account.SpendWithAutoSource(f.owner, usdc, merchant, big.NewInt(300), []byte{0xff})
	require.ErrorIs(t, err, policy.ErrCallReverted)

	liquid, yield := f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(400), yield)

	_, err = f.account.SpendWithAutoSource(f.owner, usdc, merchant, big.NewInt(300), []byte{0x01})
	require.NoError(t, err)
	liquid, yield = f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(100), yield)
}

func TestSpendRestakesSurplus(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 0)
	require.NoError(t, f.state.Mint(usdc, accountAddr, big.NewInt(400)))

	res, err := f.account.SpendWithAutoSource(f.owner, usdc, merchant, big.NewInt(50), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.Unstaked.Int64())
	assert.Equal(t, int64(350), res.Restaked.Int64())
	liquid, yield := f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(350), yield)
}

func TestSpendRevertsOnIlliquidVault(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 400)
	f.mockA.SetWithdrawLimit(big.NewInt(60))

	res, err := f.account.SpendWithAutoSource(f.owner, usdc, merchant, big.NewInt(150), nil)
	require.ErrorIs(t, err, policy.ErrIlliquidPosition)

	assert.Equal(t, int64(0), res.Unstaked.Int64())
	liquid, yield := f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(400), yield)
	assert.Equal(t, int64(0), f.state.BalanceOf(usdc, merchant).Int64())
}

func TestRebalanceIsIdempotent(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 0)
	require.NoError(t, f.state.Mint(usdc, accountAddr, big.NewInt(500)))

	moved, err := f.account.Rebalance(f.auto, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), moved.Int64())

	moved, err = f.account.Rebalance(f.auto, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved.Int64())

	liquid, yield := f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(500), yield)
}

func TestRebalanceWithoutAdapterIsNoop(t *testing.T) {
	f := newFixture(t, 100)
	require.NoError(t, f.state.Mint(usdc, accountAddr, big.NewInt(500)))

	moved, err := f.account.Rebalance(f.owner, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved.Int64())
	assert.Equal(t, int64(500), f.account.LiquidBalance(usdc).Int64())
}

func TestRebalanceRefillsChecking(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 20, 300)

	moved, err := f.account.Rebalance(f.auto, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(80), moved.Int64())

	liquid, yield := f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(220), yield)
}

func TestAutomationCannotReachOwnerOnlyOperations(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 400)

	calls := map[string]func() error{
		"configureThreshold": func() error {
			return f.account.ConfigureThreshold(f.auto, usdc, big.NewInt(0))
		},
		"setAutomationKey": func() error {
			return f.account.SetAutomationCredential(f.auto, merchant)
		},
		"allowAdapter": func() error {
			return f.account.AllowAdapter(f.auto, unlistedID, true)
		},
		"spendWithAutoSource": func() error {
			_, err := f.account.SpendWithAutoSource(f.auto, usdc, merchant, big.NewInt(400), nil)
			return err
		},
		"flush": func() error {
			_, err := f.account.Flush(f.auto, usdc)
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, call(), policy.ErrUnauthorized)

			liquid, yield := f.balances()
			assert.Equal(t, int64(100), liquid)
			assert.Equal(t, int64(400), yield)
			assert.Equal(t, int64(100), f.account.Threshold(usdc).Int64())
			assert.Equal(t, autoAddr, f.account.AutomationKey())
			assert.False(t, f.account.IsAdapterAllowed(unlistedID))
			assert.Equal(t, mockAID, f.account.CurrentAdapter(usdc))
		})
	}
}

func TestUnknownCallerIsRejected(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.account.Rebalance(policy.Automation(merchant), usdc)
	require.ErrorIs(t, err, policy.ErrUnauthorized)
	_, err = f.account.Rebalance(policy.Owner(merchant), usdc)
	require.ErrorIs(t, err, policy.ErrUnauthorized)
	_, err = f.account.Rebalance(policy.Caller{Address: ownerAddr}, usdc)
	require.ErrorIs(t, err, policy.ErrUnauthorized)
}

func TestKillSwitchDisablesAutomation(t *testing.T) {
	f := newFixture(t, 100)
	require.NoError(t, f.account.SetAutomationCredential(f.owner, common.Address{}))

	_, err := f.account.Rebalance(f.auto, usdc)
	require.ErrorIs(t, err, policy.ErrUnauthorized)
	_, err = f.account.Rebalance(policy.Automation(common.Address{}), usdc)
	require.ErrorIs(t, err, policy.ErrUnauthorized)
}

func TestMigrateRequiresWhitelist(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 400)

	_, err := f.account.Migrate(f.auto, usdc, unlistedID)
	require.ErrorIs(t, err, policy.ErrAdapterNotAllowed)

	liquid, yield := f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(400), yield)
	assert.Equal(t, mockAID, f.account.CurrentAdapter(usdc))
}

func TestMigrateMovesWholePosition(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 400)

	moved, err := f.account.Migrate(f.auto, usdc, mockBID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), moved.Int64())

	assert.Equal(t, mockBID, f.account.CurrentAdapter(usdc))
	assert.Equal(t, int64(0), f.mockA.TotalValue(f.state, accountAddr).Int64())
	assert.Equal(t, int64(400), f.mockB.TotalValue(f.state, accountAddr).Int64())
	assert.Equal(t, int64(100), f.account.LiquidBalance(usdc).Int64())

	moved, err = f.account.Migrate(f.auto, usdc, mockBID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved.Int64())
}

func TestMigrateRevertsOnPartialWithdrawal(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 400)
	f.mockA.SetWithdrawLimit(big.NewInt(10))

	_, err := f.account.Migrate(f.owner, usdc, mockBID)
	require.ErrorIs(t, err, policy.ErrPartialWithdrawal)

	liquid, yield := f.balances()
	assert.Equal(t, int64(100), liquid)
	assert.Equal(t, int64(400), yield)
	assert.Equal(t, mockAID, f.account.CurrentAdapter(usdc))
}

func TestAllowAdapterKeepsCurrentWhitelisted(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 0)

	require.ErrorIs(t, f.account.AllowAdapter(f.owner, mockAID, false), policy.ErrAdapterInUse)
	assert.True(t, f.account.IsAdapterAllowed(mockAID))

	require.NoError(t, f.account.AllowAdapter(f.owner, mockBID, false))
	assert.False(t, f.account.IsAdapterAllowed(mockBID))

	require.ErrorIs(t, f.account.AllowAdapter(f.owner, merchant, true), policy.ErrAdapterNotAllowed)
}

func TestFlushEmptiesPosition(t *testing.T) {
	f := newFixture(t, 100)
	f.fund(t, 100, 400)

	moved, err := f.account.Flush(f.owner, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(400), moved.Int64())

	liquid, yield := f.balances()
	assert.Equal(t, int64(500), liquid)
	assert.Equal(t, int64(0), yield)
	assert.Equal(t, common.Address{}, f.account.CurrentAdapter(usdc))

	require.NoError(t, f.account.AllowAdapter(f.owner, mockAID, false))
}

func TestInitializeOnce(t *testing.T) {
	f := newFixture(t, 100)

	err := f.account.Initialize(policy.InitConfig{Owner: merchant})
	require.ErrorIs(t, err, policy.ErrAlreadyInitialized)
	assert.Equal(t, ownerAddr, f.account.Owner())

	registry, err := adapter.NewRegistry()
	require.NoError(t, err)
	fresh := policy.NewAccount(accountAddr, ledger.NewMemory(), registry)
	_, err = fresh.Rebalance(policy.Owner(ownerAddr), usdc)
	require.ErrorIs(t, err, policy.ErrNotInitialized)
}

func TestThresholdInvariantHoldsAcrossRandomSequences(t *testing.T) {
	const threshold = 100
	rnd := rand.New(rand.NewSource(42)) //nolint:gosec

	for run := 0; run < 20; run++ {
		f := newFixture(t, threshold)
		f.fund(t, threshold, int64(rnd.Intn(1000)))

		for step := 0; step < 50; step++ {
			var err error
			switch rnd.Intn(5) {
			case 0:
				// incoming transfer or accrued yield, not a policy call
				if rnd.Intn(2) == 0 {
					require.NoError(t, f.state.Mint(usdc, accountAddr, big.NewInt(int64(rnd.Intn(300)))))
				} else {
					current := f.account.CurrentAdapter(usdc)
					mock := f.mockA
					if current == mockBID {
						mock = f.mockB
					}
					require.NoError(t, mock.Accrue(f.state, accountAddr, big.NewInt(int64(rnd.Intn(300)))))
				}
				_, err = f.account.Rebalance(f.auto, usdc)
			case 1, 2:
				_, err = f.account.SpendWithAutoSource(f.owner, usdc, merchant, big.NewInt(int64(1+rnd.Intn(400))), nil)
				if err != nil {
					require.ErrorIs(t, err, policy.ErrInsufficientFunds)
					continue
				}
			case 3:
				_, err = f.account.Rebalance(f.auto, usdc)
			case 4:
				next := mockAID
				if f.account.CurrentAdapter(usdc) == mockAID {
					next = mockBID
				}
				_, err = f.account.Migrate(f.auto, usdc, next)
			}
			require.NoError(t, err)

			liquid, yield := f.balances()
			if liquid+yield >= threshold {
				assert.Equal(t, int64(threshold), liquid, "run %d step %d", run, step)
			} else {
				assert.Equal(t, int64(0), yield, "run %d step %d", run, step)
			}
		}
	}
}
