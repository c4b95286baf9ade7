package test

import (
	"math/big"
	"testing"

	"github/chapool/go-autoyield/internal/adapter"
	"github/chapool/go-autoyield/internal/chain"
	"github/chapool/go-autoyield/internal/keys"
	"github/chapool/go-autoyield/internal/ledger"
	"github/chapool/go-autoyield/internal/policy"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	EntryPoint     = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	ChainID        = big.NewInt(8453)
	USDC           = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	AccountAddress = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	VaultAID       = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	VaultBID       = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	VaultCID       = common.HexToAddress("0x000000000000000000000000000000000000cccc")
)

const DefaultThreshold = 100

// Fixture is one initialized account deployed on an in-process chain. Vault A
// and B are whitelisted, vault C is registered but not allowed.
type Fixture struct {
	State      *ledger.Memory
	Registry   *adapter.Registry
	VaultA     *adapter.Mock
	VaultB     *adapter.Mock
	VaultC     *adapter.Mock
	Chain      *chain.Local
	Account    *policy.Account
	Executor   *policy.Executor
	Owner      keys.Signer
	Automation keys.Signer
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()

	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	autoKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &Fixture{
		State:      ledger.NewMemory(),
		VaultA:     adapter.NewMock(VaultAID, USDC),
		VaultB:     adapter.NewMock(VaultBID, USDC),
		VaultC:     adapter.NewMock(VaultCID, USDC),
		Owner:      keys.NewSigner(ownerKey),
		Automation: keys.NewSigner(autoKey),
	}

	f.Registry, err = adapter.NewRegistry(f.VaultA, f.VaultB, f.VaultC)
	require.NoError(t, err)

	f.Account = policy.NewAccount(AccountAddress, f.State, f.Registry)
	require.NoError(t, f.Account.Initialize(policy.InitConfig{
		Owner:         f.Owner.Address(),
		AutomationKey: f.Automation.Address(),
		Adapters:      []common.Address{VaultAID, VaultBID},
		Thresholds:    map[common.Address]*big.Int{USDC: big.NewInt(DefaultThreshold)},
	}))

	f.Executor = policy.NewExecutor(f.Account, policy.NewVerifier(f.Account, EntryPoint, ChainID))
	f.Chain = chain.NewLocal(f.State, f.Registry)
	f.Chain.Deploy(f.Executor)

	return f
}

// Fund makes vault A current and then credits liquid to the account and
// yield to its vault A position.
func (f *Fixture) Fund(t *testing.T, liquid, yield int64) {
	t.Helper()

	if f.Account.CurrentAdapter(USDC) == (common.Address{}) {
		calldata, err := policy.EncodeMigrate(USDC, VaultAID)
		require.NoError(t, err)
		_, err = f.Executor.Dispatch(policy.Owner(f.Owner.Address()), calldata)
		require.NoError(t, err)
	}
	if liquid > 0 {
		require.NoError(t, f.State.Mint(USDC, AccountAddress, big.NewInt(liquid)))
	}
	if yield > 0 {
		require.NoError(t, f.VaultA.Accrue(f.State, AccountAddress, big.NewInt(yield)))
	}
}

// Balances returns the liquid and yield balance of USDC.
func (f *Fixture) Balances() (int64, int64) {
	return f.Account.LiquidBalance(USDC).Int64(), f.Account.YieldBalance(USDC).Int64()
}

// SignedOp returns an unpacked operation for the fixture account signed by signer.
func (f *Fixture) SignedOp(t *testing.T, signer keys.Signer, nonce userop.Nonce, calldata []byte) *userop.UserOperation {
	t.Helper()

	op := &userop.UserOperation{
		Sender:               AccountAddress,
		Nonce:                nonce.BigInt(),
		CallData:             calldata,
		CallGasLimit:         big.NewInt(300_000),
		VerificationGasLimit: big.NewInt(150_000),
		PreVerificationGas:   big.NewInt(50_000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
	}
	hash, err := op.Hash(EntryPoint, ChainID)
	require.NoError(t, err)
	op.Signature, err = signer.SignHash(hash)
	require.NoError(t, err)

	return op
}
