package keys_test

import (
	"path/filepath"
	"testing"

	"github/chapool/go-autoyield/internal/keys"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hardhatMnemonic = "test test test test test test test test test test test junk"

var fastScrypt = keys.ScryptParams{DKLen: 32, N: 16, R: 8, P: 1}

func TestKeystoreRoundTrip(t *testing.T) {
	ks := keys.NewFileKeystore(filepath.Join(t.TempDir(), "automation.json"), fastScrypt)
	assert.False(t, ks.Exists())

	created, err := ks.Create(t.Context(), hardhatMnemonic, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, 3, created.Version)
	assert.Equal(t, "aes-128-ctr", created.Crypto.Cipher)
	assert.True(t, ks.Exists())

	mnemonic, err := ks.Decrypt(t.Context(), "correct horse")
	require.NoError(t, err)
	assert.Equal(t, hardhatMnemonic, mnemonic)

	_, err = ks.Decrypt(t.Context(), "wrong")
	require.ErrorIs(t, err, keys.ErrInvalidPassword)

	_, err = ks.Create(t.Context(), hardhatMnemonic, "again")
	require.ErrorIs(t, err, keys.ErrKeystoreExists)
}

func TestKeystoreMissing(t *testing.T) {
	ks := keys.NewFileKeystore(filepath.Join(t.TempDir(), "none.json"), fastScrypt)
	_, err := ks.Decrypt(t.Context(), "x")
	require.ErrorIs(t, err, keys.ErrKeystoreNotFound)
}

func TestSeedManager(t *testing.T) {
	m := keys.NewSeedManager()
	assert.Nil(t, m.Seed())

	require.ErrorIs(t, m.Initialize("not a mnemonic", ""), keys.ErrInvalidMnemonic)
	require.NoError(t, m.Initialize(hardhatMnemonic, ""))
	assert.True(t, m.IsInitialized())
	assert.Len(t, m.Seed(), 64)

	m.Clear()
	assert.False(t, m.IsInitialized())
	assert.Nil(t, m.Seed())
}

func TestNewMnemonicIsUsable(t *testing.T) {
	mnemonic, err := keys.NewMnemonic()
	require.NoError(t, err)
	require.NoError(t, keys.NewSeedManager().Initialize(mnemonic, ""))
}

func TestKeyRingScopes(t *testing.T) {
	seed := keys.NewSeedManager()
	require.NoError(t, seed.Initialize(hardhatMnemonic, ""))

	accountA := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	accountB := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	shared, err := keys.NewKeyRing(seed, keys.ScopeShared, nil)
	require.NoError(t, err)
	sa, err := shared.SignerFor(accountA)
	require.NoError(t, err)
	sb, err := shared.SignerFor(accountB)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), sa.Address())
	assert.Equal(t, sa.Address(), sb.Address())

	perAccount, err := keys.NewKeyRing(seed, keys.ScopePerAccount, map[common.Address]uint32{accountA: 0, accountB: 1})
	require.NoError(t, err)
	pa, err := perAccount.SignerFor(accountA)
	require.NoError(t, err)
	pb, err := perAccount.SignerFor(accountB)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), pa.Address())
	assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), pb.Address())

	_, err = perAccount.SignerFor(common.HexToAddress("0x01"))
	require.ErrorIs(t, err, keys.ErrUnknownAccount)

	_, err = keys.NewKeyRing(seed, keys.Scope("global"), nil)
	require.ErrorIs(t, err, keys.ErrInvalidScope)
}

func TestSignerProducesRecoverableSignature(t *testing.T) {
	seed := keys.NewSeedManager()
	require.NoError(t, seed.Initialize(hardhatMnemonic, ""))
	ring, err := keys.NewKeyRing(seed, keys.ScopeShared, nil)
	require.NoError(t, err)
	signer, err := ring.SignerFor(common.Address{})
	require.NoError(t, err)

	hash := common.HexToHash("0x1234")
	sig, err := signer.SignHash(hash)
	require.NoError(t, err)

	recovered, err := userop.RecoverSigner(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestDeriveKeyRejectsBadPaths(t *testing.T) {
	seed := make([]byte, 64)
	for _, path := range []string{"", "44'/60'", "m/x", "m/44'/-1"} {
		_, err := keys.DeriveKey(seed, path)
		require.ErrorIs(t, err, keys.ErrInvalidPath, path)
	}
}
