package keys

import (
	"crypto/sha512"
	"sync"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// SeedManager holds the BIP39 seed in memory for the lifetime of the process.
type SeedManager interface {
	Initialize(mnemonic string, passphrase string) error
	Seed() []byte
	IsInitialized() bool
	Clear()
}

type seedManager struct {
	mu          sync.RWMutex
	seed        []byte
	initialized bool
}

//nolint:ireturn
func NewSeedManager() SeedManager {
	return &seedManager{}
}

// NewMnemonic generates a 24 word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256) //nolint:mnd
	if err != nil {
		return "", errors.Wrap(err, "failed to generate entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errors.Wrap(err, "failed to build mnemonic")
	}
	return mnemonic, nil
}

// Initialize converts the mnemonic to a seed:
// PBKDF2(mnemonic, "mnemonic" + passphrase, 2048, 64, SHA512).
func (m *seedManager) Initialize(mnemonic string, passphrase string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}

	const (
		pbkdf2Iterations = 2048
		pbkdf2KeyLength  = 64
	)

	seed := pbkdf2.Key([]byte(mnemonic), []byte("mnemonic"+passphrase), pbkdf2Iterations, pbkdf2KeyLength, sha512.New)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seed = seed
	m.initialized = true
	return nil
}

// Seed returns a copy, or nil before Initialize.
func (m *seedManager) Seed() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil
	}
	out := make([]byte, len(m.seed))
	copy(out, m.seed)
	return out
}

func (m *seedManager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.initialized
}

func (m *seedManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	zero(m.seed)
	m.seed = nil
	m.initialized = false
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
