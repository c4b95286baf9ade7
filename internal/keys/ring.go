// Package keys manages the automation credential: the encrypted mnemonic on
// disk, the seed held in memory and the signers derived from it.
package keys

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Scope decides whether all accounts share one automation key or each
// account gets its own derived key.
type Scope string

const (
	ScopeShared     Scope = "shared"
	ScopePerAccount Scope = "per_account"
)

var (
	ErrSeedNotInitialized = errors.New("seed not initialized")
	ErrUnknownAccount     = errors.New("no automation key index for account")
	ErrInvalidScope       = errors.New("invalid key scope")
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeShared, ScopePerAccount:
		return Scope(s), nil
	default:
		return "", errors.Wrapf(ErrInvalidScope, "%q", s)
	}
}

// KeyRing hands out the automation signer for an account.
type KeyRing struct {
	seed    SeedManager
	scope   Scope
	indexes map[common.Address]uint32

	mu      sync.Mutex
	signers map[uint32]Signer
}

// NewKeyRing maps accounts to derivation indexes. With ScopeShared every
// account uses index 0 and indexes is ignored.
func NewKeyRing(seed SeedManager, scope Scope, indexes map[common.Address]uint32) (*KeyRing, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return nil, err
	}

	copied := make(map[common.Address]uint32, len(indexes))
	for k, v := range indexes {
		copied[k] = v
	}

	return &KeyRing{
		seed:    seed,
		scope:   scope,
		indexes: copied,
		signers: make(map[uint32]Signer),
	}, nil
}

func (r *KeyRing) Scope() Scope {
	return r.scope
}

// SignerFor returns the automation signer of account.
//
//nolint:ireturn
func (r *KeyRing) SignerFor(account common.Address) (Signer, error) {
	index := uint32(0)
	if r.scope == ScopePerAccount {
		i, ok := r.indexes[account]
		if !ok {
			return nil, errors.Wrap(ErrUnknownAccount, account.Hex())
		}
		index = i
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.signers[index]; ok {
		return s, nil
	}

	seed := r.seed.Seed()
	if seed == nil {
		return nil, ErrSeedNotInitialized
	}
	defer zero(seed)

	key, err := DeriveKey(seed, AutomationPath(index))
	if err != nil {
		return nil, err
	}

	s := NewSigner(key)
	r.signers[index] = s
	return s, nil
}
