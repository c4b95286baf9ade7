package keys

import (
	"crypto/ecdsa"

	"github/chapool/go-autoyield/internal/userop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs operation hashes for one credential.
type Signer interface {
	Address() common.Address
	SignHash(hash common.Hash) ([]byte, error)
}

type ecdsaSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

//nolint:ireturn
func NewSigner(key *ecdsa.PrivateKey) Signer {
	return &ecdsaSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *ecdsaSigner) Address() common.Address {
	return s.address
}

func (s *ecdsaSigner) SignHash(hash common.Hash) ([]byte, error) {
	return userop.Sign(hash, s.key)
}
