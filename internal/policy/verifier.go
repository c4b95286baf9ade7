package policy

import (
	"math/big"
	"sync"

	"github/chapool/go-autoyield/internal/userop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Verifier is the validation step the account runs before any call: it
// picks the credential from the nonce key, checks the signature over the
// operation hash and, for the automation credential, the selector allow-list.
type Verifier struct {
	account    *Account
	entryPoint common.Address
	chainID    *big.Int
	selectors  map[[4]byte]Operation

	mu        sync.Mutex
	sequences map[string]uint64
}

func NewVerifier(account *Account, entryPoint common.Address, chainID *big.Int) *Verifier {
	return &Verifier{
		account:    account,
		entryPoint: entryPoint,
		chainID:    new(big.Int).Set(chainID),
		selectors:  AutomationSelectors(),
		sequences:  make(map[string]uint64),
	}
}

// NextSequence mirrors EntryPoint.getNonce for one nonce key.
func (v *Verifier) NextSequence(key *big.Int) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.sequences[key.String()]
}

// Validate returns the authenticated caller and consumes the nonce. The
// nonce stays consumed even if the call itself later fails.
func (v *Verifier) Validate(op *userop.PackedUserOperation) (Caller, error) {
	if op.Sender != v.account.Address() {
		return Caller{}, errors.Wrapf(ErrWrongSender, "%s", op.Sender.Hex())
	}
	if len(op.CallData) < 4 {
		return Caller{}, errors.Wrap(ErrMalformedCall, "call data shorter than a selector")
	}

	nonce, err := userop.DecodeNonce(op.Nonce)
	if err != nil {
		return Caller{}, err
	}

	hash, err := op.Hash(v.entryPoint, v.chainID)
	if err != nil {
		return Caller{}, err
	}
	signer, err := userop.RecoverSigner(hash, op.Signature)
	if err != nil {
		return Caller{}, err
	}

	var caller Caller
	switch {
	case nonce.IsRoot():
		if signer != v.account.Owner() {
			return Caller{}, errors.Wrapf(userop.ErrInvalidSignature, "signer %s is not the owner", signer.Hex())
		}
		caller = Owner(signer)
	case nonce.Validator == userop.ValidatorSecondary:
		key := v.account.AutomationKey()
		if key == (common.Address{}) {
			return Caller{}, errors.Wrap(ErrUnauthorized, "automation disabled")
		}
		if nonce.Credential != key || signer != key {
			return Caller{}, errors.Wrapf(userop.ErrInvalidSignature, "signer %s is not the automation key", signer.Hex())
		}

		var sel [4]byte
		copy(sel[:], op.CallData[:4])
		if _, ok := v.selectors[sel]; !ok {
			return Caller{}, errors.Wrapf(ErrUnauthorized, "selector %x not allowed for automation", sel)
		}
		caller = Automation(signer)
	default:
		return Caller{}, errors.Wrapf(ErrUnknownValidator, "validator 0x%02x", nonce.Validator)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	slot := nonce.Key().String()
	if expected := v.sequences[slot]; nonce.Sequence != expected {
		return Caller{}, errors.Wrapf(ErrNonceMismatch, "got %d, expected %d", nonce.Sequence, expected)
	}
	v.sequences[slot]++

	return caller, nil
}
