package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Validator tags carried in the nonce key. The root validator is the owner
// credential; the secondary tag routes validation to the automation credential.
const (
	ValidatorRoot      byte = 0x00
	ValidatorSecondary byte = 0x01
)

const nonceLen = 32

// Nonce is the 32 byte EntryPoint nonce split into its key fields and the
// 64 bit sequence:
//
//	[0] mode | [1] validator | [2:22] credential | [22:24] sub key | [24:32] sequence
type Nonce struct {
	Mode       byte
	Validator  byte
	Credential common.Address
	SubKey     uint16
	Sequence   uint64
}

// OwnerNonce uses key zero, the sequence space of the owner credential.
func OwnerNonce(sequence uint64) Nonce {
	return Nonce{Sequence: sequence}
}

// AutomationNonce scopes the sequence to the automation credential so it can
// never collide with the owner's nonces or another credential's.
func AutomationNonce(credential common.Address, sequence uint64) Nonce {
	return Nonce{Validator: ValidatorSecondary, Credential: credential, Sequence: sequence}
}

func (n Nonce) Bytes() [nonceLen]byte {
	var b [nonceLen]byte
	b[0] = n.Mode
	b[1] = n.Validator
	copy(b[2:22], n.Credential.Bytes())
	b[22] = byte(n.SubKey >> 8)
	b[23] = byte(n.SubKey)
	for i := 0; i < 8; i++ {
		b[31-i] = byte(n.Sequence >> (8 * i))
	}
	return b
}

func (n Nonce) BigInt() *big.Int {
	b := n.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// Key is the upper 192 bits, the value EntryPoint.getNonce expects.
func (n Nonce) Key() *big.Int {
	b := n.Bytes()
	return new(big.Int).SetBytes(b[:24])
}

// IsRoot reports whether the nonce belongs to the owner key space.
func (n Nonce) IsRoot() bool {
	return n.Key().Sign() == 0
}

// WithSequence keeps the key and replaces the sequence.
func (n Nonce) WithSequence(sequence uint64) Nonce {
	n.Sequence = sequence
	return n
}

func DecodeNonce(v *big.Int) (Nonce, error) {
	if v == nil || v.Sign() < 0 {
		return Nonce{}, errors.Wrap(ErrMalformedPayload, "nonce must be a non-negative integer")
	}
	if v.BitLen() > 8*nonceLen {
		return Nonce{}, errors.Wrapf(ErrOverflow, "nonce has %d bits", v.BitLen())
	}

	var b [nonceLen]byte
	v.FillBytes(b[:])

	n := Nonce{
		Mode:       b[0],
		Validator:  b[1],
		Credential: common.BytesToAddress(b[2:22]),
		SubKey:     uint16(b[22])<<8 | uint16(b[23]),
	}
	for i := 24; i < nonceLen; i++ {
		n.Sequence = n.Sequence<<8 | uint64(b[i])
	}
	return n, nil
}
