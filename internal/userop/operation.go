package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// UserOperation is the unpacked form the builder fills in stage by stage.
type UserOperation struct {
	Sender                        common.Address
	Nonce                         *big.Int
	Factory                       *common.Address
	FactoryData                   []byte
	CallData                      []byte
	CallGasLimit                  *big.Int
	VerificationGasLimit          *big.Int
	PreVerificationGas            *big.Int
	MaxFeePerGas                  *big.Int
	MaxPriorityFeePerGas          *big.Int
	Paymaster                     *common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte
	Signature                     []byte
}

// PackedUserOperation is the record the EntryPoint hashes and verifies.
type PackedUserOperation struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte
	PreVerificationGas *big.Int
	GasFees            [32]byte
	PaymasterAndData   []byte
	Signature          []byte
}

// Pack validates magnitudes and produces the packed record. Any gas or fee
// value above 128 bits fails the construction.
func (op *UserOperation) Pack() (*PackedUserOperation, error) {
	if op.Nonce == nil || op.Nonce.Sign() < 0 || op.Nonce.BitLen() > 256 {
		return nil, errors.Wrap(ErrMalformedPayload, "nonce")
	}
	if op.PreVerificationGas != nil && (op.PreVerificationGas.Sign() < 0 || op.PreVerificationGas.BitLen() > 256) {
		return nil, errors.Wrap(ErrMalformedPayload, "preVerificationGas")
	}
	if op.Factory == nil && len(op.FactoryData) > 0 {
		return nil, errors.Wrap(ErrMalformedPayload, "factoryData without factory")
	}
	if op.Paymaster == nil && len(op.PaymasterData) > 0 {
		return nil, errors.Wrap(ErrMalformedPayload, "paymasterData without paymaster")
	}

	gasLimits, err := PackUint128Pair(op.VerificationGasLimit, op.CallGasLimit)
	if err != nil {
		return nil, errors.Wrap(err, "accountGasLimits")
	}
	gasFees, err := PackUint128Pair(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	if err != nil {
		return nil, errors.Wrap(err, "gasFees")
	}

	packed := &PackedUserOperation{
		Sender:             op.Sender,
		Nonce:              new(big.Int).Set(op.Nonce),
		CallData:           common.CopyBytes(op.CallData),
		AccountGasLimits:   gasLimits,
		PreVerificationGas: bigOrZero(op.PreVerificationGas),
		GasFees:            gasFees,
		Signature:          common.CopyBytes(op.Signature),
	}

	if op.Factory != nil {
		packed.InitCode = append(op.Factory.Bytes(), op.FactoryData...)
	}
	if op.Paymaster != nil {
		packed.PaymasterAndData, err = PackPaymasterAndData(*op.Paymaster,
			op.PaymasterVerificationGasLimit, op.PaymasterPostOpGasLimit, op.PaymasterData)
		if err != nil {
			return nil, err
		}
	}

	return packed, nil
}

// Hash packs the operation and returns its canonical hash.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := op.Pack()
	if err != nil {
		return common.Hash{}, err
	}
	return packed.Hash(entryPoint, chainID)
}

var (
	innerArgs = abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("uint256")},
		{Type: mustType("bytes32")},
		{Type: mustType("bytes32")},
		{Type: mustType("bytes32")},
		{Type: mustType("uint256")},
		{Type: mustType("bytes32")},
		{Type: mustType("bytes32")},
	}
	outerArgs = abi.Arguments{
		{Type: mustType("bytes32")},
		{Type: mustType("address")},
		{Type: mustType("uint256")},
	}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Hash computes keccak(abi.encode(keccak(abi.encode(fields...)), entryPoint, chainId)),
// the value the EntryPoint recomputes during validation. Variable length
// payloads enter the inner encoding as their own keccak hashes.
func (p *PackedUserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return common.Hash{}, errors.Wrap(ErrMalformedPayload, "chain id")
	}
	if p.Nonce == nil {
		return common.Hash{}, errors.Wrap(ErrMalformedPayload, "nonce")
	}

	inner, err := innerArgs.Pack(
		p.Sender,
		p.Nonce,
		crypto.Keccak256Hash(p.InitCode),
		crypto.Keccak256Hash(p.CallData),
		p.AccountGasLimits,
		bigOrZero(p.PreVerificationGas),
		p.GasFees,
		crypto.Keccak256Hash(p.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to encode packed user operation")
	}

	outer, err := outerArgs.Pack(crypto.Keccak256Hash(inner), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to encode user operation hash preimage")
	}

	return crypto.Keccak256Hash(outer), nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
