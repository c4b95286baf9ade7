package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCUserOperation is the v0.7 JSON shape relays accept, all quantities hex encoded.
type RPCUserOperation struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

func (op *UserOperation) ToRPC() *RPCUserOperation {
	r := &RPCUserOperation{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		Factory:              op.Factory,
		FactoryData:          op.FactoryData,
		CallData:             hexutil.Bytes(nonNil(op.CallData)),
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		Signature:            hexutil.Bytes(nonNil(op.Signature)),
	}

	if op.Paymaster != nil {
		r.Paymaster = op.Paymaster
		r.PaymasterVerificationGasLimit = hexBig(op.PaymasterVerificationGasLimit)
		r.PaymasterPostOpGasLimit = hexBig(op.PaymasterPostOpGasLimit)
		r.PaymasterData = hexutil.Bytes(nonNil(op.PaymasterData))
	}

	return r
}

func (r *RPCUserOperation) ToUserOperation() *UserOperation {
	return &UserOperation{
		Sender:                        r.Sender,
		Nonce:                         fromHexBig(r.Nonce),
		Factory:                       r.Factory,
		FactoryData:                   r.FactoryData,
		CallData:                      r.CallData,
		CallGasLimit:                  fromHexBig(r.CallGasLimit),
		VerificationGasLimit:          fromHexBig(r.VerificationGasLimit),
		PreVerificationGas:            fromHexBig(r.PreVerificationGas),
		MaxFeePerGas:                  fromHexBig(r.MaxFeePerGas),
		MaxPriorityFeePerGas:          fromHexBig(r.MaxPriorityFeePerGas),
		Paymaster:                     r.Paymaster,
		PaymasterVerificationGasLimit: fromHexBig(r.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       fromHexBig(r.PaymasterPostOpGasLimit),
		PaymasterData:                 r.PaymasterData,
		Signature:                     r.Signature,
	}
}

func hexBig(v *big.Int) *hexutil.Big {
	return (*hexutil.Big)(bigOrZero(v))
}

func fromHexBig(v *hexutil.Big) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v.ToInt())
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
