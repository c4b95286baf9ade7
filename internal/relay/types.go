// Package relay is the JSON-RPC client of the bundler and the sponsorship
// paymaster that operations are priced, sponsored and submitted through.
package relay

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	MethodSupportedEntryPoints = "eth_supportedEntryPoints"
	MethodGasPrice             = "pimlico_getUserOperationGasPrice"
	MethodEstimateGas          = "eth_estimateUserOperationGas"
	MethodSendUserOperation    = "eth_sendUserOperation"
	MethodGetReceipt           = "eth_getUserOperationReceipt"
	MethodPaymasterStubData    = "pm_getPaymasterStubData"
	MethodPaymasterData        = "pm_getPaymasterData"
)

// RejectedError is a JSON-RPC error returned by the relay itself, as opposed
// to a transport failure. Retrying the same request will not help.
type RejectedError struct {
	Method  string
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected (%d): %s", e.Method, e.Code, e.Message)
}

// Fees is one fee level of the relay's gas price quote.
type Fees struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

type GasEstimate struct {
	PreVerificationGas            *big.Int
	VerificationGasLimit          *big.Int
	CallGasLimit                  *big.Int
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
}

// Sponsorship is the paymaster part of an operation. A stub carries gas
// limits good enough for estimation; IsFinal marks a stub that can be used
// as is.
type Sponsorship struct {
	Paymaster                     common.Address
	PaymasterData                 []byte
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	IsFinal                       bool
}

type Receipt struct {
	UserOpHash      common.Hash
	Success         bool
	Reason          string
	ActualGasCost   *big.Int
	ActualGasUsed   *big.Int
	TransactionHash common.Hash
	BlockNumber     *big.Int
}

type rpcFees struct {
	MaxFeePerGas         *hexutil.Big `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big `json:"maxPriorityFeePerGas"`
}

type rpcFeeLevels struct {
	Slow     rpcFees `json:"slow"`
	Standard rpcFees `json:"standard"`
	Fast     rpcFees `json:"fast"`
}

type rpcGasEstimate struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit,omitempty"`
}

type rpcSponsorship struct {
	Paymaster                     *common.Address `json:"paymaster"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	IsFinal                       bool            `json:"isFinal,omitempty"`
}

type rpcReceipt struct {
	UserOpHash    common.Hash  `json:"userOpHash"`
	Success       bool         `json:"success"`
	Reason        string       `json:"reason"`
	ActualGasCost *hexutil.Big `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big `json:"actualGasUsed"`
	Receipt       struct {
		TransactionHash common.Hash  `json:"transactionHash"`
		BlockNumber     *hexutil.Big `json:"blockNumber"`
	} `json:"receipt"`
}

func toBig(v *hexutil.Big) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v.ToInt())
}
