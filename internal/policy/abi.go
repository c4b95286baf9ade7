package policy

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const policyABIJSON = `[
	{"type":"function","name":"configureThreshold","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setAutomationKey","stateMutability":"nonpayable",
	 "inputs":[{"name":"key","type":"address"}],"outputs":[]},
	{"type":"function","name":"allowAdapter","stateMutability":"nonpayable",
	 "inputs":[{"name":"adapter","type":"address"},{"name":"allowed","type":"bool"}],"outputs":[]},
	{"type":"function","name":"spendWithAutoSource","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"destination","type":"address"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"rebalance","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"}],"outputs":[]},
	{"type":"function","name":"migrate","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"newAdapter","type":"address"}],"outputs":[]},
	{"type":"function","name":"flush","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"}],"outputs":[]},
	{"type":"function","name":"checkingThreshold","stateMutability":"view",
	 "inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"currentAdapter","stateMutability":"view",
	 "inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"isAdapterAllowed","stateMutability":"view",
	 "inputs":[{"name":"adapter","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"automationKey","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

var policyABI = mustParseABI(policyABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ABI returns the selector surface of the policy, including its views.
func ABI() abi.ABI {
	return policyABI
}

// Selector returns the 4 byte selector of op.
func Selector(op Operation) [4]byte {
	var sel [4]byte
	copy(sel[:], policyABI.Methods[string(op)].ID)
	return sel
}

// AutomationSelectors is the allow-list the verifier applies to calls signed
// by the automation credential. It is derived from the access table.
func AutomationSelectors() map[[4]byte]Operation {
	out := make(map[[4]byte]Operation)
	for _, op := range Operations() {
		if Allowed(op, CredentialAutomation) {
			out[Selector(op)] = op
		}
	}
	return out
}

func pack(op Operation, args ...interface{}) ([]byte, error) {
	data, err := policyABI.Pack(string(op), args...)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedCall, "%s: %v", op, err)
	}
	return data, nil
}

func EncodeConfigureThreshold(token common.Address, amount *big.Int) ([]byte, error) {
	return pack(OpConfigureThreshold, token, amount)
}

func EncodeSetAutomationCredential(key common.Address) ([]byte, error) {
	return pack(OpSetAutomationCredential, key)
}

func EncodeAllowAdapter(adapter common.Address, allowed bool) ([]byte, error) {
	return pack(OpAllowAdapter, adapter, allowed)
}

func EncodeSpendWithAutoSource(token, destination common.Address, amount *big.Int, payload []byte) ([]byte, error) {
	if payload == nil {
		payload = []byte{}
	}
	return pack(OpSpendWithAutoSource, token, destination, amount, payload)
}

func EncodeRebalance(token common.Address) ([]byte, error) {
	return pack(OpRebalance, token)
}

func EncodeMigrate(token, newAdapter common.Address) ([]byte, error) {
	return pack(OpMigrate, token, newAdapter)
}

func EncodeFlush(token common.Address) ([]byte, error) {
	return pack(OpFlush, token)
}

// DecodeCall resolves the selector and unpacks the arguments of one of the
// callable operations. View methods are not callable.
func DecodeCall(calldata []byte) (Operation, []interface{}, error) {
	if len(calldata) < 4 {
		return "", nil, errors.Wrapf(ErrMalformedCall, "call data length %d", len(calldata))
	}

	method, err := policyABI.MethodById(calldata[:4])
	if err != nil {
		return "", nil, errors.Wrapf(ErrUnknownSelector, "%x", calldata[:4])
	}

	op := Operation(method.Name)
	if _, ok := operationAccess[op]; !ok {
		return "", nil, errors.Wrapf(ErrUnknownSelector, "%s is not callable", method.Name)
	}

	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return "", nil, errors.Wrapf(ErrMalformedCall, "%s: %v", op, err)
	}
	return op, args, nil
}

func argAddress(args []interface{}, i int) (common.Address, error) {
	if i >= len(args) {
		return common.Address{}, errors.Wrapf(ErrMalformedCall, "missing argument %d", i)
	}
	v, ok := args[i].(common.Address)
	if !ok {
		return common.Address{}, errors.Wrapf(ErrMalformedCall, "argument %d is not an address", i)
	}
	return v, nil
}

func argBig(args []interface{}, i int) (*big.Int, error) {
	if i >= len(args) {
		return nil, errors.Wrapf(ErrMalformedCall, "missing argument %d", i)
	}
	v, ok := args[i].(*big.Int)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedCall, "argument %d is not an integer", i)
	}
	return v, nil
}

func argBool(args []interface{}, i int) (bool, error) {
	if i >= len(args) {
		return false, errors.Wrapf(ErrMalformedCall, "missing argument %d", i)
	}
	v, ok := args[i].(bool)
	if !ok {
		return false, errors.Wrapf(ErrMalformedCall, "argument %d is not a bool", i)
	}
	return v, nil
}

func argBytes(args []interface{}, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, errors.Wrapf(ErrMalformedCall, "missing argument %d", i)
	}
	v, ok := args[i].([]byte)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedCall, "argument %d is not bytes", i)
	}
	return v, nil
}
