package policy

import (
	"math/big"
	"sync"

	"github/chapool/go-autoyield/internal/userop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Result is what one dispatched call moved. Fields unused by an operation stay nil.
type Result struct {
	Operation Operation
	Moved     *big.Int
	Spend     *SpendResult
}

// ValidationError marks an operation rejected before its call ran. The
// nonce is not consumed.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Executor plays the part of the account runtime: it serializes calls to one
// account and is the single place where the access table is checked before
// an operation runs.
type Executor struct {
	mu       sync.Mutex
	account  *Account
	verifier *Verifier
}

func NewExecutor(account *Account, verifier *Verifier) *Executor {
	return &Executor{account: account, verifier: verifier}
}

func (e *Executor) Account() *Account {
	return e.account
}

func (e *Executor) Verifier() *Verifier {
	return e.verifier
}

// HandleOp validates a signed operation and dispatches its call data.
func (e *Executor) HandleOp(op *userop.PackedUserOperation) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.verifier == nil {
		return Result{}, errors.New("executor has no verifier")
	}

	caller, err := e.verifier.Validate(op)
	if err != nil {
		return Result{}, &ValidationError{Err: err}
	}
	return e.dispatch(caller, op.CallData)
}

// Dispatch runs calldata on behalf of an already authenticated caller.
func (e *Executor) Dispatch(caller Caller, calldata []byte) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.dispatch(caller, calldata)
}

func (e *Executor) dispatch(caller Caller, calldata []byte) (Result, error) {
	op, args, err := DecodeCall(calldata)
	if err != nil {
		return Result{}, err
	}
	if !Allowed(op, caller.Kind) {
		return Result{}, errors.Wrapf(ErrUnauthorized, "%s may not call %s", caller.Kind, op)
	}

	res := Result{Operation: op}
	a := e.account

	switch op {
	case OpConfigureThreshold:
		token, amount, err := addressAndBig(args)
		if err != nil {
			return res, err
		}
		return res, a.ConfigureThreshold(caller, token, amount)

	case OpSetAutomationCredential:
		key, err := argAddress(args, 0)
		if err != nil {
			return res, err
		}
		return res, a.SetAutomationCredential(caller, key)

	case OpAllowAdapter:
		id, err := argAddress(args, 0)
		if err != nil {
			return res, err
		}
		allowed, err := argBool(args, 1)
		if err != nil {
			return res, err
		}
		return res, a.AllowAdapter(caller, id, allowed)

	case OpSpendWithAutoSource:
		token, err := argAddress(args, 0)
		if err != nil {
			return res, err
		}
		destination, err := argAddress(args, 1)
		if err != nil {
			return res, err
		}
		amount, err := argBig(args, 2)
		if err != nil {
			return res, err
		}
		payload, err := argBytes(args, 3)
		if err != nil {
			return res, err
		}
		spend, err := a.SpendWithAutoSource(caller, token, destination, amount, payload)
		if err != nil {
			return res, err
		}
		res.Spend = &spend
		return res, nil

	case OpRebalance:
		token, err := argAddress(args, 0)
		if err != nil {
			return res, err
		}
		res.Moved, err = a.Rebalance(caller, token)
		return res, err

	case OpMigrate:
		token, err := argAddress(args, 0)
		if err != nil {
			return res, err
		}
		next, err := argAddress(args, 1)
		if err != nil {
			return res, err
		}
		res.Moved, err = a.Migrate(caller, token, next)
		return res, err

	case OpFlush:
		token, err := argAddress(args, 0)
		if err != nil {
			return res, err
		}
		res.Moved, err = a.Flush(caller, token)
		return res, err
	}

	return res, errors.Wrapf(ErrUnknownSelector, "%s", op)
}

func addressAndBig(args []interface{}) (common.Address, *big.Int, error) {
	addr, err := argAddress(args, 0)
	if err != nil {
		return addr, nil, err
	}
	amount, err := argBig(args, 1)
	return addr, amount, err
}
