package chain

import (
	"context"
	"math/big"
	"sync"

	"github/chapool/go-autoyield/internal/adapter"
	"github/chapool/go-autoyield/internal/ledger"
	"github/chapool/go-autoyield/internal/policy"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var ErrUnknownAccount = errors.New("account not deployed")

// Local answers the same reads as Client from in-process accounts. It backs
// dry runs and tests that drive policy executors directly.
type Local struct {
	state    ledger.State
	registry *adapter.Registry

	mu        sync.RWMutex
	executors map[common.Address]*policy.Executor
}

func NewLocal(state ledger.State, registry *adapter.Registry) *Local {
	return &Local{
		state:     state,
		registry:  registry,
		executors: make(map[common.Address]*policy.Executor),
	}
}

// Deploy makes an executor visible under its account address.
func (l *Local) Deploy(exec *policy.Executor) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.executors[exec.Account().Address()] = exec
}

// Executor returns the executor deployed at account.
func (l *Local) Executor(account common.Address) (*policy.Executor, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	exec, ok := l.executors[account]
	if !ok {
		return nil, errors.Wrap(ErrUnknownAccount, account.Hex())
	}
	return exec, nil
}

func (l *Local) account(account common.Address) (*policy.Account, error) {
	exec, err := l.Executor(account)
	if err != nil {
		return nil, err
	}
	return exec.Account(), nil
}

func (l *Local) GetNonce(_ context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	exec, err := l.Executor(sender)
	if err != nil {
		return nil, err
	}
	if exec.Verifier() == nil {
		return nil, errors.New("account has no verifier")
	}

	seq := exec.Verifier().NextSequence(key)
	nonce := new(big.Int).Lsh(key, 64)
	return nonce.Or(nonce, new(big.Int).SetUint64(seq)), nil
}

func (l *Local) TokenBalance(_ context.Context, token, account common.Address) (*big.Int, error) {
	return l.state.BalanceOf(token, account), nil
}

func (l *Local) PositionValue(_ context.Context, adapterID, owner common.Address) (*big.Int, error) {
	ad, err := l.registry.Get(adapterID)
	if err != nil {
		return nil, err
	}
	return ad.TotalValue(l.state, owner), nil
}

func (l *Local) Threshold(_ context.Context, account, token common.Address) (*big.Int, error) {
	acc, err := l.account(account)
	if err != nil {
		return nil, err
	}
	return acc.Threshold(token), nil
}

func (l *Local) CurrentAdapter(_ context.Context, account, token common.Address) (common.Address, error) {
	acc, err := l.account(account)
	if err != nil {
		return common.Address{}, err
	}
	return acc.CurrentAdapter(token), nil
}

func (l *Local) IsAdapterAllowed(_ context.Context, account, adapterID common.Address) (bool, error) {
	acc, err := l.account(account)
	if err != nil {
		return false, err
	}
	return acc.IsAdapterAllowed(adapterID), nil
}

func (l *Local) AutomationKey(_ context.Context, account common.Address) (common.Address, error) {
	acc, err := l.account(account)
	if err != nil {
		return common.Address{}, err
	}
	return acc.AutomationKey(), nil
}

// HandleOp hands a signed operation to the account it is addressed to.
func (l *Local) HandleOp(op *userop.PackedUserOperation) (policy.Result, error) {
	exec, err := l.Executor(op.Sender)
	if err != nil {
		return policy.Result{}, err
	}
	return exec.HandleOp(op)
}
