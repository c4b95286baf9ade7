package relay

import (
	"context"
	"math/big"
	"sync"

	"github/chapool/go-autoyield/internal/policy"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Rejection codes used by Local, following the bundler RPC error codes.
const (
	CodeInvalidFields    = -32602
	CodeRejectedByPolicy = -32501
)

// Handler executes a packed operation against the addressed account.
type Handler interface {
	HandleOp(op *userop.PackedUserOperation) (policy.Result, error)
}

// Local is an in-process relay. Sent operations are executed immediately,
// their receipts become visible after the configured number of polls.
type Local struct {
	handler    Handler
	entryPoint common.Address
	chainID    *big.Int

	fees      Fees
	estimate  GasEstimate
	paymaster common.Address

	mu           sync.Mutex
	includeAfter int
	polls        map[common.Hash]int
	receipts     map[common.Hash]*Receipt
	sent         []*userop.PackedUserOperation
}

type LocalOption func(*Local)

// WithLocalPaymaster makes the relay sponsor every operation.
func WithLocalPaymaster(paymaster common.Address) LocalOption {
	return func(l *Local) {
		l.paymaster = paymaster
	}
}

// WithInclusionDelay hides receipts for the first n polls; a negative n
// never includes anything.
func WithInclusionDelay(n int) LocalOption {
	return func(l *Local) {
		l.includeAfter = n
	}
}

func NewLocal(handler Handler, entryPoint common.Address, chainID *big.Int, opts ...LocalOption) *Local {
	l := &Local{
		handler:    handler,
		entryPoint: entryPoint,
		chainID:    new(big.Int).Set(chainID),
		fees: Fees{
			MaxFeePerGas:         big.NewInt(2_000_000_000),
			MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		},
		estimate: GasEstimate{
			PreVerificationGas:            big.NewInt(50_000),
			VerificationGasLimit:          big.NewInt(150_000),
			CallGasLimit:                  big.NewInt(300_000),
			PaymasterVerificationGasLimit: big.NewInt(60_000),
			PaymasterPostOpGasLimit:       big.NewInt(20_000),
		},
		polls:    make(map[common.Hash]int),
		receipts: make(map[common.Hash]*Receipt),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) SupportedEntryPoints(context.Context) ([]common.Address, error) {
	return []common.Address{l.entryPoint}, nil
}

func (l *Local) GasFees(context.Context) (*Fees, error) {
	return &Fees{
		MaxFeePerGas:         new(big.Int).Set(l.fees.MaxFeePerGas),
		MaxPriorityFeePerGas: new(big.Int).Set(l.fees.MaxPriorityFeePerGas),
	}, nil
}

func (l *Local) EstimateGas(_ context.Context, op *userop.UserOperation) (*GasEstimate, error) {
	if len(op.CallData) < 4 {
		return nil, &RejectedError{Method: MethodEstimateGas, Code: CodeInvalidFields, Message: "callData too short"}
	}
	est := l.estimate
	if op.Paymaster == nil {
		est.PaymasterVerificationGasLimit = nil
		est.PaymasterPostOpGasLimit = nil
	}
	return &est, nil
}

func (l *Local) sponsorship(method string) (*Sponsorship, error) {
	if l.paymaster == (common.Address{}) {
		return nil, &RejectedError{Method: method, Code: CodeRejectedByPolicy, Message: "sponsorship not available"}
	}
	return &Sponsorship{
		Paymaster:                     l.paymaster,
		PaymasterData:                 []byte{0x01},
		PaymasterVerificationGasLimit: new(big.Int).Set(l.estimate.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       new(big.Int).Set(l.estimate.PaymasterPostOpGasLimit),
	}, nil
}

func (l *Local) SponsorStub(_ context.Context, _ *userop.UserOperation) (*Sponsorship, error) {
	return l.sponsorship(MethodPaymasterStubData)
}

func (l *Local) SponsorFinal(_ context.Context, _ *userop.UserOperation) (*Sponsorship, error) {
	s, err := l.sponsorship(MethodPaymasterData)
	if err != nil {
		return nil, err
	}
	s.IsFinal = true
	return s, nil
}

// Send validates and executes op. Validation failures are rejected like a
// bundler would; reverted calls still produce a failed receipt.
func (l *Local) Send(_ context.Context, op *userop.UserOperation) (common.Hash, error) {
	packed, err := op.Pack()
	if err != nil {
		return common.Hash{}, &RejectedError{Method: MethodSendUserOperation, Code: CodeInvalidFields, Message: err.Error()}
	}
	hash, err := packed.Hash(l.entryPoint, l.chainID)
	if err != nil {
		return common.Hash{}, &RejectedError{Method: MethodSendUserOperation, Code: CodeInvalidFields, Message: err.Error()}
	}

	_, err = l.handler.HandleOp(packed)

	var verr *policy.ValidationError
	if errors.As(err, &verr) {
		return common.Hash{}, &RejectedError{Method: MethodSendUserOperation, Code: CodeInvalidFields, Message: verr.Error()}
	}

	receipt := &Receipt{
		UserOpHash:      hash,
		Success:         err == nil,
		ActualGasCost:   big.NewInt(0),
		ActualGasUsed:   big.NewInt(0),
		TransactionHash: crypto.Keccak256Hash(hash.Bytes()),
	}
	if err != nil {
		receipt.Reason = err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sent = append(l.sent, packed)
	receipt.BlockNumber = big.NewInt(int64(len(l.sent)))
	l.receipts[hash] = receipt

	return hash, nil
}

func (l *Local) Receipt(_ context.Context, hash common.Hash) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.receipts[hash]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	l.polls[hash]++
	if l.includeAfter < 0 || l.polls[hash] <= l.includeAfter {
		return nil, nil //nolint:nilnil
	}

	out := *r
	return &out, nil
}

// Sent returns the operations accepted so far, oldest first.
func (l *Local) Sent() []*userop.PackedUserOperation {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]*userop.PackedUserOperation(nil), l.sent...)
}
