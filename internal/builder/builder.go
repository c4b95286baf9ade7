package builder

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/keys"
	"github/chapool/go-autoyield/internal/metrics"
	"github/chapool/go-autoyield/internal/policy"
	"github/chapool/go-autoyield/internal/relay"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const percent = 100

// Used when the configured values are not positive.
const (
	DefaultPollInterval        = 2 * time.Second
	DefaultConfirmationTimeout = 2 * time.Minute
)

// NonceSource mirrors EntryPoint.getNonce.
type NonceSource interface {
	GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error)
}

// Relay prices, sponsors and accepts operations.
type Relay interface {
	GasFees(ctx context.Context) (*relay.Fees, error)
	SponsorStub(ctx context.Context, op *userop.UserOperation) (*relay.Sponsorship, error)
	EstimateGas(ctx context.Context, op *userop.UserOperation) (*relay.GasEstimate, error)
	SponsorFinal(ctx context.Context, op *userop.UserOperation) (*relay.Sponsorship, error)
	Send(ctx context.Context, op *userop.UserOperation) (common.Hash, error)
	Receipt(ctx context.Context, hash common.Hash) (*relay.Receipt, error)
}

type Config struct {
	EntryPoint          common.Address
	ChainID             *big.Int
	Sponsorship         bool
	GasBufferPercent    int64
	PollInterval        time.Duration
	ConfirmationTimeout time.Duration
}

func ConfigFromServer(cfg config.Server) Config {
	return Config{
		EntryPoint:          common.HexToAddress(cfg.Chain.EntryPoint),
		ChainID:             big.NewInt(cfg.Chain.ChainID),
		Sponsorship:         cfg.Relay.SponsorshipEnabled,
		GasBufferPercent:    cfg.Relay.GasBufferPercent,
		PollInterval:        cfg.Relay.ReceiptPollInterval,
		ConfirmationTimeout: cfg.Relay.ConfirmationTimeout,
	}
}

// Request is one call to run on an account under one credential.
type Request struct {
	Account    common.Address
	CallData   []byte
	Credential policy.Credential
	Signer     keys.Signer

	// ConfirmationTimeout overrides Config.ConfirmationTimeout when positive.
	ConfirmationTimeout time.Duration
}

// Operation is the in-flight record of one request. It is never persisted.
type Operation struct {
	req         Request
	state       State
	nonce       userop.Nonce
	op          userop.UserOperation
	sponsorship *relay.Sponsorship
	hash        common.Hash
	relayHash   common.Hash
	receipt     *relay.Receipt
	err         error
}

func NewOperation(req Request) (*Operation, error) {
	if req.Signer == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "signer is required")
	}
	if len(req.CallData) < 4 {
		return nil, errors.Wrap(ErrInvalidRequest, "call data shorter than a selector")
	}

	o := &Operation{req: req}
	switch req.Credential {
	case policy.CredentialOwner:
		o.nonce = userop.OwnerNonce(0)
	case policy.CredentialAutomation:
		o.nonce = userop.AutomationNonce(req.Signer.Address(), 0)
	default:
		return nil, errors.Wrapf(ErrInvalidRequest, "credential %s cannot sign", req.Credential)
	}
	return o, nil
}

func (o *Operation) State() State { return o.state }

// Err is the error that moved the operation to failed, if any.
func (o *Operation) Err() error { return o.err }

// Hash is the operation hash the credential signed.
func (o *Operation) Hash() common.Hash { return o.hash }

// RelayHash is the hash the relay acknowledged on submission.
func (o *Operation) RelayHash() common.Hash { return o.relayHash }

func (o *Operation) Receipt() *relay.Receipt { return o.receipt }

func (o *Operation) Nonce() userop.Nonce { return o.nonce }

// UserOperation returns a copy of the operation as built so far.
func (o *Operation) UserOperation() userop.UserOperation { return o.op }

type Builder struct {
	cfg     Config
	nonces  NonceSource
	relay   Relay
	metrics *metrics.Service
	clock   time2.Clock

	locks keyedMutex
}

func New(cfg Config, nonces NonceSource, r Relay, m *metrics.Service, clock time2.Clock) *Builder {
	if clock == nil {
		clock = time2.DefaultClock
	}
	if cfg.PollInterval <= 0 {
		log.Warn().Dur("poll_interval", cfg.PollInterval).Msg("Non-positive receipt poll interval, using default")
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ConfirmationTimeout <= 0 {
		log.Warn().Dur("confirmation_timeout", cfg.ConfirmationTimeout).Msg("Non-positive confirmation timeout, using default")
		cfg.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	return &Builder{
		cfg:     cfg,
		nonces:  nonces,
		relay:   r,
		metrics: m,
		clock:   clock,
		locks:   keyedMutex{locks: make(map[string]*sync.Mutex)},
	}
}

// Execute runs every stage of req and waits for the receipt. Operations of
// the same account and credential are serialized from nonce fetch to
// receipt, so the nonce read is never stale.
func (b *Builder) Execute(ctx context.Context, req Request) (*Operation, error) {
	o, err := NewOperation(req)
	if err != nil {
		return nil, err
	}

	unlock := b.locks.lock(req.Account.Hex() + "/" + o.nonce.Key().Text(16))
	defer unlock()

	start := b.clock.Now()
	stages := []func(context.Context, *Operation) error{
		b.FetchNonce,
		b.QuoteFees,
		b.StubSponsorship,
		b.EstimateGas,
		b.FinalizeSponsorship,
		b.ComputeHash,
		b.Sign,
		b.Submit,
		b.AwaitReceipt,
	}
	for _, stage := range stages {
		if err := stage(ctx, o); err != nil {
			b.finish(ctx, o, start, err)
			return o, err
		}
	}

	b.finish(ctx, o, start, nil)
	return o, nil
}

func (b *Builder) finish(ctx context.Context, o *Operation, start time.Time, err error) {
	outcome := metrics.OutcomeConfirmed
	switch {
	case errors.Is(err, ErrConfirmationTimeout):
		outcome = metrics.OutcomeUnconfirmed
	case err != nil:
		outcome = metrics.OutcomeFailed
	}
	if b.metrics != nil {
		b.metrics.ObserveOperation(outcome, b.clock.Now().Sub(start))
	}

	ev := log.Ctx(ctx).Info()
	if err != nil {
		ev = log.Ctx(ctx).Warn().Err(err)
	}
	ev.Str("account", o.req.Account.Hex()).
		Str("credential", o.req.Credential.String()).
		Str("state", o.state.String()).
		Str("user_op_hash", o.hash.Hex()).
		Msg("Operation finished")
}

// advance runs fn if o is in from and moves it to to. A failing fn moves the
// operation to failed.
func (b *Builder) advance(o *Operation, from, to State, fn func() error) error {
	if o.state != from {
		return &StageError{
			Stage: to,
			Err:   errors.Wrapf(ErrInvalidTransition, "%s requires %s, operation is %s", to, from, o.state),
		}
	}

	if err := fn(); err != nil {
		return b.fail(o, to, err)
	}
	if b.metrics != nil {
		b.metrics.ObserveStage(to.String(), nil)
	}

	o.state = to
	return nil
}

func (b *Builder) fail(o *Operation, stage State, err error) error {
	if b.metrics != nil {
		b.metrics.ObserveStage(stage.String(), err)
	}

	o.state = StateFailed
	o.err = &StageError{Stage: stage, Err: err}
	return o.err
}

func (b *Builder) FetchNonce(ctx context.Context, o *Operation) error {
	return b.advance(o, StateIdle, StateNonceFetched, func() error {
		raw, err := b.nonces.GetNonce(ctx, o.req.Account, o.nonce.Key())
		if err != nil {
			return err
		}
		nonce, err := userop.DecodeNonce(raw)
		if err != nil {
			return err
		}
		if nonce.Key().Cmp(o.nonce.Key()) != 0 {
			return errors.Wrapf(ErrNonceKeyMismatch, "asked for %x, got %x", o.nonce.Key(), nonce.Key())
		}

		o.nonce = nonce
		o.op = userop.UserOperation{
			Sender:    o.req.Account,
			Nonce:     nonce.BigInt(),
			CallData:  o.req.CallData,
			Signature: userop.DummySignature,
		}
		return nil
	})
}

func (b *Builder) QuoteFees(ctx context.Context, o *Operation) error {
	return b.advance(o, StateNonceFetched, StateFeeQuoted, func() error {
		fees, err := b.relay.GasFees(ctx)
		if err != nil {
			return err
		}
		o.op.MaxFeePerGas = fees.MaxFeePerGas
		o.op.MaxPriorityFeePerGas = fees.MaxPriorityFeePerGas
		return nil
	})
}

// StubSponsorship attaches placeholder paymaster data so estimation sees a
// sponsored operation. Without sponsorship it only advances the state.
func (b *Builder) StubSponsorship(ctx context.Context, o *Operation) error {
	return b.advance(o, StateFeeQuoted, StateSponsorshipStubbed, func() error {
		if !b.cfg.Sponsorship {
			return nil
		}
		stub, err := b.relay.SponsorStub(ctx, &o.op)
		if err != nil {
			return err
		}
		o.applySponsorship(stub)
		return nil
	})
}

func (b *Builder) EstimateGas(ctx context.Context, o *Operation) error {
	return b.advance(o, StateSponsorshipStubbed, StateGasEstimated, func() error {
		est, err := b.relay.EstimateGas(ctx, &o.op)
		if err != nil {
			return err
		}
		o.op.PreVerificationGas = est.PreVerificationGas
		o.op.VerificationGasLimit = b.buffer(est.VerificationGasLimit)
		o.op.CallGasLimit = b.buffer(est.CallGasLimit)
		if o.op.Paymaster != nil {
			if est.PaymasterVerificationGasLimit != nil {
				o.op.PaymasterVerificationGasLimit = b.buffer(est.PaymasterVerificationGasLimit)
			}
			if est.PaymasterPostOpGasLimit != nil {
				o.op.PaymasterPostOpGasLimit = b.buffer(est.PaymasterPostOpGasLimit)
			}
		}
		return nil
	})
}

// FinalizeSponsorship replaces the stub with the paymaster's signed data,
// unless the stub was already final.
func (b *Builder) FinalizeSponsorship(ctx context.Context, o *Operation) error {
	return b.advance(o, StateGasEstimated, StateSponsorshipFinalized, func() error {
		if !b.cfg.Sponsorship || (o.sponsorship != nil && o.sponsorship.IsFinal) {
			return nil
		}
		final, err := b.relay.SponsorFinal(ctx, &o.op)
		if err != nil {
			return err
		}
		// gas limits stay as estimated, only the signed data changes
		pm := final.Paymaster
		o.sponsorship = final
		o.op.Paymaster = &pm
		o.op.PaymasterData = final.PaymasterData
		return nil
	})
}

func (b *Builder) ComputeHash(_ context.Context, o *Operation) error {
	return b.advance(o, StateSponsorshipFinalized, StateHashed, func() error {
		hash, err := o.op.Hash(b.cfg.EntryPoint, b.cfg.ChainID)
		if err != nil {
			return err
		}
		o.hash = hash
		return nil
	})
}

func (b *Builder) Sign(_ context.Context, o *Operation) error {
	return b.advance(o, StateHashed, StateSigned, func() error {
		sig, err := o.req.Signer.SignHash(o.hash)
		if err != nil {
			return err
		}
		o.op.Signature = sig
		return nil
	})
}

func (b *Builder) Submit(ctx context.Context, o *Operation) error {
	return b.advance(o, StateSigned, StateSubmitted, func() error {
		hash, err := b.relay.Send(ctx, &o.op)
		if err != nil {
			return err
		}
		if hash != o.hash {
			log.Ctx(ctx).Warn().
				Str("local_hash", o.hash.Hex()).
				Str("relay_hash", hash.Hex()).
				Msg("Relay acknowledged a different operation hash")
		}
		o.relayHash = hash
		return nil
	})
}

// AwaitReceipt polls the relay until the operation is included or the
// confirmation timeout elapses. A timeout fails the operation with
// ErrConfirmationTimeout even though it may still be included later.
func (b *Builder) AwaitReceipt(ctx context.Context, o *Operation) error {
	if o.state != StateSubmitted {
		return &StageError{
			Stage: StateConfirmed,
			Err:   errors.Wrapf(ErrInvalidTransition, "%s requires %s, operation is %s", StateConfirmed, StateSubmitted, o.state),
		}
	}

	timeout := b.cfg.ConfirmationTimeout
	if o.req.ConfirmationTimeout > 0 {
		timeout = o.req.ConfirmationTimeout
	}
	deadline := b.clock.Now().Add(timeout)

	for {
		receipt, err := b.relay.Receipt(ctx, o.relayHash)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Ctx(ctx).Debug().Err(err).Str("user_op_hash", o.relayHash.Hex()).Msg("Receipt poll failed")
		case receipt != nil:
			return b.advance(o, StateSubmitted, StateConfirmed, func() error {
				o.receipt = receipt
				if !receipt.Success {
					return errors.Wrapf(ErrOperationReverted, "tx %s: %s", receipt.TransactionHash.Hex(), receipt.Reason)
				}
				return nil
			})
		}

		left := deadline.Sub(b.clock.Now())
		if left <= 0 {
			return b.fail(o, StateConfirmed, errors.Wrapf(ErrConfirmationTimeout, "waited %s", timeout))
		}

		select {
		case <-ctx.Done():
			return b.fail(o, StateConfirmed, errors.Wrap(ctx.Err(), "context canceled while waiting for receipt"))
		case <-b.clock.After(min(b.cfg.PollInterval, left)):
		}
	}
}

func (o *Operation) applySponsorship(s *relay.Sponsorship) {
	pm := s.Paymaster
	o.sponsorship = s
	o.op.Paymaster = &pm
	o.op.PaymasterData = s.PaymasterData
	if s.PaymasterVerificationGasLimit != nil {
		o.op.PaymasterVerificationGasLimit = s.PaymasterVerificationGasLimit
	}
	if s.PaymasterPostOpGasLimit != nil {
		o.op.PaymasterPostOpGasLimit = s.PaymasterPostOpGasLimit
	}
}

func (b *Builder) buffer(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	out := new(big.Int).Mul(v, big.NewInt(percent+b.cfg.GasBufferPercent))
	return out.Quo(out, big.NewInt(percent))
}

// keyedMutex hands out one mutex per key. Keys are never removed; there is
// one per managed account and credential.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
