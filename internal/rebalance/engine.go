// Package rebalance decides, on every task tick, whether an account needs an
// operation and hands at most one to the builder.
package rebalance

import (
	"context"
	"math/big"
	"strconv"

	"github/chapool/go-autoyield/internal/builder"
	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/keys"
	"github/chapool/go-autoyield/internal/metrics"
	"github/chapool/go-autoyield/internal/policy"
	"github/chapool/go-autoyield/internal/util"

	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var ErrAutomationDisabled = errors.New("automation credential not set on account")

// AccountReader reads the on-chain state a decision depends on.
type AccountReader interface {
	Threshold(ctx context.Context, account, token common.Address) (*big.Int, error)
	CurrentAdapter(ctx context.Context, account, token common.Address) (common.Address, error)
	IsAdapterAllowed(ctx context.Context, account, adapterID common.Address) (bool, error)
	AutomationKey(ctx context.Context, account common.Address) (common.Address, error)
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
	PositionValue(ctx context.Context, adapterID, owner common.Address) (*big.Int, error)
}

type Executor interface {
	Execute(ctx context.Context, req builder.Request) (*builder.Operation, error)
}

type SignerSource interface {
	SignerFor(account common.Address) (keys.Signer, error)
}

// Target is what one tick runs against.
type Target struct {
	Account common.Address
	Token   common.Address
	Action  Action
}

// Result of one tick. Operation is nil when nothing was submitted.
type Result struct {
	Decision  Decision
	Operation *builder.Operation
}

type Engine struct {
	reader  AccountReader
	oracle  RateOracle
	exec    Executor
	signers SignerSource
	metrics *metrics.Service
	clock   time2.Clock

	params  Params
	network string
}

func ParamsFromServer(cfg config.Automation) (Params, error) {
	p := Params{
		MinImprovementBPS:     cfg.MinAPYImprovementBPS,
		MaxQuoteAge:           cfg.OracleMaxAge,
		SweepRequiresPosition: cfg.SweepRequiresPosition,
	}
	if cfg.MinTVL != "" {
		tvl, err := strconv.ParseFloat(cfg.MinTVL, 64)
		if err != nil {
			return Params{}, errors.Wrapf(err, "invalid min tvl %q", cfg.MinTVL)
		}
		p.MinTVL = tvl
	}
	return p, nil
}

func NewEngine(
	reader AccountReader,
	oracle RateOracle,
	exec Executor,
	signers SignerSource,
	m *metrics.Service,
	clock time2.Clock,
	params Params,
	network string,
) *Engine {
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &Engine{
		reader:  reader,
		oracle:  oracle,
		exec:    exec,
		signers: signers,
		metrics: m,
		clock:   clock,
		params:  params,
		network: network,
	}
}

// Run reads the account, decides and submits at most one operation with the
// automation credential.
func (e *Engine) Run(ctx context.Context, t Target) (*Result, error) {
	in, err := e.inputs(ctx, t)
	if err != nil {
		return nil, err
	}

	d := Decide(in, e.params)
	if e.metrics != nil {
		e.metrics.ObserveDecision(string(d.Kind))
	}

	log := util.LogFromContext(ctx).With().
		Str("account", t.Account.Hex()).
		Str("token", t.Token.Hex()).
		Str("action", string(t.Action)).
		Str("decision", string(d.Kind)).
		Str("reason", d.Reason).
		Logger()

	res := &Result{Decision: d}
	if d.Kind == DecisionNoop {
		log.Debug().Msg("Nothing to do")
		return res, nil
	}

	calldata, err := e.encode(t, d)
	if err != nil {
		return res, err
	}
	signer, err := e.signers.SignerFor(t.Account)
	if err != nil {
		return res, errors.Wrap(err, "failed to get automation signer")
	}

	log.Info().Str("target", d.Target.Hex()).Msg("Submitting operation")
	res.Operation, err = e.exec.Execute(log.WithContext(ctx), builder.Request{
		Account:    t.Account,
		CallData:   calldata,
		Credential: policy.CredentialAutomation,
		Signer:     signer,
	})
	return res, err
}

func (e *Engine) encode(t Target, d Decision) ([]byte, error) {
	switch d.Kind {
	case DecisionMigrate:
		return policy.EncodeMigrate(t.Token, d.Target)
	case DecisionRebalance:
		return policy.EncodeRebalance(t.Token)
	default:
		return nil, errors.Errorf("decision %s has no call", d.Kind)
	}
}

func (e *Engine) inputs(ctx context.Context, t Target) (Inputs, error) {
	key, err := e.reader.AutomationKey(ctx, t.Account)
	if err != nil {
		return Inputs{}, errors.Wrap(err, "failed to read automation key")
	}
	if key == (common.Address{}) {
		return Inputs{}, errors.Wrap(ErrAutomationDisabled, t.Account.Hex())
	}

	in := Inputs{Action: t.Action, Now: e.clock.Now()}

	if in.Threshold, err = e.reader.Threshold(ctx, t.Account, t.Token); err != nil {
		return Inputs{}, errors.Wrap(err, "failed to read threshold")
	}
	if in.Current, err = e.reader.CurrentAdapter(ctx, t.Account, t.Token); err != nil {
		return Inputs{}, errors.Wrap(err, "failed to read current adapter")
	}
	if in.Liquid, err = e.reader.TokenBalance(ctx, t.Token, t.Account); err != nil {
		return Inputs{}, errors.Wrap(err, "failed to read liquid balance")
	}
	in.Position = new(big.Int)
	if in.Current != (common.Address{}) {
		if in.Position, err = e.reader.PositionValue(ctx, in.Current, t.Account); err != nil {
			return Inputs{}, errors.Wrap(err, "failed to read position")
		}
	}

	if t.Action != ActionMigrate {
		return in, nil
	}

	if in.Quotes, err = e.oracle.Quotes(ctx, t.Token, e.network); err != nil {
		return Inputs{}, errors.Wrap(err, "failed to fetch quotes")
	}
	in.Allowed = make(map[common.Address]bool, len(in.Quotes))
	for _, q := range in.Quotes {
		if _, ok := in.Allowed[q.VaultID]; ok {
			continue
		}
		allowed, err := e.reader.IsAdapterAllowed(ctx, t.Account, q.VaultID)
		if err != nil {
			return Inputs{}, errors.Wrap(err, "failed to read whitelist")
		}
		in.Allowed[q.VaultID] = allowed
	}
	return in, nil
}
