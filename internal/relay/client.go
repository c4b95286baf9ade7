package relay

import (
	"context"
	"math/big"

	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrMissingSponsorship = errors.New("paymaster returned no sponsorship")

// Client talks to the bundler and, optionally, a separate paymaster
// endpoint. Every request waits on a shared rate limiter.
type Client struct {
	bundler    *rpc.Client
	paymaster  *rpc.Client
	entryPoint common.Address
	chainID    *big.Int
	policyID   string
	limiter    *rate.Limiter
}

type Option func(*Client)

// WithPaymaster routes sponsorship calls to a separate endpoint.
func WithPaymaster(c *rpc.Client) Option {
	return func(r *Client) {
		r.paymaster = c
	}
}

// WithSponsorshipPolicy is passed as sponsorship context to the paymaster.
func WithSponsorshipPolicy(id string) Option {
	return func(r *Client) {
		r.policyID = id
	}
}

func WithRateLimit(rps float64, burst int) Option {
	return func(r *Client) {
		if rps <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewClient(bundler *rpc.Client, entryPoint common.Address, chainID *big.Int, opts ...Option) *Client {
	c := &Client{
		bundler:    bundler,
		paymaster:  bundler,
		entryPoint: entryPoint,
		chainID:    new(big.Int).Set(chainID),
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the endpoints named in cfg.
func Dial(ctx context.Context, cfg config.Relay, entryPoint common.Address, chainID *big.Int) (*Client, error) {
	if cfg.BundlerURL == "" {
		return nil, errors.New("bundler URL is required")
	}

	bundler, err := rpc.DialContext(ctx, cfg.BundlerURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial bundler")
	}

	opts := []Option{
		WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
		WithSponsorshipPolicy(cfg.SponsorshipPolicyID),
	}
	if cfg.PaymasterURL != "" && cfg.PaymasterURL != cfg.BundlerURL {
		paymaster, err := rpc.DialContext(ctx, cfg.PaymasterURL)
		if err != nil {
			bundler.Close()
			return nil, errors.Wrap(err, "failed to dial paymaster")
		}
		opts = append(opts, WithPaymaster(paymaster))
	}

	return NewClient(bundler, entryPoint, chainID, opts...), nil
}

func (c *Client) Close() {
	if c.paymaster != c.bundler {
		c.paymaster.Close()
	}
	c.bundler.Close()
}

func (c *Client) EntryPoint() common.Address {
	return c.entryPoint
}

func (c *Client) call(ctx context.Context, client *rpc.Client, result interface{}, method string, args ...interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "%s: rate limiter", method)
	}

	if err := client.CallContext(ctx, result, method, args...); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			log.Debug().
				Str("method", method).
				Int("code", rpcErr.ErrorCode()).
				Err(err).
				Msg("Relay rejected request")
			return &RejectedError{Method: method, Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		}
		return errors.Wrap(err, method)
	}
	return nil
}

func (c *Client) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	if err := c.call(ctx, c.bundler, &out, MethodSupportedEntryPoints); err != nil {
		return nil, err
	}
	return out, nil
}

// GasFees returns the relay's "standard" fee level.
func (c *Client) GasFees(ctx context.Context) (*Fees, error) {
	var levels rpcFeeLevels
	if err := c.call(ctx, c.bundler, &levels, MethodGasPrice); err != nil {
		return nil, err
	}
	if levels.Standard.MaxFeePerGas == nil || levels.Standard.MaxPriorityFeePerGas == nil {
		return nil, errors.Errorf("%s: missing standard fee level", MethodGasPrice)
	}
	return &Fees{
		MaxFeePerGas:         toBig(levels.Standard.MaxFeePerGas),
		MaxPriorityFeePerGas: toBig(levels.Standard.MaxPriorityFeePerGas),
	}, nil
}

func (c *Client) EstimateGas(ctx context.Context, op *userop.UserOperation) (*GasEstimate, error) {
	var est rpcGasEstimate
	if err := c.call(ctx, c.bundler, &est, MethodEstimateGas, op.ToRPC(), c.entryPoint); err != nil {
		return nil, err
	}
	if est.CallGasLimit == nil || est.VerificationGasLimit == nil || est.PreVerificationGas == nil {
		return nil, errors.Errorf("%s: incomplete estimate", MethodEstimateGas)
	}
	return &GasEstimate{
		PreVerificationGas:            toBig(est.PreVerificationGas),
		VerificationGasLimit:          toBig(est.VerificationGasLimit),
		CallGasLimit:                  toBig(est.CallGasLimit),
		PaymasterVerificationGasLimit: toBig(est.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       toBig(est.PaymasterPostOpGasLimit),
	}, nil
}

func (c *Client) sponsorshipContext() interface{} {
	if c.policyID == "" {
		return nil
	}
	return map[string]string{"sponsorshipPolicyId": c.policyID}
}

func (c *Client) sponsor(ctx context.Context, method string, op *userop.UserOperation) (*Sponsorship, error) {
	var res rpcSponsorship
	err := c.call(ctx, c.paymaster, &res, method,
		op.ToRPC(), c.entryPoint, (*hexutil.Big)(c.chainID), c.sponsorshipContext())
	if err != nil {
		return nil, err
	}
	if res.Paymaster == nil || *res.Paymaster == (common.Address{}) {
		return nil, errors.Wrap(ErrMissingSponsorship, method)
	}
	return &Sponsorship{
		Paymaster:                     *res.Paymaster,
		PaymasterData:                 res.PaymasterData,
		PaymasterVerificationGasLimit: toBig(res.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       toBig(res.PaymasterPostOpGasLimit),
		IsFinal:                       res.IsFinal,
	}, nil
}

// SponsorStub asks the paymaster for placeholder sponsorship data used
// during gas estimation.
func (c *Client) SponsorStub(ctx context.Context, op *userop.UserOperation) (*Sponsorship, error) {
	return c.sponsor(ctx, MethodPaymasterStubData, op)
}

// SponsorFinal asks the paymaster to sign the priced operation.
func (c *Client) SponsorFinal(ctx context.Context, op *userop.UserOperation) (*Sponsorship, error) {
	s, err := c.sponsor(ctx, MethodPaymasterData, op)
	if err != nil {
		return nil, err
	}
	s.IsFinal = true
	return s, nil
}

func (c *Client) Send(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, c.bundler, &hash, MethodSendUserOperation, op.ToRPC(), c.entryPoint); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// Receipt returns nil without error while the operation is not yet included.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var res *rpcReceipt
	if err := c.call(ctx, c.bundler, &res, MethodGetReceipt, hash); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil //nolint:nilnil
	}
	return &Receipt{
		UserOpHash:      res.UserOpHash,
		Success:         res.Success,
		Reason:          res.Reason,
		ActualGasCost:   toBig(res.ActualGasCost),
		ActualGasUsed:   toBig(res.ActualGasUsed),
		TransactionHash: res.Receipt.TransactionHash,
		BlockNumber:     toBig(res.Receipt.BlockNumber),
	}, nil
}
