package command

import (
	"context"
	"fmt"
	"os"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/builder"
	"github/chapool/go-autoyield/internal/chain"
	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/keys"
	"github/chapool/go-autoyield/internal/rebalance"
	"github/chapool/go-autoyield/internal/relay"
	"github/chapool/go-autoyield/internal/scheduler"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Automation is everything needed to build and submit operations.
type Automation struct {
	Builder *builder.Builder
	KeyRing *keys.KeyRing
}

// KeystoreParams returns the scrypt parameters of cfg, falling back to the
// defaults for unset values.
func KeystoreParams(cfg config.Keystore) keys.ScryptParams {
	params := keys.DefaultScryptParams()
	if cfg.ScryptN > 0 {
		params.N = cfg.ScryptN
	}
	return params
}

// UnlockKeystore decrypts the automation mnemonic and loads its seed. The
// password comes from the config, or from the terminal when unset.
//
//nolint:ireturn
func UnlockKeystore(ctx context.Context, cfg config.Keystore) (keys.SeedManager, error) {
	log := log.With().Str("component", "keystore").Logger()

	ks := keys.NewFileKeystore(cfg.Path, KeystoreParams(cfg))
	if !ks.Exists() {
		return nil, errors.Errorf("keystore %s not found, create it with `keystore create`", cfg.Path)
	}

	password := cfg.Password
	if password == "" {
		log.Info().Str("path", cfg.Path).Msg("Keystore found. Please enter password to unlock...")

		var err error
		password, err = PromptPassword("Enter keystore password: ")
		if err != nil {
			return nil, err
		}
	}

	mnemonic, err := ks.Decrypt(ctx, password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt keystore (invalid password?)")
	}

	seed := keys.NewSeedManager()
	if err := seed.Initialize(mnemonic, cfg.Passphrase); err != nil {
		return nil, errors.Wrap(err, "failed to initialize seed manager")
	}

	log.Info().Msg("Seed manager initialized successfully")

	return seed, nil
}

// PromptPassword reads a password from the terminal without echoing it.
//
//nolint:forbidigo
func PromptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no keystore password configured and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)

	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "failed to read password from terminal")
	}

	return string(b), nil
}

// NewKeyRing maps the configured account indexes onto the seed.
func NewKeyRing(seed keys.SeedManager, cfg config.Automation) (*keys.KeyRing, error) {
	scope, err := keys.ParseScope(cfg.KeyScope)
	if err != nil {
		return nil, err
	}

	indexes := make(map[common.Address]uint32, len(cfg.AccountIndexes))
	for addr, index := range cfg.AccountIndexes {
		if !common.IsHexAddress(addr) {
			return nil, errors.Errorf("invalid account address %q in account indexes", addr)
		}
		indexes[common.HexToAddress(addr)] = index
	}

	return keys.NewKeyRing(seed, scope, indexes)
}

// InitAutomation connects the chain and relay clients of s and builds the
// operation builder on top of them.
func InitAutomation(ctx context.Context, s *api.Server, seed keys.SeedManager) (*Automation, error) {
	ring, err := NewKeyRing(seed, s.Config.Automation)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create key ring")
	}

	entryPoint := common.HexToAddress(s.Config.Chain.EntryPoint)

	chainClient, err := chain.Dial(s.Config.Chain.RPCURLs, entryPoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect chain RPC")
	}
	s.Chain = chainClient

	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain id")
	}
	if chainID.Int64() != s.Config.Chain.ChainID {
		return nil, errors.Errorf("chain RPC reports chain id %s, configured %d", chainID, s.Config.Chain.ChainID)
	}

	relayClient, err := relay.Dial(ctx, s.Config.Relay, entryPoint, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect relay")
	}
	s.Relay = relayClient

	supported, err := relayClient.SupportedEntryPoints(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query relay entry points")
	}
	if !containsAddress(supported, entryPoint) {
		return nil, errors.Errorf("relay does not support entry point %s", entryPoint.Hex())
	}

	b := builder.New(builder.ConfigFromServer(s.Config), chainClient, relayClient, s.Metrics, s.Clock)

	log.Info().
		Str("entry_point", entryPoint.Hex()).
		Int64("chain_id", s.Config.Chain.ChainID).
		Str("key_scope", string(ring.Scope())).
		Bool("sponsorship", s.Config.Relay.SponsorshipEnabled).
		Msg("Automation initialized")

	return &Automation{Builder: b, KeyRing: ring}, nil
}

// InitEngine builds the decision engine and the task scheduler of s.
func InitEngine(s *api.Server, a *Automation) error {
	params, err := rebalance.ParamsFromServer(s.Config.Automation)
	if err != nil {
		return err
	}

	var oracle rebalance.RateOracle
	if s.Config.Automation.OracleURL != "" {
		oracle = rebalance.NewHTTPOracle(s.Config.Automation.OracleURL, s.Config.Chain.RequestTimeout, s.Clock)
	} else {
		log.Warn().Msg("No oracle URL configured, migrate tasks will never find a candidate")
		oracle = rebalance.NewStaticOracle()
	}

	s.Engine = rebalance.NewEngine(s.Chain, oracle, a.Builder, a.KeyRing, s.Metrics, s.Clock, params, s.Config.Automation.OracleNetwork)
	s.Scheduler = scheduler.New(s.Config.Scheduler, s.Tasks, s.Engine, s.Metrics, s.Clock)

	return nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
