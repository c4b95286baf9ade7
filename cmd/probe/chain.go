package probe

import (
	"context"
	"fmt"
	"time"

	"github/chapool/go-autoyield/internal/chain"
	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const probeTimeout = 10 * time.Second

func newChain() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Checks the chain RPC answers with the configured chain id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			command.ApplyLoggerConfig(cfg.Logger)

			return probeChain(cmd.Context(), cfg, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, verboseFlag, "v", false, "Show verbose output.")

	return cmd
}

//nolint:forbidigo
func probeChain(ctx context.Context, cfg config.Server, verbose bool) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client, err := chain.Dial(cfg.Chain.RPCURLs, common.HexToAddress(cfg.Chain.EntryPoint))
	if err != nil {
		return err
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read chain id")
	}

	if verbose {
		log.Info().Str("chain_id", chainID.String()).Strs("rpc_urls", cfg.Chain.RPCURLs).Msg("Chain RPC answered")
	}

	if chainID.Int64() != cfg.Chain.ChainID {
		return errors.Errorf("chain RPC reports chain id %s, configured %d", chainID, cfg.Chain.ChainID)
	}

	fmt.Println("Chain is reachable.")
	return nil
}
