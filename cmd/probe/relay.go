package probe

import (
	"context"
	"fmt"
	"math/big"

	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/relay"
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRelay() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Checks the bundler supports the configured entry point",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			command.ApplyLoggerConfig(cfg.Logger)

			return probeRelay(cmd.Context(), cfg, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, verboseFlag, "v", false, "Show verbose output.")

	return cmd
}

//nolint:forbidigo
func probeRelay(ctx context.Context, cfg config.Server, verbose bool) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	entryPoint := common.HexToAddress(cfg.Chain.EntryPoint)

	client, err := relay.Dial(ctx, cfg.Relay, entryPoint, big.NewInt(cfg.Chain.ChainID))
	if err != nil {
		return err
	}
	defer client.Close()

	supported, err := client.SupportedEntryPoints(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to query supported entry points")
	}

	found := false
	for _, ep := range supported {
		if ep == entryPoint {
			found = true
			break
		}
	}
	if !found {
		return errors.Errorf("relay does not support entry point %s", entryPoint.Hex())
	}

	fees, err := client.GasFees(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to query gas fees")
	}

	if verbose {
		log.Info().
			Int("entry_points", len(supported)).
			Str("max_fee_per_gas", fees.MaxFeePerGas.String()).
			Str("max_priority_fee_per_gas", fees.MaxPriorityFeePerGas.String()).
			Msg("Relay answered")
	}

	fmt.Println("Relay is reachable.")
	return nil
}
