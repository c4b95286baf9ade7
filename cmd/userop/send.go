package userop

import (
	"context"
	"fmt"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/builder"
	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/policy"
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newSend() *cobra.Command {
	var (
		account, token, adapter string
		dump                    bool
	)

	cmd := &cobra.Command{
		Use:       "send <rebalance|migrate>",
		Short:     "Builds, signs and submits one operation with the automation key",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"rebalance", "migrate"},
		RunE: func(cmd *cobra.Command, args []string) error {
			accountAddr, err := parseAddress(accountFlag, account)
			if err != nil {
				return err
			}
			tokenAddr, err := parseAddress(tokenFlag, token)
			if err != nil {
				return err
			}

			var callData []byte
			switch args[0] {
			case "rebalance":
				callData, err = policy.EncodeRebalance(tokenAddr)
			case "migrate":
				adapterAddr, perr := parseAddress(adapterFlag, adapter)
				if perr != nil {
					return perr
				}
				callData, err = policy.EncodeMigrate(tokenAddr, adapterAddr)
			}
			if err != nil {
				return errors.Wrap(err, "failed to encode call")
			}

			cfg := config.DefaultServiceConfigFromEnv()
			cfg.Scheduler.Enabled = false

			return command.WithServer(cmd.Context(), cfg, func(ctx context.Context, s *api.Server) error {
				return send(ctx, s, accountAddr, callData, dump)
			})
		},
	}

	cmd.Flags().StringVar(&account, accountFlag, "", "Smart account to operate on.")
	cmd.Flags().StringVar(&token, tokenFlag, "", "Token to route.")
	cmd.Flags().StringVar(&adapter, adapterFlag, "", "Destination adapter id (migrate only).")
	cmd.Flags().BoolVar(&dump, "dump", false, "Print the final operation fields.")

	return cmd
}

//nolint:forbidigo
func send(ctx context.Context, s *api.Server, account common.Address, callData []byte, dump bool) error {
	seed, err := command.UnlockKeystore(ctx, s.Config.Keystore)
	if err != nil {
		return err
	}
	defer seed.Clear()

	automation, err := command.InitAutomation(ctx, s, seed)
	if err != nil {
		return err
	}

	signer, err := automation.KeyRing.SignerFor(account)
	if err != nil {
		return err
	}

	op, err := automation.Builder.Execute(ctx, builder.Request{
		Account:    account,
		CallData:   callData,
		Credential: policy.CredentialAutomation,
		Signer:     signer,
	})
	if op != nil && dump {
		spew.Dump(op.UserOperation())
	}
	if op != nil && op.Hash() != (common.Hash{}) {
		fmt.Printf("operation:  %s\n", op.Hash().Hex())
		fmt.Printf("state:      %s\n", op.State())
	}
	if err != nil {
		return err
	}

	fmt.Printf("transaction: %s\n", op.Receipt().TransactionHash.Hex())
	return nil
}
