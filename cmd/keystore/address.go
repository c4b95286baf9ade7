package keystore

import (
	"fmt"

	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newAddress() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "address",
		Short: "Prints the automation key address to register on an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			command.ApplyLoggerConfig(cfg.Logger)

			if !common.IsHexAddress(account) {
				return errors.Errorf("invalid --%s %q", accountFlag, account)
			}

			seed, err := command.UnlockKeystore(cmd.Context(), cfg.Keystore)
			if err != nil {
				return err
			}
			defer seed.Clear()

			ring, err := command.NewKeyRing(seed, cfg.Automation)
			if err != nil {
				return err
			}

			signer, err := ring.SignerFor(common.HexToAddress(account))
			if err != nil {
				return err
			}

			fmt.Println(signer.Address().Hex()) //nolint:forbidigo
			return nil
		},
	}

	cmd.Flags().StringVar(&account, accountFlag, common.Address{}.Hex(), "Smart account the key is for (ignored with key scope shared).")

	return cmd
}
