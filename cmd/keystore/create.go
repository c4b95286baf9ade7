package keystore

import (
	"context"
	"fmt"

	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/keys"
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCreate() *cobra.Command {
	var showMnemonic bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generates a new automation mnemonic and stores it encrypted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			command.ApplyLoggerConfig(cfg.Logger)

			return createKeystore(cmd.Context(), cfg, showMnemonic)
		},
	}

	cmd.Flags().BoolVar(&showMnemonic, "show-mnemonic", false, "Print the generated mnemonic once for an offline backup.")

	return cmd
}

//nolint:forbidigo
func createKeystore(ctx context.Context, cfg config.Server, showMnemonic bool) error {
	ks := keys.NewFileKeystore(cfg.Keystore.Path, command.KeystoreParams(cfg.Keystore))
	if ks.Exists() {
		return errors.Errorf("keystore %s already exists", cfg.Keystore.Path)
	}

	password := cfg.Keystore.Password
	if password == "" {
		var err error
		password, err = command.PromptPassword(fmt.Sprintf("Enter password for keystore (min %d characters): ", minPassword))
		if err != nil {
			return err
		}

		confirm, err := command.PromptPassword("Confirm password: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return errors.New("passwords do not match")
		}
	}
	if len(password) < minPassword {
		return errors.Errorf("password must be at least %d characters", minPassword)
	}

	mnemonic, err := keys.NewMnemonic()
	if err != nil {
		return err
	}

	if _, err := ks.Create(ctx, mnemonic, password); err != nil {
		return err
	}

	seed := keys.NewSeedManager()
	defer seed.Clear()
	if err := seed.Initialize(mnemonic, cfg.Keystore.Passphrase); err != nil {
		return err
	}

	ring, err := command.NewKeyRing(seed, cfg.Automation)
	if err != nil {
		return err
	}

	if showMnemonic {
		fmt.Println(mnemonic)
	}

	log.Info().Str("path", cfg.Keystore.Path).Str("scope", string(ring.Scope())).Msg("Keystore created")

	if ring.Scope() != keys.ScopeShared {
		log.Info().Msg("Per account keys are derived on use, print them with `keystore address --account`")
		return nil
	}

	signer, err := ring.SignerFor(common.Address{})
	if err != nil {
		return err
	}
	fmt.Println(signer.Address().Hex())

	return nil
}
