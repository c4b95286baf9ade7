package cmd

import (
	"fmt"
	"os"

	"github/chapool/go-autoyield/cmd/keystore"
	"github/chapool/go-autoyield/cmd/probe"
	"github/chapool/go-autoyield/cmd/server"
	"github/chapool/go-autoyield/cmd/userop"
	"github/chapool/go-autoyield/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

Keeps smart account balances between checking and yield by submitting
ERC-4337 operations signed with a restricted automation key.
Requires configuration through ENV.`, config.ModuleName),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// a local .env is optional, real environment variables win
	if err := gotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	// attach the subcommands
	rootCmd.AddCommand(
		keystore.New(),
		probe.New(),
		server.New(),
		userop.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
