package userop

import (
	"context"
	"fmt"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/rebalance"
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/spf13/cobra"
)

func newTick() *cobra.Command {
	var account, token, action string

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Runs the decision engine once for an account, like a scheduled task would",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountAddr, err := parseAddress(accountFlag, account)
			if err != nil {
				return err
			}
			tokenAddr, err := parseAddress(tokenFlag, token)
			if err != nil {
				return err
			}
			act, err := rebalance.ParseAction(action)
			if err != nil {
				return err
			}

			cfg := config.DefaultServiceConfigFromEnv()
			cfg.Scheduler.Enabled = false

			return command.WithServer(cmd.Context(), cfg, func(ctx context.Context, s *api.Server) error {
				return tick(ctx, s, rebalance.Target{Account: accountAddr, Token: tokenAddr, Action: act})
			})
		},
	}

	cmd.Flags().StringVar(&account, accountFlag, "", "Smart account to operate on.")
	cmd.Flags().StringVar(&token, tokenFlag, "", "Token to route.")
	cmd.Flags().StringVar(&action, actionFlag, string(rebalance.ActionMigrate), "One of rebalance, migrate or sweep.")

	return cmd
}

//nolint:forbidigo
func tick(ctx context.Context, s *api.Server, target rebalance.Target) error {
	seed, err := command.UnlockKeystore(ctx, s.Config.Keystore)
	if err != nil {
		return err
	}
	defer seed.Clear()

	automation, err := command.InitAutomation(ctx, s, seed)
	if err != nil {
		return err
	}
	if err := command.InitEngine(s, automation); err != nil {
		return err
	}

	res, err := s.Engine.Run(ctx, target)
	if res != nil {
		fmt.Printf("decision:   %s\n", res.Decision.Kind)
		if res.Decision.Reason != "" {
			fmt.Printf("reason:     %s\n", res.Decision.Reason)
		}
		if res.Operation != nil {
			fmt.Printf("operation:  %s (%s)\n", res.Operation.Hash().Hex(), res.Operation.State())
		}
	}

	return err
}
