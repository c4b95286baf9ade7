package server

import (
	"context"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/keys"
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// initializeAutomation unlocks the keystore, connects the chain and relay and
// starts the scheduler when it is enabled.
//
//nolint:ireturn
func initializeAutomation(ctx context.Context, s *api.Server) (keys.SeedManager, error) {
	seed, err := command.UnlockKeystore(ctx, s.Config.Keystore)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unlock keystore")
	}

	automation, err := command.InitAutomation(ctx, s, seed)
	if err != nil {
		seed.Clear()
		return nil, err
	}

	if err := command.InitEngine(s, automation); err != nil {
		seed.Clear()
		return nil, errors.Wrap(err, "failed to create decision engine")
	}

	if !s.Config.Scheduler.Enabled {
		log.Info().Msg("Scheduler is disabled, skipping task scheduler startup")
		return seed, nil
	}

	if err := s.StartScheduler(ctx); err != nil {
		seed.Clear()
		return nil, err
	}

	return seed, nil
}
