package api

import (
	"context"
	"testing"
	"time"

	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/scheduler"

	"github.com/dropbox/godropbox/time2"
	"github.com/rs/zerolog/log"
)

// PROVIDERS - https://github.com/google/wire/blob/main/docs/guide.md#defining-providers

// NoTest is used by the injectors that run outside of tests.
func NoTest() []*testing.T {
	return nil
}

// NewClock returns the real clock, or a mock clock fixed at 2021-01-01 when
// called from a test.
//
//nolint:ireturn
func NewClock(t ...*testing.T) time2.Clock {
	if len(t) > 0 && t[0] != nil {
		return time2.NewMockClock(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	}

	return time2.DefaultClock
}

// NewTaskStore returns the in-memory task store, seeded from the configured
// TOML file.
//
//nolint:ireturn
func NewTaskStore(cfg config.Server, clock time2.Clock) (scheduler.Store, error) {
	store := scheduler.NewMemoryStore()
	if cfg.Scheduler.SeedFile == "" {
		return store, nil
	}

	created, err := scheduler.Seed(context.Background(), store, cfg.Scheduler.SeedFile, clock.Now())
	if err != nil {
		return nil, err
	}
	log.Info().Int("tasks", created).Str("file", cfg.Scheduler.SeedFile).Msg("Seeded tasks")

	return store, nil
}
