package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/api/router"
	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second
	noSchedulerFlag = "no-scheduler"
)

type Flags struct {
	NoScheduler bool
}

func New() *cobra.Command {
	var flags Flags

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Starts the server",
		Long: `Starts the task API and the scheduler.

Unlocks the automation keystore, connects the chain RPC and the relay,
then runs every enabled task on its interval.
Requires configuration through ENV.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.NoScheduler, noSchedulerFlag, false, "Serve the task API without running tasks.")

	return cmd
}

func runServer(ctx context.Context, flags Flags) error {
	cfg := config.DefaultServiceConfigFromEnv()
	if flags.NoScheduler {
		cfg.Scheduler.Enabled = false
	}

	command.ApplyLoggerConfig(cfg.Logger)

	s, err := api.InitNewServer(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize server")
		return err
	}

	router.Init(s)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed, err := initializeAutomation(ctx, s)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize automation")
		shutdown(s)
		return err
	}
	defer seed.Clear()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Echo.ListenAddress).Msg("Starting server")
		errc <- s.Start()
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to start server")
		}
	}

	shutdown(s)

	return err
}

func shutdown(s *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if errs := s.Shutdown(ctx); len(errs) > 0 {
		log.Error().Errs("errors", errs).Msg("Failed to gracefully shut down server")
	}
}
