package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github/chapool/go-autoyield/internal/chain"
	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/keys"
	"github/chapool/go-autoyield/internal/metrics"
	"github/chapool/go-autoyield/internal/rebalance"
	"github/chapool/go-autoyield/internal/relay"
	"github/chapool/go-autoyield/internal/scheduler"
	"github/chapool/go-autoyield/internal/util"

	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1Tasks *echo.Group
}

// Server is a central struct keeping all the dependencies.
// It is initialized with wire, which handles making the new instances of the components
// in the right order. To add a new component, 3 steps are required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// Components labeled as `wire:"-"` will be skipped and have to be initialized after the InitNewServer* call.
// For more information about wire refer to https://pkg.go.dev/github.com/google/wire
type Server struct {
	// skip wire:
	// -> initialized with router.Init(s) function
	Echo   *echo.Echo `wire:"-"`
	Router *Router    `wire:"-"`

	// skip wire:
	// -> initialized by the server command, they need the keystore and network access
	Chain     *chain.Client        `wire:"-"`
	Relay     *relay.Client        `wire:"-"`
	Engine    *rebalance.Engine    `wire:"-"`
	Scheduler *scheduler.Scheduler `wire:"-"`

	Config  config.Server
	Clock   time2.Clock
	Metrics *metrics.Service
	Tasks   scheduler.Store

	stopScheduler context.CancelFunc
}

// newServerWithComponents is used by wire to initialize the server components.
// Components not listed here won't be handled by wire and should be initialized separately.
// Components which shouldn't be handled must be labeled `wire:"-"` in Server struct.
func newServerWithComponents(
	cfg config.Server,
	clock time2.Clock,
	metrics *metrics.Service,
	tasks scheduler.Store,
) *Server {
	return &Server{
		Config:  cfg,
		Clock:   clock,
		Metrics: metrics,
		Tasks:   tasks,
	}
}

func NewServer(config config.Server) *Server {
	s := &Server{
		Config: config,
	}

	return s
}

func (s *Server) Ready() bool {
	if err := util.IsStructInitialized(s); err != nil {
		log.Debug().Err(err).Msg("Server is not fully initialized")
		return false
	}

	if s.Config.Scheduler.Enabled && s.Scheduler == nil {
		log.Debug().Msg("Scheduler is enabled but not initialized")
		return false
	}

	return true
}

// ManagesAccount reports whether an automation key can be derived for
// account under the configured key scope.
func (s *Server) ManagesAccount(account common.Address) bool {
	if keys.Scope(s.Config.Automation.KeyScope) != keys.ScopePerAccount {
		return true
	}

	_, ok := s.Config.Automation.AccountIndexes[strings.ToLower(account.Hex())]
	return ok
}

// StartScheduler starts the task scheduler; it stops on Shutdown.
func (s *Server) StartScheduler(ctx context.Context) error {
	if s.Scheduler == nil {
		return errors.New("scheduler is not initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.stopScheduler = cancel
	s.Scheduler.Start(ctx)

	return nil
}

func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}

	if err := s.Echo.Start(s.Config.Echo.ListenAddress); err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")

		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if s.stopScheduler != nil {
		log.Debug().Msg("Stopping task scheduler")
		s.stopScheduler()

		done := make(chan struct{})
		go func() {
			s.Scheduler.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			log.Error().Err(ctx.Err()).Msg("Task scheduler did not stop in time")
			errs = append(errs, ctx.Err())
		}
	}

	if s.Relay != nil {
		log.Debug().Msg("Closing relay connection")
		s.Relay.Close()
	}

	if s.Chain != nil {
		log.Debug().Msg("Closing chain connection")
		s.Chain.Close()
	}

	return errs
}
