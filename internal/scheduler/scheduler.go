package scheduler

import (
	"context"
	"sync"
	"time"

	"github/chapool/go-autoyield/internal/builder"
	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/metrics"
	"github/chapool/go-autoyield/internal/rebalance"
	"github/chapool/go-autoyield/internal/util"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Runner executes one tick of a task.
type Runner interface {
	Run(ctx context.Context, t rebalance.Target) (*rebalance.Result, error)
}

type Scheduler struct {
	store   Store
	runner  Runner
	metrics *metrics.Service
	clock   time2.Clock
	cfg     config.Scheduler

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
}

func New(cfg config.Scheduler, store Store, runner Runner, m *metrics.Service, clock time2.Clock) *Scheduler {
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &Scheduler{
		store:    store,
		runner:   runner,
		metrics:  m,
		clock:    clock,
		cfg:      cfg,
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// Start runs a tick every TickInterval until ctx is done. Ticks overlap when
// a task is still waiting for its receipt; a task never runs twice at once.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().
		Dur("interval", s.cfg.TickInterval).
		Int("max_concurrency", s.cfg.MaxConcurrency).
		Msg("Starting task scheduler")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		s.spawnTick(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Task scheduler stopped")
				return
			case <-ticker.C:
				s.spawnTick(ctx)
			}
		}
	}()
}

// Wait blocks until the loop and all running ticks returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) spawnTick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Tick(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduler tick failed")
		}
	}()
}

// Tick runs every due task that is not already running and waits for them.
func (s *Scheduler) Tick(ctx context.Context) error {
	tasks, err := s.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list tasks")
	}
	s.observeTasks(tasks)

	now := s.clock.Now()
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.MaxConcurrency > 0 {
		g.SetLimit(s.cfg.MaxConcurrency)
	}

	for _, task := range tasks {
		if !task.Due(now) || !s.claim(task.ID) {
			continue
		}
		g.Go(func() error {
			defer s.release(task.ID)
			s.runTask(gctx, task)
			return nil
		})
	}

	return g.Wait()
}

func (s *Scheduler) claim(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, id)
}

func (s *Scheduler) runTask(ctx context.Context, task *Task) {
	logger := util.LogFromContext(ctx).With().
		Str("task_id", task.ID.String()).
		Str("account", task.Account.Hex()).
		Str("action", string(task.Action)).
		Logger()
	ctx = context.WithValue(logger.WithContext(ctx), util.CTXKeyTaskID, task.ID.String())

	res, err := s.runner.Run(ctx, task.Target())
	now := s.clock.Now()

	outcome := s.record(task, res, err, now)
	if s.metrics != nil {
		s.metrics.ObserveTick(string(task.Action), outcome)
	}

	// the task may have been deleted while it ran
	if err := s.store.Update(ctx, task); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			logger.Debug().Msg("Task deleted while running")
			return
		}
		logger.Error().Err(err).Msg("Failed to update task")
		return
	}

	ev := logger.Debug()
	if outcome == metrics.OutcomeError || outcome == metrics.OutcomeUnconfirmed {
		ev = logger.Warn().Err(err)
	}
	ev.Str("outcome", outcome).
		Int("consecutive_errors", task.ConsecutiveErrors).
		Bool("enabled", task.Enabled).
		Time("next_run_at", task.NextRunAt).
		Msg("Task ran")
}

// record applies the result of one run to task and returns the outcome
// label. A confirmation timeout does not count as an error: the operation
// may still be included.
func (s *Scheduler) record(task *Task, res *rebalance.Result, err error, now time.Time) string {
	task.LastRunAt = now
	if res != nil && res.Operation != nil {
		task.LastOperationHash = res.Operation.Hash()
	}

	switch {
	case err == nil:
		task.ConsecutiveErrors = 0
		task.LastError = ""
		task.NextRunAt = now.Add(task.Interval)
		if res != nil && res.Operation == nil {
			return metrics.OutcomeSkipped
		}
		return metrics.OutcomeOK
	case errors.Is(err, builder.ErrConfirmationTimeout):
		task.LastError = err.Error()
		task.NextRunAt = now.Add(task.Interval)
		return metrics.OutcomeUnconfirmed
	default:
		task.ConsecutiveErrors++
		task.LastError = err.Error()
		task.NextRunAt = now.Add(s.Backoff(task.ConsecutiveErrors))
		if s.cfg.MaxConsecutiveErrors > 0 && task.ConsecutiveErrors >= s.cfg.MaxConsecutiveErrors {
			task.Enabled = false
		}
		return metrics.OutcomeError
	}
}

// Backoff is BackoffBase doubled for every error after the first, capped at
// BackoffMax.
func (s *Scheduler) Backoff(consecutiveErrors int) time.Duration {
	if consecutiveErrors <= 0 {
		return 0
	}

	d := s.cfg.BackoffBase
	for i := 1; i < consecutiveErrors; i++ {
		d *= 2
		if s.cfg.BackoffMax > 0 && d >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if s.cfg.BackoffMax > 0 && d > s.cfg.BackoffMax {
		return s.cfg.BackoffMax
	}
	return d
}

func (s *Scheduler) observeTasks(tasks []*Task) {
	if s.metrics == nil {
		return
	}
	enabled := 0
	for _, t := range tasks {
		if t.Enabled {
			enabled++
		}
	}
	s.metrics.SetTasks(enabled, len(tasks)-enabled)
}
