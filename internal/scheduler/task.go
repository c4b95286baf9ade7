// Package scheduler runs rebalance tasks on their interval and keeps their
// error bookkeeping.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github/chapool/go-autoyield/internal/rebalance"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
)

// Task is a scheduling record. It lives in memory only.
type Task struct {
	ID       uuid.UUID
	Account  common.Address
	Token    common.Address
	Interval time.Duration
	Action   rebalance.Action
	Enabled  bool

	LastRunAt         time.Time
	NextRunAt         time.Time
	ConsecutiveErrors int
	LastError         string
	LastOperationHash common.Hash
}

// NewTask returns an enabled task that is due at now.
func NewTask(account, token common.Address, interval time.Duration, action rebalance.Action, now time.Time) *Task {
	return &Task{
		ID:        uuid.New(),
		Account:   account,
		Token:     token,
		Interval:  interval,
		Action:    action,
		Enabled:   true,
		NextRunAt: now,
	}
}

func (t *Task) Target() rebalance.Target {
	return rebalance.Target{Account: t.Account, Token: t.Token, Action: t.Action}
}

// Due reports whether the task should run at now.
func (t *Task) Due(now time.Time) bool {
	return t.Enabled && !t.NextRunAt.After(now)
}

func (t *Task) clone() *Task {
	c := *t
	return &c
}

type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
	Update(ctx context.Context, task *Task) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryStore keeps tasks in process. A task is unique per account, token
// and action.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[uuid.UUID]*Task)}
}

func (s *MemoryStore) Create(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return errors.Wrap(ErrTaskExists, task.ID.String())
	}
	for _, t := range s.tasks {
		if t.Account == task.Account && t.Token == task.Token && t.Action == task.Action {
			return errors.Wrapf(ErrTaskExists, "%s %s on %s", t.Action, t.Token.Hex(), t.Account.Hex())
		}
	}

	s.tasks[task.ID] = task.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, errors.Wrap(ErrTaskNotFound, id.String())
	}
	return t.clone(), nil
}

// List returns all tasks ordered by next run, then id.
func (s *MemoryStore) List(_ context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(out[j].NextRunAt) {
			return out[i].NextRunAt.Before(out[j].NextRunAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return errors.Wrap(ErrTaskNotFound, task.ID.String())
	}
	s.tasks[task.ID] = task.clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return errors.Wrap(ErrTaskNotFound, id.String())
	}
	delete(s.tasks, id)
	return nil
}
