package scheduler

import (
	"context"
	"time"

	"github/chapool/go-autoyield/internal/rebalance"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const minSeedInterval = 10 * time.Second

type seedFile struct {
	Tasks []seedTask `toml:"task"`
}

type seedTask struct {
	Account  string `toml:"account"`
	Token    string `toml:"token"`
	Interval string `toml:"interval"`
	Action   string `toml:"action"`
	Enabled  *bool  `toml:"enabled"`
}

// LoadSeedFile reads tasks from a TOML file of [[task]] tables:
//
//	[[task]]
//	account  = "0x..."
//	token    = "0x..."
//	interval = "5m"
//	action   = "migrate"
func LoadSeedFile(path string, now time.Time) ([]*Task, error) {
	var f seedFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode seed file %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown keys in seed file %s: %v", path, undecoded)
	}

	tasks := make([]*Task, 0, len(f.Tasks))
	for i, st := range f.Tasks {
		task, err := st.task(now)
		if err != nil {
			return nil, errors.Wrapf(err, "task %d", i)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (st seedTask) task(now time.Time) (*Task, error) {
	if !common.IsHexAddress(st.Account) {
		return nil, errors.Errorf("invalid account %q", st.Account)
	}
	if !common.IsHexAddress(st.Token) {
		return nil, errors.Errorf("invalid token %q", st.Token)
	}
	interval, err := time.ParseDuration(st.Interval)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interval %q", st.Interval)
	}
	if interval < minSeedInterval {
		return nil, errors.Errorf("interval %s below %s", interval, minSeedInterval)
	}
	action, err := rebalance.ParseAction(st.Action)
	if err != nil {
		return nil, err
	}

	task := NewTask(common.HexToAddress(st.Account), common.HexToAddress(st.Token), interval, action, now)
	if st.Enabled != nil {
		task.Enabled = *st.Enabled
	}
	return task, nil
}

// Seed loads path into store. Tasks that already exist are skipped.
func Seed(ctx context.Context, store Store, path string, now time.Time) (int, error) {
	tasks, err := LoadSeedFile(path, now)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, t := range tasks {
		err := store.Create(ctx, t)
		switch {
		case errors.Is(err, ErrTaskExists):
			log.Debug().Str("account", t.Account.Hex()).Str("action", string(t.Action)).Msg("Seed task already exists")
		case err != nil:
			return created, err
		default:
			created++
		}
	}
	return created, nil
}
