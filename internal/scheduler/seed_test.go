package scheduler_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github/chapool/go-autoyield/internal/rebalance"
	"github/chapool/go-autoyield/internal/scheduler"
	"github/chapool/go-autoyield/internal/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedTOML = `
[[task]]
account  = "0x00000000000000000000000000000000000a11ce"
token    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
interval = "5m"
action   = "migrate"

[[task]]
account  = "0x00000000000000000000000000000000000a11ce"
token    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
interval = "1h"
action   = "sweep"
enabled  = false
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tasks.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSeedFile(t *testing.T) {
	tasks, err := scheduler.LoadSeedFile(writeSeed(t, seedTOML), start)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, test.AccountAddress, tasks[0].Account)
	assert.Equal(t, test.USDC, tasks[0].Token)
	assert.Equal(t, 5*time.Minute, tasks[0].Interval)
	assert.Equal(t, rebalance.ActionMigrate, tasks[0].Action)
	assert.True(t, tasks[0].Enabled)
	assert.True(t, tasks[0].NextRunAt.Equal(start))

	assert.Equal(t, rebalance.ActionSweep, tasks[1].Action)
	assert.False(t, tasks[1].Enabled)
	assert.NotEqual(t, tasks[0].ID, tasks[1].ID)
}

func TestLoadSeedFileRejectsInvalidTasks(t *testing.T) {
	tests := map[string]string{
		"bad account":  "[[task]]\naccount = \"0x1\"\ntoken = \"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913\"\ninterval = \"5m\"\naction = \"sweep\"\n",
		"bad interval": "[[task]]\naccount = \"0x00000000000000000000000000000000000a11ce\"\ntoken = \"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913\"\ninterval = \"1s\"\naction = \"sweep\"\n",
		"bad action":   "[[task]]\naccount = \"0x00000000000000000000000000000000000a11ce\"\ntoken = \"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913\"\ninterval = \"5m\"\naction = \"withdraw\"\n",
		"unknown key":  "[[task]]\naccount = \"0x00000000000000000000000000000000000a11ce\"\ntoken = \"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913\"\ninterval = \"5m\"\naction = \"sweep\"\npriority = 1\n",
		"not toml":     "[[task]\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := scheduler.LoadSeedFile(writeSeed(t, content), start)
			require.Error(t, err)
		})
	}
}

func TestSeedSkipsExistingTasks(t *testing.T) {
	ctx := t.Context()
	store := scheduler.NewMemoryStore()
	path := writeSeed(t, seedTOML)

	created, err := scheduler.Seed(ctx, store, path, start)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = scheduler.Seed(ctx, store, path, start)
	require.NoError(t, err)
	assert.Zero(t, created)

	tasks, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}
