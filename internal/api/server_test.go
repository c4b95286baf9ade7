package api_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github/chapool/go-autoyield/internal/api"
	"github/chapool/go-autoyield/internal/test"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagesAccount(t *testing.T) {
	other := common.HexToAddress("0x000000000000000000000000000000000000beef")

	test.WithTestServer(t, func(s *api.Server) {
		assert.True(t, s.ManagesAccount(test.AccountAddress))
		assert.True(t, s.ManagesAccount(other))

		s.Config.Automation.KeyScope = "per_account"
		s.Config.Automation.AccountIndexes = map[string]uint32{
			strings.ToLower(test.AccountAddress.Hex()): 1,
		}
		assert.True(t, s.ManagesAccount(test.AccountAddress))
		assert.False(t, s.ManagesAccount(other))
	})
}

func TestStartSchedulerRequiresScheduler(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		require.Error(t, s.StartScheduler(t.Context()))
	})
}

func TestTestServerUsesMockClock(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		assert.True(t, s.Clock.Now().Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)))
		assert.True(t, s.Ready())
	})
}

func TestInitNewServerSeedsTasks(t *testing.T) {
	path := t.TempDir() + "/tasks.toml"
	require.NoError(t, os.WriteFile(path, []byte(`
[[task]]
account  = "0x00000000000000000000000000000000000a11ce"
token    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
interval = "5m"
action   = "migrate"
`), 0o600))

	cfg := test.Config()
	cfg.Scheduler.SeedFile = path

	s, err := api.InitNewTestServer(cfg, t)
	require.NoError(t, err)

	tasks, err := s.Tasks.List(t.Context())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, test.AccountAddress, tasks[0].Account)
}
