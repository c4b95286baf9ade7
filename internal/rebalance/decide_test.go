package rebalance_test

import (
	"math/big"
	"testing"
	"time"

	"github/chapool/go-autoyield/internal/rebalance"
	"github/chapool/go-autoyield/internal/test"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quote(id common.Address, apy int64, tvl float64, age time.Duration) rebalance.Quote {
	return rebalance.Quote{VaultID: id, APY: apy, TVL: tvl, ObservedAt: now.Add(-age)}
}

func migrateInputs(current common.Address, quotes ...rebalance.Quote) rebalance.Inputs {
	return rebalance.Inputs{
		Action:    rebalance.ActionMigrate,
		Threshold: big.NewInt(100),
		Liquid:    big.NewInt(100),
		Current:   current,
		Position:  big.NewInt(400),
		Quotes:    quotes,
		Allowed:   map[common.Address]bool{test.VaultAID: true, test.VaultBID: true},
		Now:       now,
	}
}

var params = rebalance.Params{
	MinImprovementBPS: 50,
	MinTVL:            1_000_000,
	MaxQuoteAge:       time.Hour,
}

func TestDecideMigrate(t *testing.T) {
	tests := []struct {
		name   string
		in     rebalance.Inputs
		kind   rebalance.DecisionKind
		target common.Address
	}{
		{
			name: "better rate",
			in: migrateInputs(test.VaultAID,
				quote(test.VaultAID, 400, 5e6, 0),
				quote(test.VaultBID, 500, 5e6, 0)),
			kind:   rebalance.DecisionMigrate,
			target: test.VaultBID,
		},
		{
			name: "improvement below minimum",
			in: migrateInputs(test.VaultAID,
				quote(test.VaultAID, 400, 5e6, 0),
				quote(test.VaultBID, 449, 5e6, 0)),
			kind: rebalance.DecisionNoop,
		},
		{
			name: "improvement exactly minimum",
			in: migrateInputs(test.VaultAID,
				quote(test.VaultAID, 400, 5e6, 0),
				quote(test.VaultBID, 450, 5e6, 0)),
			kind:   rebalance.DecisionMigrate,
			target: test.VaultBID,
		},
		{
			name: "best is not whitelisted",
			in: migrateInputs(test.VaultAID,
				quote(test.VaultAID, 400, 5e6, 0),
				quote(test.VaultCID, 2000, 5e6, 0)),
			kind: rebalance.DecisionNoop,
		},
		{
			name: "best tvl too small",
			in: migrateInputs(test.VaultAID,
				quote(test.VaultAID, 400, 5e6, 0),
				quote(test.VaultBID, 900, 1e3, 0)),
			kind: rebalance.DecisionNoop,
		},
		{
			name: "stale quote ignored",
			in: migrateInputs(test.VaultAID,
				quote(test.VaultAID, 400, 5e6, 0),
				quote(test.VaultBID, 900, 5e6, 2*time.Hour)),
			kind: rebalance.DecisionNoop,
		},
		{
			name: "current not quoted",
			in: migrateInputs(test.VaultAID,
				quote(test.VaultBID, 900, 5e6, 0)),
			kind: rebalance.DecisionNoop,
		},
		{
			name: "bootstrap without destination",
			in: migrateInputs(common.Address{},
				quote(test.VaultAID, 400, 5e6, 0),
				quote(test.VaultBID, 300, 5e6, 0)),
			kind:   rebalance.DecisionMigrate,
			target: test.VaultAID,
		},
		{
			name: "current is best",
			in: migrateInputs(test.VaultBID,
				quote(test.VaultAID, 400, 5e6, 0),
				quote(test.VaultBID, 500, 5e6, 0)),
			kind: rebalance.DecisionNoop,
		},
		{
			name: "no quotes",
			in:   migrateInputs(test.VaultAID),
			kind: rebalance.DecisionNoop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := rebalance.Decide(tt.in, params)
			assert.Equal(t, tt.kind, d.Kind, d.Reason)
			assert.Equal(t, tt.target, d.Target)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestDecideRebalance(t *testing.T) {
	in := func(current common.Address, liquid, position int64) rebalance.Inputs {
		return rebalance.Inputs{
			Action:    rebalance.ActionRebalance,
			Threshold: big.NewInt(100),
			Liquid:    big.NewInt(liquid),
			Current:   current,
			Position:  big.NewInt(position),
			Now:       now,
		}
	}

	assert.Equal(t, rebalance.DecisionRebalance, rebalance.Decide(in(test.VaultAID, 250, 0), params).Kind)
	assert.Equal(t, rebalance.DecisionRebalance, rebalance.Decide(in(test.VaultAID, 30, 470), params).Kind)
	assert.Equal(t, rebalance.DecisionNoop, rebalance.Decide(in(test.VaultAID, 100, 470), params).Kind)
	assert.Equal(t, rebalance.DecisionNoop, rebalance.Decide(in(test.VaultAID, 30, 0), params).Kind)
	assert.Equal(t, rebalance.DecisionNoop, rebalance.Decide(in(common.Address{}, 250, 0), params).Kind)
}

func TestDecideSweep(t *testing.T) {
	in := rebalance.Inputs{
		Action:    rebalance.ActionSweep,
		Threshold: big.NewInt(100),
		Liquid:    big.NewInt(100),
		Position:  big.NewInt(0),
		Now:       now,
	}

	assert.Equal(t, rebalance.DecisionRebalance, rebalance.Decide(in, params).Kind)

	strict := params
	strict.SweepRequiresPosition = true
	assert.Equal(t, rebalance.DecisionNoop, rebalance.Decide(in, strict).Kind)

	in.Current = test.VaultAID
	assert.Equal(t, rebalance.DecisionRebalance, rebalance.Decide(in, strict).Kind)
}

func TestParseAction(t *testing.T) {
	a, err := rebalance.ParseAction("sweep")
	require.NoError(t, err)
	assert.Equal(t, rebalance.ActionSweep, a)

	_, err = rebalance.ParseAction("withdraw")
	require.ErrorIs(t, err, rebalance.ErrInvalidAction)
}
