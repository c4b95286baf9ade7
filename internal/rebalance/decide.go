package rebalance

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Action is what a task asks for on every tick.
type Action string

const (
	// ActionRebalance restores the threshold on the current destination when
	// the account is off it.
	ActionRebalance Action = "rebalance"
	// ActionMigrate moves the position to a better paying destination.
	ActionMigrate Action = "migrate"
	// ActionSweep calls rebalance unconditionally.
	ActionSweep Action = "sweep"
)

var ErrInvalidAction = errors.New("invalid task action")

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionRebalance, ActionMigrate, ActionSweep:
		return Action(s), nil
	default:
		return "", errors.Wrapf(ErrInvalidAction, "%q", s)
	}
}

type DecisionKind string

const (
	DecisionNoop      DecisionKind = "noop"
	DecisionRebalance DecisionKind = "rebalance"
	DecisionMigrate   DecisionKind = "migrate"
)

// Decision is the outcome of one tick. Target is set for migrations.
type Decision struct {
	Kind   DecisionKind
	Target common.Address
	Reason string
}

func noop(reason string) Decision {
	return Decision{Kind: DecisionNoop, Reason: reason}
}

// Inputs is the account state and market data a decision is made on.
type Inputs struct {
	Action    Action
	Threshold *big.Int
	Liquid    *big.Int
	// Current is the zero address when the token has no yield destination.
	Current  common.Address
	Position *big.Int
	Quotes   []Quote
	// Allowed reports whitelist membership of every quoted vault.
	Allowed map[common.Address]bool
	Now     time.Time
}

type Params struct {
	MinImprovementBPS     int64
	MinTVL                float64
	MaxQuoteAge           time.Duration
	SweepRequiresPosition bool
}

// Decide picks at most one operation for a task tick.
func Decide(in Inputs, p Params) Decision {
	switch in.Action {
	case ActionRebalance:
		return decideRebalance(in)
	case ActionSweep:
		if p.SweepRequiresPosition && in.Current == (common.Address{}) {
			return noop("no yield position")
		}
		return Decision{Kind: DecisionRebalance, Reason: "sweep"}
	case ActionMigrate:
		return decideMigrate(in, p)
	default:
		return noop("unknown action " + string(in.Action))
	}
}

func decideRebalance(in Inputs) Decision {
	if in.Current == (common.Address{}) {
		return noop("no yield destination")
	}

	switch in.Liquid.Cmp(in.Threshold) {
	case 1:
		return Decision{Kind: DecisionRebalance, Reason: "surplus above threshold"}
	case -1:
		if in.Position != nil && in.Position.Sign() > 0 {
			return Decision{Kind: DecisionRebalance, Reason: "deficit below threshold"}
		}
		return noop("below threshold with empty position")
	default:
		return noop("at threshold")
	}
}

func decideMigrate(in Inputs, p Params) Decision {
	var fresh []Quote
	for _, q := range in.Quotes {
		if p.MaxQuoteAge > 0 && in.Now.Sub(q.ObservedAt) > p.MaxQuoteAge {
			continue
		}
		fresh = append(fresh, q)
	}

	var best *Quote
	for i := range fresh {
		q := fresh[i]
		if !in.Allowed[q.VaultID] || q.TVL < p.MinTVL {
			continue
		}
		if best == nil || q.APY > best.APY {
			best = &fresh[i]
		}
	}
	if best == nil {
		return noop("no qualifying quote")
	}

	if in.Current == (common.Address{}) {
		return Decision{Kind: DecisionMigrate, Target: best.VaultID, Reason: "no yield destination"}
	}
	if best.VaultID == in.Current {
		return noop("current destination is best")
	}

	var current *Quote
	for i := range fresh {
		if fresh[i].VaultID == in.Current {
			current = &fresh[i]
			break
		}
	}
	if current == nil {
		return noop("current destination not quoted")
	}

	if best.APY-current.APY < p.MinImprovementBPS {
		return noop("improvement below minimum")
	}
	return Decision{Kind: DecisionMigrate, Target: best.VaultID, Reason: "better rate"}
}
