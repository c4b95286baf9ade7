// Package builder turns a call on a smart account into a signed, sponsored
// and submitted account-abstraction operation. Every operation walks a fixed
// sequence of states; a stage only runs when the previous one completed.
package builder

import (
	"fmt"

	"github/chapool/go-autoyield/internal/relay"
	"github/chapool/go-autoyield/internal/userop"

	"github.com/pkg/errors"
)

type State int

const (
	StateIdle State = iota
	StateNonceFetched
	StateFeeQuoted
	StateSponsorshipStubbed
	StateGasEstimated
	StateSponsorshipFinalized
	StateHashed
	StateSigned
	StateSubmitted
	StateConfirmed
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                 "idle",
	StateNonceFetched:         "nonce-fetched",
	StateFeeQuoted:            "fee-quoted",
	StateSponsorshipStubbed:   "sponsorship-stubbed",
	StateGasEstimated:         "gas-estimated",
	StateSponsorshipFinalized: "sponsorship-finalized",
	StateHashed:               "hashed",
	StateSigned:               "signed",
	StateSubmitted:            "submitted",
	StateConfirmed:            "confirmed",
	StateFailed:               "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further stage can run.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

var (
	ErrInvalidTransition   = errors.New("invalid builder state transition")
	ErrConfirmationTimeout = errors.New("operation not confirmed before timeout")
	ErrOperationReverted   = errors.New("operation reverted")
	ErrNonceKeyMismatch    = errors.New("nonce key mismatch")
	ErrInvalidRequest      = errors.New("invalid operation request")
)

// StageError is the failure of one stage. Stage is the state the operation
// was moving to.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("builder stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Transient reports whether running the whole operation again may succeed.
// Relay rejections, construction errors and reverts are permanent.
func (e *StageError) Transient() bool {
	var rejected *relay.RejectedError
	switch {
	case errors.As(e.Err, &rejected),
		errors.Is(e.Err, userop.ErrOverflow),
		errors.Is(e.Err, userop.ErrNegative),
		errors.Is(e.Err, userop.ErrMalformedPayload),
		errors.Is(e.Err, ErrOperationReverted),
		errors.Is(e.Err, ErrInvalidTransition),
		errors.Is(e.Err, ErrNonceKeyMismatch):
		return false
	}
	return true
}
