package policy

import "github.com/pkg/errors"

// Named failure reasons. Every policy violation aborts the call and leaves
// no state change behind.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAdapterNotAllowed  = errors.New("adapter not allowed")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAdapterInUse       = errors.New("adapter is the current adapter of a token")
	ErrAssetMismatch      = errors.New("adapter asset does not match token")
	ErrPartialWithdrawal  = errors.New("adapter kept part of the position")
	ErrIlliquidPosition   = errors.New("yield position could not cover the threshold")
	ErrCallReverted       = errors.New("call reverted")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAlreadyInitialized = errors.New("account already initialized")
	ErrNotInitialized     = errors.New("account not initialized")
	ErrUnknownSelector    = errors.New("unknown selector")
	ErrMalformedCall      = errors.New("malformed call data")
	ErrWrongSender        = errors.New("operation sender is not this account")
	ErrNonceMismatch      = errors.New("nonce sequence mismatch")
	ErrUnknownValidator   = errors.New("unknown validator in nonce key")
)
