// Package policy is the per-account state machine that keeps a checking
// balance liquid, routes the surplus into a whitelisted yield adapter and
// separates what the owner credential may do from what the automation
// credential may do.
package policy

import (
	"math/big"

	"github/chapool/go-autoyield/internal/adapter"
	"github/chapool/go-autoyield/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// CallHook executes the caller supplied payload of a spend after the token
// transfer. An error reverts the whole spend.
type CallHook func(state ledger.State, token, destination common.Address, amount *big.Int, payload []byte) error

type storage struct {
	thresholds    map[common.Address]*big.Int
	current       map[common.Address]common.Address
	allowed       map[common.Address]bool
	automationKey common.Address
}

func newStorage() storage {
	return storage{
		thresholds: make(map[common.Address]*big.Int),
		current:    make(map[common.Address]common.Address),
		allowed:    make(map[common.Address]bool),
	}
}

func (s storage) clone() storage {
	out := newStorage()
	for k, v := range s.thresholds {
		out.thresholds[k] = new(big.Int).Set(v)
	}
	for k, v := range s.current {
		out.current[k] = v
	}
	for k, v := range s.allowed {
		out.allowed[k] = v
	}
	out.automationKey = s.automationKey
	return out
}

// Account holds the policy storage of one smart account. Calls are not
// synchronized here; the host runtime (Executor) serializes them.
type Account struct {
	address     common.Address
	owner       common.Address
	state       ledger.State
	adapters    *adapter.Registry
	callHook    CallHook
	storage     storage
	initialized bool
}

type AccountOption func(*Account)

func WithCallHook(hook CallHook) AccountOption {
	return func(a *Account) {
		a.callHook = hook
	}
}

// NewAccount returns an account that rejects every call until Initialize.
func NewAccount(address common.Address, state ledger.State, adapters *adapter.Registry, opts ...AccountOption) *Account {
	a := &Account{
		address:  address,
		state:    state,
		adapters: adapters,
		storage:  newStorage(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// InitConfig carries the defaults written once at account creation.
type InitConfig struct {
	Owner         common.Address
	AutomationKey common.Address
	Adapters      []common.Address
	Thresholds    map[common.Address]*big.Int
}

func (a *Account) Initialize(cfg InitConfig) error {
	if a.initialized {
		return ErrAlreadyInitialized
	}
	if cfg.Owner == (common.Address{}) {
		return errors.Wrap(ErrUnauthorized, "owner must be set")
	}

	s := newStorage()
	for _, id := range cfg.Adapters {
		if _, err := a.adapters.Get(id); err != nil {
			return errors.Wrapf(ErrAdapterNotAllowed, "%v", err)
		}
		s.allowed[id] = true
	}
	for token, amount := range cfg.Thresholds {
		if amount == nil || amount.Sign() < 0 {
			return errors.Wrapf(ErrInvalidAmount, "threshold for %s", token.Hex())
		}
		s.thresholds[token] = new(big.Int).Set(amount)
	}
	s.automationKey = cfg.AutomationKey

	a.owner = cfg.Owner
	a.storage = s
	a.initialized = true
	return nil
}

func (a *Account) Address() common.Address { return a.address }
func (a *Account) Owner() common.Address   { return a.owner }
func (a *Account) Initialized() bool       { return a.initialized }

func (a *Account) AutomationKey() common.Address {
	return a.storage.automationKey
}

func (a *Account) Threshold(token common.Address) *big.Int {
	if v, ok := a.storage.thresholds[token]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// CurrentAdapter returns the zero address when the token has no adapter.
func (a *Account) CurrentAdapter(token common.Address) common.Address {
	return a.storage.current[token]
}

func (a *Account) IsAdapterAllowed(id common.Address) bool {
	return a.storage.allowed[id]
}

func (a *Account) LiquidBalance(token common.Address) *big.Int {
	return a.state.BalanceOf(token, a.address)
}

func (a *Account) YieldBalance(token common.Address) *big.Int {
	id := a.storage.current[token]
	if id == (common.Address{}) {
		return new(big.Int)
	}
	ad, err := a.adapters.Get(id)
	if err != nil {
		return new(big.Int)
	}
	return ad.TotalValue(a.state, a.address)
}

func (a *Account) onlyOwner(c Caller) error {
	if !a.initialized {
		return ErrNotInitialized
	}
	if c.Kind == CredentialOwner && c.Address == a.owner {
		return nil
	}
	return errors.Wrapf(ErrUnauthorized, "%s %s is not the owner", c.Kind, c.Address.Hex())
}

func (a *Account) onlyOwnerOrAutomation(c Caller) error {
	if !a.initialized {
		return ErrNotInitialized
	}
	switch c.Kind {
	case CredentialOwner:
		if c.Address == a.owner {
			return nil
		}
	case CredentialAutomation:
		key := a.storage.automationKey
		if key != (common.Address{}) && c.Address == key {
			return nil
		}
	}
	return errors.Wrapf(ErrUnauthorized, "%s %s", c.Kind, c.Address.Hex())
}

// atomic runs fn against a ledger snapshot and a copy of the storage. Any
// error restores both.
func (a *Account) atomic(fn func() error) error {
	snap := a.state.Snapshot()
	saved := a.storage.clone()

	if err := fn(); err != nil {
		a.storage = saved
		if rerr := a.state.RevertToSnapshot(snap); rerr != nil {
			return errors.Wrapf(rerr, "failed to revert after: %v", err)
		}
		return err
	}

	return a.state.DiscardSnapshot(snap)
}

func (a *Account) ConfigureThreshold(c Caller, token common.Address, amount *big.Int) error {
	if err := a.onlyOwner(c); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return errors.Wrap(ErrInvalidAmount, "threshold must not be negative")
	}

	a.storage.thresholds[token] = new(big.Int).Set(amount)
	return nil
}

// SetAutomationCredential replaces the automation key. The zero address
// disables automation.
func (a *Account) SetAutomationCredential(c Caller, key common.Address) error {
	if err := a.onlyOwner(c); err != nil {
		return err
	}

	a.storage.automationKey = key
	return nil
}

func (a *Account) AllowAdapter(c Caller, id common.Address, allowed bool) error {
	if err := a.onlyOwner(c); err != nil {
		return err
	}

	if !allowed {
		for token, current := range a.storage.current {
			if current == id {
				return errors.Wrapf(ErrAdapterInUse, "adapter %s holds %s", id.Hex(), token.Hex())
			}
		}
		delete(a.storage.allowed, id)
		return nil
	}

	if _, err := a.adapters.Get(id); err != nil {
		return errors.Wrapf(ErrAdapterNotAllowed, "%v", err)
	}
	a.storage.allowed[id] = true
	return nil
}

// SpendResult reports what a spend moved in and out of the yield position.
type SpendResult struct {
	Unstaked *big.Int
	Restaked *big.Int
}

// SpendWithAutoSource tops up the liquid balance from the yield position so
// that amount can leave while the threshold stays liquid, executes the call
// and deposits whatever is left above the threshold.
func (a *Account) SpendWithAutoSource(c Caller, token, destination common.Address, amount *big.Int, payload []byte) (SpendResult, error) {
	result := SpendResult{Unstaked: new(big.Int), Restaked: new(big.Int)}
	if err := a.onlyOwner(c); err != nil {
		return result, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return result, errors.Wrap(ErrInvalidAmount, "spend amount must be positive")
	}

	err := a.atomic(func() error {
		threshold := a.Threshold(token)
		required := new(big.Int).Add(amount, threshold)
		liquid := a.LiquidBalance(token)

		ad, err := a.currentAdapter(token)
		if err != nil {
			return err
		}

		if liquid.Cmp(required) < 0 && ad != nil {
			result.Unstaked, err = a.unstake(ad, new(big.Int).Sub(required, liquid))
			if err != nil {
				return err
			}
		}

		if liquid = a.LiquidBalance(token); liquid.Cmp(amount) < 0 {
			return errors.Wrapf(ErrInsufficientFunds, "need %s, have %s after unstake", amount, liquid)
		}
		if liquid.Cmp(required) < 0 && a.YieldBalance(token).Sign() > 0 {
			return errors.Wrapf(ErrIlliquidPosition, "need %s liquid, have %s with yield still staked", required, liquid)
		}

		if err := a.state.Transfer(token, a.address, destination, amount); err != nil {
			return errors.Wrapf(ErrCallReverted, "transfer: %v", err)
		}
		if a.callHook != nil {
			if err := a.callHook(a.state, token, destination, amount, payload); err != nil {
				return errors.Wrapf(ErrCallReverted, "%v", err)
			}
		}

		if ad != nil {
			restaked, err := a.depositSurplus(token, ad)
			if err != nil {
				return err
			}
			result.Restaked = restaked
		}
		return nil
	})
	if err != nil {
		return SpendResult{Unstaked: new(big.Int), Restaked: new(big.Int)}, err
	}

	return result, nil
}

// Rebalance restores the threshold: surplus goes into the current adapter
// and a shortfall is pulled back from it. It returns the amount moved in
// either direction and is a no-op once liquid equals the threshold.
func (a *Account) Rebalance(c Caller, token common.Address) (*big.Int, error) {
	if err := a.onlyOwnerOrAutomation(c); err != nil {
		return nil, err
	}

	moved := new(big.Int)
	err := a.atomic(func() error {
		ad, err := a.currentAdapter(token)
		if err != nil || ad == nil {
			return err
		}

		if a.LiquidBalance(token).Cmp(a.Threshold(token)) < 0 {
			moved, err = a.unstake(ad, new(big.Int).Sub(a.Threshold(token), a.LiquidBalance(token)))
			return err
		}
		moved, err = a.depositSurplus(token, ad)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// Migrate moves the whole position into newAdapter and deposits the surplus
// over the threshold there. The threshold itself stays liquid.
func (a *Account) Migrate(c Caller, token, newAdapter common.Address) (*big.Int, error) {
	if err := a.onlyOwnerOrAutomation(c); err != nil {
		return nil, err
	}
	if !a.storage.allowed[newAdapter] {
		return nil, errors.Wrapf(ErrAdapterNotAllowed, "adapter %s", newAdapter.Hex())
	}

	next, err := a.adapters.Get(newAdapter)
	if err != nil {
		return nil, errors.Wrapf(ErrAdapterNotAllowed, "%v", err)
	}
	if next.Asset() != token {
		return nil, errors.Wrapf(ErrAssetMismatch, "adapter %s takes %s, not %s", newAdapter.Hex(), next.Asset().Hex(), token.Hex())
	}
	if a.storage.current[token] == newAdapter {
		return new(big.Int), nil
	}

	moved := new(big.Int)
	err = a.atomic(func() error {
		if err := a.withdrawAll(token); err != nil {
			return err
		}

		a.storage.current[token] = newAdapter
		var err error
		moved, err = a.depositSurplus(token, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// Flush withdraws the whole position and clears the current adapter.
func (a *Account) Flush(c Caller, token common.Address) (*big.Int, error) {
	if err := a.onlyOwner(c); err != nil {
		return nil, err
	}

	before := a.LiquidBalance(token)
	err := a.atomic(func() error {
		if err := a.withdrawAll(token); err != nil {
			return err
		}
		delete(a.storage.current, token)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(a.LiquidBalance(token), before), nil
}

func (a *Account) currentAdapter(token common.Address) (adapter.Adapter, error) {
	id := a.storage.current[token]
	if id == (common.Address{}) {
		return nil, nil //nolint:nilnil
	}
	return a.adapters.Get(id)
}

func (a *Account) depositSurplus(token common.Address, ad adapter.Adapter) (*big.Int, error) {
	surplus := new(big.Int).Sub(a.LiquidBalance(token), a.Threshold(token))
	if surplus.Sign() <= 0 {
		return new(big.Int), nil
	}
	if _, err := ad.Deposit(a.state, a.address, surplus); err != nil {
		return nil, errors.Wrap(err, "deposit failed")
	}
	return surplus, nil
}

// unstake withdraws up to amount, capped at the current position. The vault
// may return less; the returned amount is what arrived.
func (a *Account) unstake(ad adapter.Adapter, amount *big.Int) (*big.Int, error) {
	if available := ad.TotalValue(a.state, a.address); amount.Cmp(available) > 0 {
		amount = available
	}
	if amount.Sign() <= 0 {
		return new(big.Int), nil
	}

	got, err := ad.Withdraw(a.state, a.address, amount)
	if err != nil {
		return nil, errors.Wrap(err, "unstake failed")
	}
	return got, nil
}

// withdrawAll empties the current position. A vault that cannot return all
// of it fails the call.
func (a *Account) withdrawAll(token common.Address) error {
	ad, err := a.currentAdapter(token)
	if err != nil || ad == nil {
		return err
	}

	value := ad.TotalValue(a.state, a.address)
	if value.Sign() == 0 {
		return nil
	}
	if _, err := ad.Withdraw(a.state, a.address, value); err != nil {
		return errors.Wrap(err, "withdraw failed")
	}
	if left := ad.TotalValue(a.state, a.address); left.Sign() > 0 {
		return errors.Wrapf(ErrPartialWithdrawal, "%s left in %s", left, ad.ID().Hex())
	}
	return nil
}
