package adapter

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Registry holds every adapter known to the runtime, keyed by adapter id.
// Adding a destination is a registration, never a change to the policy code.
type Registry struct {
	mu       sync.RWMutex
	adapters map[common.Address]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[common.Address]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[a.ID()]; ok {
		return errors.Wrapf(ErrAdapterExists, "adapter %s", a.ID().Hex())
	}
	r.adapters[a.ID()] = a
	return nil
}

func (r *Registry) Get(id common.Address) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[id]
	if !ok {
		return nil, errors.Wrapf(ErrAdapterNotFound, "adapter %s", id.Hex())
	}
	return a, nil
}

// IDs returns the registered adapter ids in a stable order.
func (r *Registry) IDs() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]common.Address, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Cmp(ids[j]) < 0
	})
	return ids
}
