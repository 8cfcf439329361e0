// Package chain defines the capability set every blockchain family must provide
// to the sweeper, and the registry that resolves a ChainKind to its adapter.
package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
)

// Adapter is implemented once per chain family. Build, Sign and Decode are
// pure; everything taking a context performs I/O against the backend.
type Adapter interface {
	Kind() types.ChainKind
	// BackendID names the backend this adapter talks to, as tracked by the health monitor
	BackendID() string

	SpendableState(ctx context.Context, address string, amount decimal.Decimal) (*types.SpendableState, error)
	EstimateFee(ctx context.Context, shape types.TxShape) (types.FeeEstimate, error)
	BuildTransaction(from, to string, amount decimal.Decimal, state *types.SpendableState, fee types.FeeEstimate) (*types.UnsignedTx, error)
	SignTransaction(tx *types.UnsignedTx, key *types.SecretKey) (*types.SignedTx, error)
	BroadcastTransaction(ctx context.Context, tx *types.SignedTx) (string, error)
	DecodeTransaction(tx *types.SignedTx) (*types.TxSummary, error)

	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	IsReachable(ctx context.Context) error
	ValidateAddress(address string) error
}

// Registry maps chain kinds to adapters. Adapters are registered once at
// startup and shared by reference.
type Registry struct {
	mu       sync.RWMutex
	adapters map[types.ChainKind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.ChainKind]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

// Resolve returns ErrUnsupportedChain when no adapter serves kind
func (r *Registry) Resolve(kind types.ChainKind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedChain, kind)
	}
	return a, nil
}

func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Kind() < list[j].Kind() })
	return list
}
