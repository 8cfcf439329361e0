package balance

import (
	"context"
	"sync"
	"time"

	"github.com/goatnetwork/wallet-sweeper/internal/chain"
	"github.com/goatnetwork/wallet-sweeper/internal/metrics"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// RecordStore persists observed balances, implemented by db.DatabaseManager
type RecordStore interface {
	GetBalanceRecord(address string, chain types.ChainKind) (*types.BalanceRecord, error)
	PutBalanceRecord(rec types.BalanceRecord) error
}

type cacheKey struct {
	address string
	chain   types.ChainKind
}

func (k cacheKey) String() string { return k.chain.String() + ":" + k.address }

type cacheEntry struct {
	balance   decimal.Decimal
	fetchedAt time.Time
}

// Service answers balance queries from a TTL cache in front of the chain
// adapters. Concurrent misses on one key share a single backend call, and no
// lock is held while it runs. Failures are returned as is and never cached.
type Service struct {
	registry *chain.Registry
	store    RecordStore
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	group   singleflight.Group
}

// NewService creates the service; store may be nil
func NewService(registry *chain.Registry, store RecordStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Service{
		registry: registry,
		store:    store,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[cacheKey]cacheEntry),
	}
}

// GetBalance returns the cached balance of (address, chain) while it is
// younger than the TTL, otherwise asks the chain adapter
func (s *Service) GetBalance(ctx context.Context, address string, kind types.ChainKind) (decimal.Decimal, error) {
	key := cacheKey{address: address, chain: kind}

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && s.now().Sub(entry.fetchedAt) < s.ttl {
		metrics.BalanceCache.WithLabelValues("hit").Inc()
		return entry.balance, nil
	}
	metrics.BalanceCache.WithLabelValues("miss").Inc()
	return s.fetch(ctx, key)
}

// Refresh skips the cache and stores the fresh value
func (s *Service) Refresh(ctx context.Context, address string, kind types.ChainKind) (decimal.Decimal, error) {
	return s.fetch(ctx, cacheKey{address: address, chain: kind})
}

// Invalidate drops the cached value, the next query goes to the backend
func (s *Service) Invalidate(address string, kind types.ChainKind) {
	s.mu.Lock()
	delete(s.entries, cacheKey{address: address, chain: kind})
	s.mu.Unlock()
}

// LastRecord returns the last persisted observation, it is never used as a
// query answer
func (s *Service) LastRecord(address string, kind types.ChainKind) (*types.BalanceRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.GetBalanceRecord(address, kind)
}

func (s *Service) fetch(ctx context.Context, key cacheKey) (decimal.Decimal, error) {
	adapter, err := s.registry.Resolve(key.chain)
	if err != nil {
		return decimal.Zero, err
	}
	if err := adapter.ValidateAddress(key.address); err != nil {
		return decimal.Zero, err
	}

	v, err, shared := s.group.Do(key.String(), func() (interface{}, error) {
		balance, err := adapter.Balance(ctx, key.address)
		if err != nil {
			return nil, err
		}
		fetchedAt := s.now()
		s.mu.Lock()
		s.entries[key] = cacheEntry{balance: balance, fetchedAt: fetchedAt}
		s.mu.Unlock()
		s.writeThrough(key, balance, fetchedAt)
		return balance, nil
	})
	if err != nil {
		log.Debugf("Balance lookup %s failed (shared %v): %v", key, shared, err)
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (s *Service) writeThrough(key cacheKey, balance decimal.Decimal, at time.Time) {
	if s.store == nil {
		return
	}
	err := s.store.PutBalanceRecord(types.BalanceRecord{
		Address:     key.address,
		Chain:       key.chain,
		Balance:     balance,
		LastChecked: at,
	})
	if err != nil {
		log.Warnf("Failed to persist balance record %s: %v", key, err)
	}
}
