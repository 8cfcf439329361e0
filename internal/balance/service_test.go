package balance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goatnetwork/wallet-sweeper/internal/chain"
	"github.com/goatnetwork/wallet-sweeper/internal/chain/chaintest"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addr = "0xabc"

type memStore struct {
	mu      sync.Mutex
	records map[string]types.BalanceRecord
	putErr  error
}

func (m *memStore) GetBalanceRecord(address string, kind types.ChainKind) (*types.BalanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[kind.String()+":"+address]
	if !ok {
		return nil, errors.New("not found")
	}
	return &rec, nil
}

func (m *memStore) PutBalanceRecord(rec types.BalanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if m.records == nil {
		m.records = make(map[string]types.BalanceRecord)
	}
	m.records[rec.Chain.String()+":"+rec.Address] = rec
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(store RecordStore) (*Service, *chaintest.FakeAdapter, *clock) {
	fake := chaintest.NewFakeAdapter(types.ChainAccountModel, "evm", "0.0004")
	fake.SetBalance(addr, "0.5")
	svc := NewService(chain.NewRegistry(fake), store, 15*time.Second)
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	svc.now = c.Now
	return svc, fake, c
}

func TestCacheHitWithinTTL(t *testing.T) {
	svc, fake, c := newTestService(nil)
	ctx := context.Background()

	b, err := svc.GetBalance(ctx, addr, types.ChainAccountModel)
	require.NoError(t, err)
	assert.Equal(t, "0.5", b.String())

	fake.SetBalance(addr, "0.1")
	c.Advance(14 * time.Second)
	b, err = svc.GetBalance(ctx, addr, types.ChainAccountModel)
	require.NoError(t, err)
	assert.Equal(t, "0.5", b.String(), "served from cache")
	assert.Equal(t, 1, fake.BalanceCalls)

	c.Advance(time.Second)
	b, err = svc.GetBalance(ctx, addr, types.ChainAccountModel)
	require.NoError(t, err)
	assert.Equal(t, "0.1", b.String(), "expired at ttl")
	assert.Equal(t, 2, fake.BalanceCalls)
}

func TestFailureIsPropagatedNotFabricated(t *testing.T) {
	svc, fake, c := newTestService(nil)
	ctx := context.Background()

	_, err := svc.GetBalance(ctx, addr, types.ChainAccountModel)
	require.NoError(t, err)

	c.Advance(time.Minute)
	fake.BalanceErrs = []error{fake.Unreachable(), nil}
	b, err := svc.GetBalance(ctx, addr, types.ChainAccountModel)
	assert.ErrorIs(t, err, types.ErrBackendUnreachable)
	assert.True(t, b.Equal(decimal.Zero))

	// not retried internally, the next call goes to the backend again
	b, err = svc.GetBalance(ctx, addr, types.ChainAccountModel)
	require.NoError(t, err)
	assert.Equal(t, "0.5", b.String())
	assert.Equal(t, 3, fake.BalanceCalls)
}

func TestUnsupportedChainAndBadAddress(t *testing.T) {
	svc, fake, _ := newTestService(nil)

	_, err := svc.GetBalance(context.Background(), addr, types.ChainUTXOModel)
	assert.ErrorIs(t, err, types.ErrUnsupportedChain)

	_, err = svc.GetBalance(context.Background(), "bad-address", types.ChainAccountModel)
	assert.ErrorIs(t, err, types.ErrInvalidAddress)
	assert.Equal(t, 0, fake.BalanceCalls)
}

func TestConcurrentMissesShareOneCall(t *testing.T) {
	svc, fake, _ := newTestService(nil)
	fake.BalanceDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := svc.GetBalance(context.Background(), addr, types.ChainAccountModel)
			assert.NoError(t, err)
			assert.Equal(t, "0.5", b.String())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fake.BalanceCalls)
}

func TestSlowKeyDoesNotBlockOthers(t *testing.T) {
	svc, fake, _ := newTestService(nil)
	fake.SetBalance("0xdef", "2")
	fake.BalanceDelay = 200 * time.Millisecond

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = svc.GetBalance(context.Background(), addr, types.ChainAccountModel)
	}()

	// a cached key answers while the slow lookup is running
	svc.mu.Lock()
	svc.entries[cacheKey{address: "0xdef", chain: types.ChainAccountModel}] = cacheEntry{balance: decimal.NewFromInt(2), fetchedAt: svc.now()}
	svc.mu.Unlock()

	start := time.Now()
	b, err := svc.GetBalance(context.Background(), "0xdef", types.ChainAccountModel)
	require.NoError(t, err)
	assert.Equal(t, "2", b.String())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	<-slowDone
}

func TestRefreshAndWriteThrough(t *testing.T) {
	store := &memStore{}
	svc, fake, c := newTestService(store)
	ctx := context.Background()

	_, err := svc.GetBalance(ctx, addr, types.ChainAccountModel)
	require.NoError(t, err)
	rec, err := svc.LastRecord(addr, types.ChainAccountModel)
	require.NoError(t, err)
	assert.Equal(t, "0.5", rec.Balance.String())
	assert.Equal(t, c.Now(), rec.LastChecked)

	fake.SetBalance(addr, "0")
	b, err := svc.Refresh(ctx, addr, types.ChainAccountModel)
	require.NoError(t, err)
	assert.True(t, b.IsZero())
	b, err = svc.GetBalance(ctx, addr, types.ChainAccountModel)
	require.NoError(t, err)
	assert.True(t, b.IsZero(), "refresh updates the cache")

	// a failing store never fails the lookup
	store.putErr = errors.New("disk full")
	svc.Invalidate(addr, types.ChainAccountModel)
	fake.SetBalance(addr, "1")
	b, err = svc.GetBalance(ctx, addr, types.ChainAccountModel)
	require.NoError(t, err)
	assert.Equal(t, "1", b.String())
	assert.Equal(t, 3, fake.BalanceCalls)
}
