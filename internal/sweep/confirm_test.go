package sweep

import (
	"context"
	"sync"
	"testing"

	"github.com/goatnetwork/wallet-sweeper/internal/chain/chaintest"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBalances struct {
	mu          sync.Mutex
	balances    map[string]decimal.Decimal
	err         error
	invalidated []string
}

func (f *fakeBalances) Refresh(ctx context.Context, address string, kind types.ChainKind) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.balances[address], nil
}

func (f *fakeBalances) Invalidate(address string, kind types.ChainKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, address)
}

func TestConfirm(t *testing.T) {
	balances := &fakeBalances{balances: map[string]decimal.Decimal{
		"0xaaa": decimal.Zero,
		"0xbbb": decimal.RequireFromString("0.3"),
	}}
	o, _ := newOrchestrator(nil, balances, testOptions())

	attempts := []*types.SweepAttempt{
		{WalletRef: "account:0xaaa", Address: "0xaaa", Chain: types.ChainAccountModel, Status: types.SweepSubmitted, PreBalance: decimal.RequireFromString("0.5")},
		{WalletRef: "account:0xbbb", Address: "0xbbb", Chain: types.ChainAccountModel, Status: types.SweepSubmitted, PreBalance: decimal.RequireFromString("0.3")},
		{WalletRef: "account:0xccc", Address: "0xccc", Chain: types.ChainAccountModel, Status: types.SweepFailed, PreBalance: decimal.RequireFromString("1")},
		nil,
	}
	n, err := o.Confirm(context.Background(), attempts)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.SweepConfirmed, attempts[0].Status)
	assert.Equal(t, types.SweepSubmitted, attempts[1].Status, "unchanged balance is not confirmed")
	assert.Equal(t, types.SweepFailed, attempts[2].Status)
}

func TestConfirmLookupFailureLeavesSubmitted(t *testing.T) {
	balances := &fakeBalances{err: types.Unreachable("evm", assert.AnError)}
	o, _ := newOrchestrator(nil, balances, testOptions())

	attempt := &types.SweepAttempt{Address: "0xaaa", Chain: types.ChainAccountModel, Status: types.SweepSubmitted, PreBalance: decimal.NewFromInt(1)}
	n, err := o.Confirm(context.Background(), []*types.SweepAttempt{attempt})
	assert.ErrorIs(t, err, types.ErrBackendUnreachable)
	assert.Zero(t, n)
	assert.Equal(t, types.SweepSubmitted, attempt.Status)

	o, _ = newOrchestrator(nil, nil, testOptions())
	_, err = o.Confirm(context.Background(), []*types.SweepAttempt{attempt})
	assert.ErrorIs(t, err, errNoBalanceReader)
}

func TestSweepInvalidatesCachedBalance(t *testing.T) {
	balances := &fakeBalances{balances: map[string]decimal.Decimal{}}
	evm := chaintest.NewFakeAdapter(types.ChainAccountModel, "evm", "0.0004")
	o, _ := newOrchestrator(nil, balances, testOptions(), evm)
	rec := newWallet(t, "0xaaa", "1", types.ChainAccountModel)

	res, err := o.Sweep(context.Background(), &Batch{Records: []*types.WalletRecord{rec}, Destinations: testDestinations})
	require.NoError(t, err)
	require.Equal(t, types.SweepSubmitted, res.Attempts[rec.ID()].Status)
	assert.Equal(t, []string{"0xaaa"}, balances.invalidated)

	balances.balances["0xaaa"] = decimal.Zero
	n, err := o.Confirm(context.Background(), res.Ordered())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.SweepConfirmed, res.Attempts[rec.ID()].Status)
}
