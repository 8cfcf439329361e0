// Package chaintest provides a scripted chain.Adapter for tests.
package chaintest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goatnetwork/wallet-sweeper/internal/chain"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
)

// FakeAdapter records every call. Error queues return their head on each
// call and keep repeating the last element.
type FakeAdapter struct {
	mu sync.Mutex

	KindValue types.ChainKind
	ID        string
	Fee       decimal.Decimal
	Nonce     uint64
	Balances  map[string]decimal.Decimal

	SpendableErrs []error
	FeeErrs       []error
	BroadcastErrs []error
	BalanceErrs   []error
	ReachableErrs []error

	// BalanceDelay holds Balance calls, BroadcastDelay holds broadcasts
	BalanceDelay   time.Duration
	BroadcastDelay time.Duration

	SpendableCalls int
	FeeCalls       int
	BuildCalls     int
	SignCalls      int
	BroadcastCalls int
	BalanceCalls   int

	BuiltAmounts []decimal.Decimal
	Broadcasted  [][]byte
}

var _ chain.Adapter = (*FakeAdapter)(nil)

func NewFakeAdapter(kind types.ChainKind, id string, fee string) *FakeAdapter {
	return &FakeAdapter{
		KindValue: kind,
		ID:        id,
		Fee:       decimal.RequireFromString(fee),
		Balances:  make(map[string]decimal.Decimal),
	}
}

type fakeTx struct {
	from, to string
	amount   decimal.Decimal
	nonce    uint64
}

func next(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return err
}

func (f *FakeAdapter) Kind() types.ChainKind { return f.KindValue }

func (f *FakeAdapter) BackendID() string { return f.ID }

func (f *FakeAdapter) ValidateAddress(address string) error {
	if address == "" || strings.HasPrefix(address, "bad") {
		return fmt.Errorf("%w: %q", types.ErrInvalidAddress, address)
	}
	return nil
}

func (f *FakeAdapter) SpendableState(ctx context.Context, address string, amount decimal.Decimal) (*types.SpendableState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SpendableCalls++
	if err := next(&f.SpendableErrs); err != nil {
		return nil, err
	}
	if err := f.ValidateAddress(address); err != nil {
		return nil, err
	}
	return &types.SpendableState{Address: address, Nonce: f.Nonce, Available: amount}, nil
}

func (f *FakeAdapter) EstimateFee(ctx context.Context, shape types.TxShape) (types.FeeEstimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FeeCalls++
	if err := next(&f.FeeErrs); err != nil {
		return types.FeeEstimate{}, err
	}
	return types.FeeEstimate{Amount: f.Fee, Unit: "FAKE"}, nil
}

func (f *FakeAdapter) BuildTransaction(from, to string, amount decimal.Decimal, state *types.SpendableState, fee types.FeeEstimate) (*types.UnsignedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BuildCalls++
	f.BuiltAmounts = append(f.BuiltAmounts, amount)
	if err := f.ValidateAddress(to); err != nil {
		return nil, err
	}
	if amount.Add(fee.Amount).GreaterThan(state.Available) {
		return nil, fmt.Errorf("%w: %s + %s > %s", types.ErrInsufficientFunds, amount, fee.Amount, state.Available)
	}
	return &types.UnsignedTx{
		Chain:   f.KindValue,
		From:    from,
		To:      to,
		Amount:  amount,
		Fee:     fee,
		Payload: &fakeTx{from: from, to: to, amount: amount, nonce: state.Nonce},
	}, nil
}

func (f *FakeAdapter) SignTransaction(utx *types.UnsignedTx, key *types.SecretKey) (*types.SignedTx, error) {
	f.mu.Lock()
	f.SignCalls++
	f.mu.Unlock()

	tx, ok := utx.Payload.(*fakeTx)
	if !ok {
		return nil, fmt.Errorf("%w: payload %T", types.ErrStructuralInput, utx.Payload)
	}
	var sig [32]byte
	err := key.Use(func(raw []byte) error {
		sig = sha256.Sum256(append([]byte(tx.from), raw...))
		return nil
	})
	if err != nil {
		return nil, err
	}
	raw := []byte(fmt.Sprintf("%s|%s|%s|%d|%x", tx.from, tx.to, tx.amount, tx.nonce, sig))
	hash := sha256.Sum256(raw)
	return &types.SignedTx{Chain: f.KindValue, Hash: "0x" + hex.EncodeToString(hash[:]), Raw: raw}, nil
}

func (f *FakeAdapter) BroadcastTransaction(ctx context.Context, stx *types.SignedTx) (string, error) {
	if f.BroadcastDelay > 0 {
		time.Sleep(f.BroadcastDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BroadcastCalls++
	f.Broadcasted = append(f.Broadcasted, append([]byte(nil), stx.Raw...))
	if err := next(&f.BroadcastErrs); err != nil {
		return "", err
	}
	return stx.Hash, nil
}

func (f *FakeAdapter) DecodeTransaction(stx *types.SignedTx) (*types.TxSummary, error) {
	parts := strings.Split(string(stx.Raw), "|")
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: bad fake tx", types.ErrMalformedResponse)
	}
	amount, err := decimal.NewFromString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedResponse, err)
	}
	hash := sha256.Sum256(stx.Raw)
	return &types.TxSummary{Hash: "0x" + hex.EncodeToString(hash[:]), From: parts[0], To: parts[1], Amount: amount}, nil
}

func (f *FakeAdapter) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if f.BalanceDelay > 0 {
		select {
		case <-time.After(f.BalanceDelay):
		case <-ctx.Done():
			return decimal.Zero, types.Unreachable(f.ID, ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BalanceCalls++
	if err := next(&f.BalanceErrs); err != nil {
		return decimal.Zero, err
	}
	return f.Balances[address], nil
}

func (f *FakeAdapter) IsReachable(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return next(&f.ReachableErrs)
}

// SetBalance changes what Balance reports for address
func (f *FakeAdapter) SetBalance(address, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Balances[address] = decimal.RequireFromString(amount)
}

// Calls returns a consistent snapshot of the call counters
func (f *FakeAdapter) Calls() (spendable, fee, build, sign, broadcast, balance int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SpendableCalls, f.FeeCalls, f.BuildCalls, f.SignCalls, f.BroadcastCalls, f.BalanceCalls
}

// Unreachable is a transport failure for the fake backend
func (f *FakeAdapter) Unreachable() error {
	return types.Unreachable(f.ID, fmt.Errorf("dial tcp: connection refused"))
}
