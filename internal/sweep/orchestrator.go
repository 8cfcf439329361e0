package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goatnetwork/wallet-sweeper/internal/chain"
	"github.com/goatnetwork/wallet-sweeper/internal/metrics"
	"github.com/goatnetwork/wallet-sweeper/internal/state"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Liveness is the health monitor's gate
type Liveness interface {
	IsAvailable(backendID string) bool
}

// BalanceReader is the balance query service as the orchestrator uses it
type BalanceReader interface {
	Refresh(ctx context.Context, address string, kind types.ChainKind) (decimal.Decimal, error)
	Invalidate(address string, kind types.ChainKind)
}

type Options struct {
	// MaxRetries bounds the calls of one retried step, the first try included
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Workers is the pool size, 0 means one per distinct chain in the batch
	Workers int
}

// Batch is one sweep request. Destinations holds the target address per
// chain family.
type Batch struct {
	ID           string
	Records      []*types.WalletRecord
	Destinations map[types.ChainKind]string
}

// Result maps wallet identity to its final attempt
type Result struct {
	BatchID  string                         `json:"batch_id"`
	Attempts map[string]*types.SweepAttempt `json:"attempts"`
	order    []string
}

// Ordered returns the attempts in input order
func (r *Result) Ordered() []*types.SweepAttempt {
	list := make([]*types.SweepAttempt, 0, len(r.order))
	for _, ref := range r.order {
		list = append(list, r.Attempts[ref])
	}
	return list
}

// Orchestrator sweeps batches of wallets. Every wallet runs independently:
// its failure is recorded on its own attempt and never stops the others.
type Orchestrator struct {
	registry *chain.Registry
	state    *state.State
	liveness Liveness
	balances BalanceReader
	opts     Options
}

// NewOrchestrator wires the orchestrator; liveness and balances may be nil
func NewOrchestrator(registry *chain.Registry, st *state.State, liveness Liveness, balances BalanceReader, opts Options) *Orchestrator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap < opts.BackoffBase {
		opts.BackoffCap = opts.BackoffBase
	}
	return &Orchestrator{registry: registry, state: st, liveness: liveness, balances: balances, opts: opts}
}

func validateBatch(batch *Batch) error {
	if batch == nil || len(batch.Records) == 0 {
		return fmt.Errorf("%w: empty batch", types.ErrStructuralInput)
	}
	if len(batch.Destinations) == 0 {
		return fmt.Errorf("%w: no destination address", types.ErrStructuralInput)
	}
	seen := make(map[string]int, len(batch.Records))
	for i, rec := range batch.Records {
		if rec == nil {
			return fmt.Errorf("%w: record %d is nil", types.ErrStructuralInput, i)
		}
		if j, dup := seen[rec.ID()]; dup {
			return fmt.Errorf("%w: records %d and %d are the same wallet %s", types.ErrStructuralInput, j, i, rec.ID())
		}
		seen[rec.ID()] = i
	}
	return nil
}

// Sweep runs the batch to completion and returns every wallet's attempt. The
// only error is a structural one, found before any wallet starts. Canceling
// ctx stops wallets that have not started yet; a wallet that already signed
// its transaction finishes broadcasting.
func (o *Orchestrator) Sweep(ctx context.Context, batch *Batch) (*Result, error) {
	if err := validateBatch(batch); err != nil {
		return nil, err
	}
	batchID := batch.ID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	result := &Result{BatchID: batchID, Attempts: make(map[string]*types.SweepAttempt, len(batch.Records))}
	chains := make(map[types.ChainKind]struct{})
	for _, rec := range batch.Records {
		attempt := &types.SweepAttempt{
			ID:          uuid.NewString(),
			BatchID:     batchID,
			WalletRef:   rec.ID(),
			Chain:       rec.Chain(),
			Address:     rec.Address(),
			Destination: batch.Destinations[rec.Chain()],
			PreBalance:  rec.Balance(),
			Status:      types.SweepPending,
			UpdatedAt:   time.Now(),
		}
		result.Attempts[attempt.WalletRef] = attempt
		result.order = append(result.order, attempt.WalletRef)
		chains[rec.Chain()] = struct{}{}
		o.state.SaveSweepAttempt(attempt)
	}

	workers := o.opts.Workers
	if workers <= 0 {
		workers = len(chains)
	}
	log.Infof("Sweep batch %s started, wallets %d, workers %d", batchID, len(batch.Records), workers)

	var g errgroup.Group
	g.SetLimit(workers)
	for _, rec := range batch.Records {
		rec := rec
		attempt := result.Attempts[rec.ID()]
		if ctx.Err() != nil {
			o.cancelled(ctx, rec, attempt)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				o.cancelled(ctx, rec, attempt)
				return nil
			}
			o.sweepWallet(ctx, rec, batch.Destinations[rec.Chain()], attempt)
			return nil
		})
	}
	_ = g.Wait()

	o.state.EventBus.Publish(state.SweepBatchFinished, batchID)
	log.Infof("Sweep batch %s finished", batchID)
	return result, nil
}

func (o *Orchestrator) cancelled(ctx context.Context, rec *types.WalletRecord, attempt *types.SweepAttempt) {
	o.state.ReleaseKey(rec.Key())
	o.finish(attempt, types.ErrCanceled(context.Cause(ctx)))
}

// finish records the terminal state; a nil err means Submitted was set already
func (o *Orchestrator) finish(attempt *types.SweepAttempt, err error) {
	if err != nil {
		attempt.Fail(err)
	}
	metrics.SweepAttempts.WithLabelValues(attempt.Chain.String(), string(attempt.Status), string(attempt.FailureReason)).Inc()
	o.state.SaveSweepAttempt(attempt)

	fields := log.Fields{"batch": attempt.BatchID, "wallet": attempt.WalletRef, "status": attempt.Status}
	if err != nil {
		log.WithFields(fields).Warnf("Sweep failed, reason %s: %v", attempt.FailureReason, err)
		return
	}
	log.WithFields(fields).Infof("Sweep submitted, tx %s, amount %s", attempt.SubmissionID, attempt.Amount)
}

// sweepWallet runs one wallet to a terminal state, the key is released on
// every path unless another in-flight attempt signs with the same key
func (o *Orchestrator) sweepWallet(ctx context.Context, rec *types.WalletRecord, destination string, attempt *types.SweepAttempt) {
	key := rec.Key()
	if holder, ok := o.state.ClaimWallet(attempt.WalletRef, attempt.ID, key); !ok {
		o.state.ReleaseKey(key)
		o.finish(attempt, fmt.Errorf("%w: attempt %s", types.ErrSweepInFlight, holder))
		return
	}
	defer o.state.ReleaseWallet(attempt.WalletRef, attempt.ID)
	defer key.Release()

	adapter, err := o.registry.Resolve(rec.Chain())
	if err != nil {
		o.finish(attempt, err)
		return
	}
	if destination == "" {
		o.finish(attempt, fmt.Errorf("%w: no destination for %s wallets", types.ErrInvalidAddress, rec.Chain()))
		return
	}
	if err := adapter.ValidateAddress(destination); err != nil {
		o.finish(attempt, fmt.Errorf("destination: %w", err))
		return
	}

	spendable, err := withRetry(ctx, o, adapter, attempt, "spendable_state", func(ctx context.Context) (*types.SpendableState, error) {
		return adapter.SpendableState(ctx, rec.Address(), rec.Balance())
	})
	if err != nil {
		o.finish(attempt, err)
		return
	}

	shape := types.TxShape{From: rec.Address(), To: destination, Inputs: len(spendable.Utxos), Outputs: 1}
	fee, err := withRetry(ctx, o, adapter, attempt, "estimate_fee", func(ctx context.Context) (types.FeeEstimate, error) {
		return adapter.EstimateFee(ctx, shape)
	})
	if err != nil {
		o.finish(attempt, err)
		return
	}
	attempt.Fee = fee.Amount

	amount, err := chain.TransferableAmount(rec.Balance(), fee)
	if err != nil {
		o.finish(attempt, err)
		return
	}

	utx, err := adapter.BuildTransaction(rec.Address(), destination, amount, spendable, fee)
	if err != nil {
		o.finish(attempt, err)
		return
	}
	stx, err := adapter.SignTransaction(utx, key)
	key.Release()
	if err != nil {
		o.finish(attempt, err)
		return
	}
	attempt.Amount = utx.Amount
	attempt.Fee = utx.Fee.Amount
	o.state.SaveSweepAttempt(attempt)

	// the signed bytes are fixed now, retries resubmit the same transaction
	// and run to the end even if the batch is canceled
	broadcastCtx := context.WithoutCancel(ctx)
	var sawTransient bool
	txHash, err := withRetry(broadcastCtx, o, adapter, attempt, "broadcast", func(ctx context.Context) (string, error) {
		attempt.AttemptCount++
		attempt.Submit(stx.Hash)
		txHash, err := adapter.BroadcastTransaction(ctx, stx)
		if err != nil && types.IsRetryable(err) {
			sawTransient = true
			attempt.Requeue(err)
			o.state.SaveSweepAttempt(attempt)
		}
		return txHash, err
	})
	switch {
	case err == nil:
	case errors.Is(err, types.ErrBroadcastRejected) && sawTransient:
		// an earlier send may have landed and the node now rejects the
		// duplicate, keep the hash Submitted so Confirm settles it
		log.WithFields(log.Fields{"batch": attempt.BatchID, "wallet": attempt.WalletRef}).
			Warnf("Sweep tx %s rejected on retry, possibly already submitted: %v", stx.Hash, err)
		attempt.Submit(stx.Hash)
		attempt.LastError = fmt.Sprintf("rejected on retry, possibly already submitted: %v", err)
	case errors.Is(err, types.ErrBackendUnreachable):
		o.finish(attempt, fmt.Errorf("signed tx %s may still reach the network: %w", stx.Hash, err))
		return
	default:
		attempt.SubmissionID = ""
		o.finish(attempt, err)
		return
	}
	if txHash == "" {
		txHash = stx.Hash
	}
	attempt.Submit(txHash)
	if o.balances != nil {
		o.balances.Invalidate(rec.Address(), rec.Chain())
	}
	o.finish(attempt, nil)
}
