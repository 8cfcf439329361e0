package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goatnetwork/wallet-sweeper/internal/chain"
	"github.com/goatnetwork/wallet-sweeper/internal/metrics"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	log "github.com/sirupsen/logrus"
)

var errBackendDisconnected = errors.New("backend reported disconnected by health monitor")

// newBackOff is base, base*2, base*4 ... capped at cap, for at most
// MaxRetries calls in total
func (o *Orchestrator) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = o.opts.BackoffCap
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.opts.MaxRetries-1)), ctx)
}

// withRetry calls op until it succeeds, fails with a non-retryable error or
// the attempts run out. A backend the monitor marks Disconnected is not
// called, that try counts as unreachable.
func withRetry[T any](ctx context.Context, o *Orchestrator, adapter chain.Adapter, attempt *types.SweepAttempt, step string, op func(ctx context.Context) (T, error)) (T, error) {
	operation := func() (T, error) {
		var zero T
		if o.liveness != nil && !o.liveness.IsAvailable(adapter.BackendID()) {
			return zero, types.Unreachable(adapter.BackendID(), errBackendDisconnected)
		}
		v, err := op(ctx)
		if err != nil && !types.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		metrics.SweepRetries.WithLabelValues(attempt.Chain.String(), step).Inc()
		attempt.LastError = err.Error()
		log.WithFields(log.Fields{
			"batch":  attempt.BatchID,
			"wallet": attempt.WalletRef,
			"step":   step,
		}).Warnf("Transient failure, retry in %v: %v", wait, err)
	}

	v, err := backoff.RetryNotifyWithData(operation, o.newBackOff(ctx), notify)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && !errors.Is(err, types.ErrBackendUnreachable) {
		return v, types.ErrCanceled(err)
	}
	return v, err
}
