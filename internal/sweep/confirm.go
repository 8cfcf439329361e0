package sweep

import (
	"context"
	"errors"

	"github.com/goatnetwork/wallet-sweeper/internal/types"
	log "github.com/sirupsen/logrus"
)

var errNoBalanceReader = errors.New("orchestrator has no balance service")

// Confirm polls the live balance of every Submitted attempt and moves it to
// Confirmed once the balance dropped below the pre-sweep balance. It is
// advisory: attempts that cannot be checked are left Submitted, and the
// first lookup error is returned after all attempts were tried.
func (o *Orchestrator) Confirm(ctx context.Context, attempts []*types.SweepAttempt) (int, error) {
	if o.balances == nil {
		return 0, errNoBalanceReader
	}
	var (
		confirmed int
		firstErr  error
	)
	for _, attempt := range attempts {
		if attempt == nil || attempt.Status != types.SweepSubmitted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return confirmed, err
		}
		post, err := o.balances.Refresh(ctx, attempt.Address, attempt.Chain)
		if err != nil {
			log.Warnf("Confirm sweep %s of %s, balance lookup error: %v", attempt.SubmissionID, attempt.WalletRef, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !post.LessThan(attempt.PreBalance) {
			log.Debugf("Sweep %s of %s not confirmed yet, balance %s, before %s", attempt.SubmissionID, attempt.WalletRef, post, attempt.PreBalance)
			continue
		}
		attempt.Confirm()
		o.state.SaveSweepAttempt(attempt)
		confirmed++
		log.Infof("Sweep %s of %s confirmed, balance %s -> %s", attempt.SubmissionID, attempt.WalletRef, attempt.PreBalance, post)
	}
	return confirmed, firstErr
}
