package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type SweepStatus string

const (
	SweepPending   SweepStatus = "Pending"
	SweepSubmitted SweepStatus = "Submitted"
	SweepConfirmed SweepStatus = "Confirmed"
	SweepFailed    SweepStatus = "Failed"
)

// Terminal reports whether the orchestrator is done with the attempt. Submitted
// is terminal for a batch run; confirmation is a separate advisory poll.
func (s SweepStatus) Terminal() bool {
	return s == SweepSubmitted || s == SweepConfirmed || s == SweepFailed
}

// SweepAttempt is the orchestrator-owned record of one wallet sweep
type SweepAttempt struct {
	ID            string          `json:"id"`
	BatchID       string          `json:"batch_id"`
	WalletRef     string          `json:"wallet_ref"`
	Chain         ChainKind       `json:"chain"`
	Address       string          `json:"address"`
	Destination   string          `json:"destination"`
	PreBalance    decimal.Decimal `json:"pre_balance"`
	Status        SweepStatus     `json:"status"`
	FailureReason FailureReason   `json:"failure_reason,omitempty"`
	SubmissionID  string          `json:"submission_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	AttemptCount  int             `json:"attempt_count"`
	LastError     string          `json:"last_error,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Fail moves the attempt to Failed with the classified reason
func (a *SweepAttempt) Fail(err error) {
	a.Status = SweepFailed
	a.FailureReason = ClassifyError(err)
	if err != nil {
		a.LastError = err.Error()
	}
	a.UpdatedAt = time.Now()
}

func (a *SweepAttempt) Submit(submissionID string) {
	a.Status = SweepSubmitted
	a.SubmissionID = submissionID
	a.FailureReason = ReasonNone
	a.UpdatedAt = time.Now()
}

// Requeue returns a Submitted attempt to Pending after a transient failure
func (a *SweepAttempt) Requeue(err error) {
	a.Status = SweepPending
	if err != nil {
		a.LastError = err.Error()
	}
	a.UpdatedAt = time.Now()
}

func (a *SweepAttempt) Confirm() {
	a.Status = SweepConfirmed
	a.UpdatedAt = time.Now()
}
