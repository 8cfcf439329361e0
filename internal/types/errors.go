package types

import (
	"errors"
	"fmt"
)

var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrMalformedResponse  = errors.New("malformed response")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrBroadcastRejected  = errors.New("broadcast rejected")
	ErrUnsupportedChain   = errors.New("unsupported chain")
	ErrStructuralInput    = errors.New("structural input error")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrSweepInFlight      = errors.New("wallet already has a sweep in flight")
)

// FailureReason is the terminal cause recorded on a failed SweepAttempt
type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonBackendUnreachable FailureReason = "BackendUnreachable"
	ReasonMalformedResponse  FailureReason = "MalformedResponse"
	ReasonInsufficientFunds  FailureReason = "InsufficientFunds"
	ReasonBroadcastRejected  FailureReason = "BroadcastRejected"
	ReasonUnsupportedChain   FailureReason = "UnsupportedChain"
	ReasonInvalidAddress     FailureReason = "InvalidAddress"
	ReasonInvalidRecord      FailureReason = "InvalidRecord"
	ReasonInFlight           FailureReason = "AlreadyInFlight"
	ReasonCanceled           FailureReason = "Canceled"
	ReasonInternal           FailureReason = "Internal"
)

// ClassifyError maps an adapter or orchestrator error onto the failure taxonomy
func ClassifyError(err error) FailureReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrBackendUnreachable):
		return ReasonBackendUnreachable
	case errors.Is(err, ErrMalformedResponse):
		return ReasonMalformedResponse
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrBroadcastRejected):
		return ReasonBroadcastRejected
	case errors.Is(err, ErrUnsupportedChain):
		return ReasonUnsupportedChain
	case errors.Is(err, ErrInvalidAddress):
		return ReasonInvalidAddress
	case errors.Is(err, ErrStructuralInput):
		return ReasonInvalidRecord
	case errors.Is(err, ErrSweepInFlight):
		return ReasonInFlight
	case errors.Is(err, errCanceled):
		return ReasonCanceled
	}
	return ReasonInternal
}

// IsRetryable reports whether resubmitting can change the outcome
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnreachable)
}

var errCanceled = errors.New("sweep canceled before start")

// ErrCanceled is returned for wallets that never started because the batch was canceled
func ErrCanceled(cause error) error {
	if cause == nil {
		return errCanceled
	}
	return fmt.Errorf("%w: %v", errCanceled, cause)
}

// Unreachable wraps a transport failure as ErrBackendUnreachable
func Unreachable(backend string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackendUnreachable, backend, err)
}

// Malformed wraps a decode failure as ErrMalformedResponse, the payload is redacted
func Malformed(backend string, payload string, err error) error {
	return fmt.Errorf("%w: %s: %v (payload %s)", ErrMalformedResponse, backend, err, RedactPayload(payload))
}

// Rejected wraps a chain-level rejection as ErrBroadcastRejected
func Rejected(reason string) error {
	return fmt.Errorf("%w: %s", ErrBroadcastRejected, reason)
}

// RedactPayload keeps the edges of a payload so logs stay useful without echoing it
func RedactPayload(payload string) string {
	if len(payload) <= 16 {
		return fmt.Sprintf("[%d bytes]", len(payload))
	}
	return fmt.Sprintf("%s...%s [%d bytes]", payload[:8], payload[len(payload)-8:], len(payload))
}
