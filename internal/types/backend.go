package types

import "time"

type ConnState int

const (
	StateUnknown ConnState = iota
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	return [...]string{"Unknown", "Connected", "Disconnected"}[s]
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BackendStatus is the monitor's view of one backend
type BackendStatus struct {
	BackendID           string    `json:"backend_id"`
	State               ConnState `json:"state"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// BackendEvent is emitted on every state transition
type BackendEvent struct {
	BackendID string    `json:"backend_id"`
	OldState  ConnState `json:"old_state"`
	NewState  ConnState `json:"new_state"`
	Timestamp time.Time `json:"timestamp"`
}
