package health

import (
	"context"
	"sync"
	"time"

	"github.com/goatnetwork/wallet-sweeper/internal/metrics"
	"github.com/goatnetwork/wallet-sweeper/internal/state"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	PollInterval    time.Duration
	ProbeTimeout    time.Duration
	DisconnectAfter int
}

// Monitor polls every backend on its own goroutine and keeps the backend
// status table in State. A backend goes Disconnected only after
// DisconnectAfter consecutive failed probes.
type Monitor struct {
	state  *state.State
	probes []Probe
	opts   Options
}

func NewMonitor(st *state.State, opts Options, probes ...Probe) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.DisconnectAfter < 1 {
		opts.DisconnectAfter = 2
	}
	for _, p := range probes {
		st.RegisterBackend(p.BackendID())
		metrics.BackendState.WithLabelValues(p.BackendID()).Set(float64(types.StateUnknown))
	}
	return &Monitor{state: st, probes: probes, opts: opts}
}

// Start runs the polling loops until ctx is done
func (m *Monitor) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range m.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			m.loop(ctx, p)
		}(p)
	}
	log.Infof("Health monitor started with %d backends, interval %v", len(m.probes), m.opts.PollInterval)
	wg.Wait()
	log.Info("Health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, p Probe) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	m.Check(ctx, p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx, p)
		}
	}
}

// PollOnce probes every backend once, concurrently
func (m *Monitor) PollOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range m.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			m.Check(ctx, p)
		}(p)
	}
	wg.Wait()
}

// Check runs one probe with the probe timeout and records the result
func (m *Monitor) Check(ctx context.Context, p Probe) types.BackendStatus {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	err := p.IsReachable(probeCtx)
	cancel()
	if err != nil && ctx.Err() != nil {
		// shutting down, not the backend's fault
		status, _ := m.state.GetBackendStatus(p.BackendID())
		return status
	}
	return m.record(p.BackendID(), err, time.Now())
}

func (m *Monitor) record(backendID string, probeErr error, now time.Time) types.BackendStatus {
	status, event := m.state.UpdateBackendStatus(backendID, func(st *types.BackendStatus) {
		st.LastCheckedAt = now
		if probeErr == nil {
			st.State = types.StateConnected
			st.ConsecutiveFailures = 0
			st.LastError = ""
			return
		}
		st.ConsecutiveFailures++
		st.LastError = probeErr.Error()
		if st.ConsecutiveFailures >= m.opts.DisconnectAfter {
			st.State = types.StateDisconnected
		}
	})
	metrics.BackendState.WithLabelValues(backendID).Set(float64(status.State))

	if event != nil {
		log.WithFields(log.Fields{
			"backend": backendID,
			"old":     event.OldState.String(),
			"new":     event.NewState.String(),
		}).Infof("Backend state changed")
	} else if probeErr != nil {
		log.Debugf("Backend %s probe failed (%d/%d): %v", backendID, status.ConsecutiveFailures, m.opts.DisconnectAfter, probeErr)
	}
	return status
}

// IsAvailable is false only for a backend currently Disconnected
func (m *Monitor) IsAvailable(backendID string) bool {
	status, _ := m.state.GetBackendStatus(backendID)
	return status.State != types.StateDisconnected
}

func (m *Monitor) Statuses() []types.BackendStatus {
	return m.state.BackendStatuses()
}

// Subscribe delivers types.BackendEvent values on ch
func (m *Monitor) Subscribe(ch chan interface{}) {
	m.state.EventBus.Subscribe(state.BackendStateChanged, ch)
}

func (m *Monitor) Unsubscribe(ch chan interface{}) {
	m.state.EventBus.Unsubscribe(state.BackendStateChanged, ch)
}
