package state

import (
	"sort"
	"sync"
	"time"

	"github.com/goatnetwork/wallet-sweeper/internal/types"
	log "github.com/sirupsen/logrus"
)

// SweepJournal persists sweep attempts, implemented by db.DatabaseManager
type SweepJournal interface {
	SaveSweepAttempt(a *types.SweepAttempt) error
	ListSweepAttempts(batchID string) ([]types.SweepAttempt, error)
	ListSweepAttemptsByStatus(status types.SweepStatus) ([]types.SweepAttempt, error)
}

// State is the in-memory state shared by the monitor, the orchestrator and
// the http surface. Locks guard only the maps, never I/O.
type State struct {
	EventBus *EventBus

	journal SweepJournal

	// Separate mutexes for different sub-modules
	backendMu sync.RWMutex
	walletMu  sync.Mutex

	backends map[string]*types.BackendStatus
	inFlight map[string]walletClaim // wallet ref -> holder
}

type walletClaim struct {
	attemptID string
	key       *types.SecretKey
}

// InitializeState creates the state; journal may be nil
func InitializeState(journal SweepJournal) *State {
	if journal != nil {
		pending, err := journal.ListSweepAttemptsByStatus(types.SweepPending)
		if err != nil {
			log.Warnf("Failed to load pending sweep attempts: %v", err)
		}
		for _, a := range pending {
			// the process stopped mid sweep, the broadcast may or may not have happened
			log.Warnf("State init on startup, attempt %s of batch %s for %s was left pending, check %s before sweeping it again",
				a.ID, a.BatchID, a.WalletRef, a.Address)
		}
	}
	return &State{
		EventBus: NewEventBus(),
		journal:  journal,
		backends: make(map[string]*types.BackendStatus),
		inFlight: make(map[string]walletClaim),
	}
}

// RegisterBackend adds a backend in the Unknown state
func (s *State) RegisterBackend(backendID string) {
	s.backendMu.Lock()
	defer s.backendMu.Unlock()
	if _, ok := s.backends[backendID]; !ok {
		s.backends[backendID] = &types.BackendStatus{BackendID: backendID, State: types.StateUnknown}
	}
}

// UpdateBackendStatus applies fn to the backend's status under the lock and
// publishes BackendStateChanged when the state moved
func (s *State) UpdateBackendStatus(backendID string, fn func(status *types.BackendStatus)) (types.BackendStatus, *types.BackendEvent) {
	s.backendMu.Lock()
	status, ok := s.backends[backendID]
	if !ok {
		status = &types.BackendStatus{BackendID: backendID, State: types.StateUnknown}
		s.backends[backendID] = status
	}
	old := status.State
	fn(status)
	updated := *status
	s.backendMu.Unlock()

	if updated.State == old {
		return updated, nil
	}
	event := &types.BackendEvent{
		BackendID: backendID,
		OldState:  old,
		NewState:  updated.State,
		Timestamp: updated.LastCheckedAt,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.EventBus.Publish(BackendStateChanged, *event)
	return updated, event
}

// GetBackendStatus returns a copy of the backend's status
func (s *State) GetBackendStatus(backendID string) (types.BackendStatus, bool) {
	s.backendMu.RLock()
	defer s.backendMu.RUnlock()
	status, ok := s.backends[backendID]
	if !ok {
		return types.BackendStatus{BackendID: backendID, State: types.StateUnknown}, false
	}
	return *status, true
}

// BackendStatuses returns every backend ordered by id
func (s *State) BackendStatuses() []types.BackendStatus {
	s.backendMu.RLock()
	list := make([]types.BackendStatus, 0, len(s.backends))
	for _, status := range s.backends {
		list = append(list, *status)
	}
	s.backendMu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].BackendID < list[j].BackendID })
	return list
}
