package state

import (
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	log "github.com/sirupsen/logrus"
)

// ClaimWallet marks a wallet as having an in-flight attempt signing with key.
// It fails when another attempt holds the wallet.
func (s *State) ClaimWallet(walletRef, attemptID string, key *types.SecretKey) (holder string, ok bool) {
	s.walletMu.Lock()
	defer s.walletMu.Unlock()
	if claim, busy := s.inFlight[walletRef]; busy {
		return claim.attemptID, false
	}
	s.inFlight[walletRef] = walletClaim{attemptID: attemptID, key: key}
	return attemptID, true
}

func (s *State) ReleaseWallet(walletRef, attemptID string) {
	s.walletMu.Lock()
	defer s.walletMu.Unlock()
	if s.inFlight[walletRef].attemptID == attemptID {
		delete(s.inFlight, walletRef)
	}
}

// ReleaseKey wipes key unless an in-flight attempt still signs with it, that
// attempt wipes it when done. Reports whether the key was wiped.
func (s *State) ReleaseKey(key *types.SecretKey) bool {
	s.walletMu.Lock()
	defer s.walletMu.Unlock()
	for _, claim := range s.inFlight {
		if claim.key == key {
			return false
		}
	}
	key.Release()
	return true
}

// SaveSweepAttempt journals a copy of the attempt and publishes it. A journal
// failure is logged, the sweep itself goes on.
func (s *State) SaveSweepAttempt(a *types.SweepAttempt) {
	snapshot := *a
	if s.journal != nil {
		if err := s.journal.SaveSweepAttempt(&snapshot); err != nil {
			log.Errorf("State save sweep attempt %s error: %v", a.ID, err)
		}
	}
	s.EventBus.Publish(SweepAttemptUpdated, snapshot)
}

// ListSweepAttempts reads a batch back from the journal
func (s *State) ListSweepAttempts(batchID string) ([]types.SweepAttempt, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.ListSweepAttempts(batchID)
}
