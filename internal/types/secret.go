package types

import (
	"errors"
	"fmt"
	"sync"
)

const redacted = "[REDACTED]"

var ErrSecretReleased = errors.New("secret already released")

// SecretKey holds raw private key material. The bytes are only reachable inside
// Use and are zeroed by Release. Formatting and JSON never expose them.
type SecretKey struct {
	mu       sync.Mutex
	key      []byte
	released bool
}

// NewSecretKey takes ownership of raw; the caller's slice is zeroed after copying
func NewSecretKey(raw []byte) *SecretKey {
	key := make([]byte, len(raw))
	copy(key, raw)
	clear(raw)
	return &SecretKey{key: key}
}

// Use runs fn with the key bytes. fn must not retain the slice.
func (s *SecretKey) Use(fn func(key []byte) error) error {
	if s == nil {
		return ErrSecretReleased
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrSecretReleased
	}
	return fn(s.key)
}

// Release zeroes the key. Safe to call more than once.
func (s *SecretKey) Release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.key)
	s.key = nil
	s.released = true
}

func (s *SecretKey) Released() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *SecretKey) String() string {
	return redacted
}

func (s *SecretKey) GoString() string {
	return redacted
}

func (s *SecretKey) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(redacted))
}

func (s *SecretKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
