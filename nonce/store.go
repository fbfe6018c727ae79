// Package nonce holds the single pending OAuth state value for the login
// attempt in flight. Nothing is persisted, so a restart invalidates it.
package nonce

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

type pending struct {
	value     string
	expiresAt time.Time
}

// Store is a thread-safe, single-slot nonce store. Issuing a new nonce
// replaces the previous one.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending *pending
}

// NewStore creates a nonce store whose nonces expire after ttl. A zero ttl
// disables expiry.
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl}
}

// Issue generates a fresh random nonce and records it as pending.
func (s *Store) Issue() (string, error) {
	value := oauth2.GenerateVerifier()
	if err := s.Adopt(value); err != nil {
		return "", err
	}
	return value, nil
}

// Adopt records a state value generated elsewhere (the backend) as the
// pending nonce.
func (s *Store) Adopt(value string) error {
	if value == "" {
		return errors.New("nonce cannot be empty")
	}

	p := &pending{value: value}
	if s.ttl > 0 {
		p.expiresAt = NowTimeFunc().Add(s.ttl)
	}

	s.mu.Lock()
	s.pending = p
	s.mu.Unlock()
	return nil
}

// Consume reports whether candidate matches the pending nonce. The pending
// record is cleared whatever the outcome, so a nonce can never be replayed.
func (s *Store) Consume(candidate string) bool {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()

	if p == nil || candidate == "" {
		return false
	}
	if !p.expiresAt.IsZero() && NowTimeFunc().After(p.expiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p.value), []byte(candidate)) == 1
}

// Pending reports whether a nonce is waiting to be consumed.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Reset drops any pending nonce.
func (s *Store) Reset() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}
