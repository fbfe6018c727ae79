package session

import (
	"sync"

	"golang.org/x/oauth2"
)

// Reader is the read-only view handed to components that must not write
// the session.
type Reader interface {
	Token() (*oauth2.Token, bool)
	AccessToken() string
	Snapshot() Session
	Subscribe(fn func(Session)) (cancel func())
}

var _ Reader = (*Store)(nil)

// Generation identifies one session lineage. It moves on every login,
// logout and failed refresh, so work started against an older lineage can
// tell that it must not write.
type Generation uint64

// Store owns the single Session of the process. The access token lives only
// in memory; it is never written anywhere durable.
type Store struct {
	// notifyMu orders transitions together with their delivery
	notifyMu sync.Mutex

	mu         sync.RWMutex
	session    Session
	generation Generation
	listeners  map[int]func(Session)
	nextID     int
}

func NewStore() *Store {
	return &Store{
		listeners: make(map[int]func(Session)),
	}
}

// SetToken replaces the access token and marks the session Authenticated.
func (s *Store) SetToken(tok *oauth2.Token) {
	s.update(func(sess *Session) bool {
		t := *tok
		sess.Token = &t
		sess.Status = Authenticated
		return true
	})
}

// Authenticate stores a token together with its identity in one transition,
// so listeners never observe an Authenticated session without an identity.
// It starts a new generation.
func (s *Store) Authenticate(tok *oauth2.Token, id Identity) {
	s.update(func(sess *Session) bool {
		s.generation++
		authenticate(sess, tok, id)
		return true
	})
}

// AuthenticateIf is Authenticate for a refresh begun at gen. It reports
// false, and changes nothing, once the session has moved on.
func (s *Store) AuthenticateIf(gen Generation, tok *oauth2.Token, id Identity) bool {
	return s.update(func(sess *Session) bool {
		if s.generation != gen {
			return false
		}
		authenticate(sess, tok, id)
		return true
	})
}

func authenticate(sess *Session, tok *oauth2.Token, id Identity) {
	t := *tok
	sess.Token = &t
	sess.Identity = &id
	sess.Status = Authenticated
}

// SetIdentity records who the current token belongs to.
func (s *Store) SetIdentity(id Identity) {
	s.update(func(sess *Session) bool {
		sess.Identity = &id
		return true
	})
}

// BeginAuthentication starts a login attempt; any held token is dropped.
func (s *Store) BeginAuthentication() {
	s.update(func(sess *Session) bool {
		s.generation++
		*sess = Session{Status: Authenticating}
		return true
	})
}

// AbandonAuthentication returns a pending login to LoggedOut. It reports
// false and leaves the session alone in any other state.
func (s *Store) AbandonAuthentication() bool {
	return s.update(func(sess *Session) bool {
		if sess.Status != Authenticating {
			return false
		}
		s.generation++
		*sess = Session{Status: LoggedOut}
		return true
	})
}

// BeginRefresh marks a refresh in flight and returns the generation it
// belongs to along with the identity known so far. The stale token is kept
// until the refresh resolves. A login in progress cannot be refreshed; ok
// is false then.
func (s *Store) BeginRefresh() (gen Generation, previous *Identity, ok bool) {
	s.update(func(sess *Session) bool {
		if sess.Status == Authenticating {
			return false
		}
		gen, ok = s.generation, true
		if sess.Identity != nil {
			id := *sess.Identity
			previous = &id
		}
		sess.Status = Refreshing
		return true
	})
	return gen, previous, ok
}

// Clear removes the token and identity and returns to LoggedOut.
func (s *Store) Clear() {
	s.update(func(sess *Session) bool {
		s.generation++
		*sess = Session{Status: LoggedOut}
		return true
	})
}

// ClearIf is Clear for a refresh begun at gen; a newer session is kept.
func (s *Store) ClearIf(gen Generation) bool {
	return s.update(func(sess *Session) bool {
		if s.generation != gen {
			return false
		}
		s.generation++
		*sess = Session{Status: LoggedOut}
		return true
	})
}

func (s *Store) Token() (*oauth2.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.Token == nil {
		return nil, false
	}
	tok := *s.session.Token
	return &tok, true
}

func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken()
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Status
}

func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.clone()
}

// Subscribe registers fn to be called after every transition, in the order
// the transitions happened. fn may read the store but must not write it.
func (s *Store) Subscribe(fn func(Session)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// update applies fn under the lock and, if fn changed the session, notifies
// listeners before the next transition can start.
func (s *Store) update(fn func(*Session) bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !fn(&s.session) {
		s.mu.Unlock()
		return false
	}
	snapshot := s.session.clone()
	listeners := make([]func(Session), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return true
}
