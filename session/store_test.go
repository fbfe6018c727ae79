package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/lightshow-kiosk/session"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestStore_Transitions(t *testing.T) {
	s := session.NewStore()
	require.Equal(t, session.LoggedOut, s.Status())
	_, ok := s.Token()
	require.False(t, ok)

	s.BeginAuthentication()
	require.Equal(t, session.Authenticating, s.Status())

	expiry := time.Now().Add(15 * time.Minute)
	s.SetToken(&oauth2.Token{AccessToken: "T1", TokenType: "Bearer", Expiry: expiry})
	s.SetIdentity(session.Identity{Email: "elf@northpole.example", Name: "Elf"})
	require.Equal(t, session.Authenticated, s.Status())
	require.Equal(t, "T1", s.AccessToken())

	snap := s.Snapshot()
	require.Equal(t, "elf@northpole.example", snap.Identity.Email)
	require.Equal(t, expiry, snap.ExpiresAt())

	s.BeginRefresh()
	require.Equal(t, session.Refreshing, s.Status())
	require.Equal(t, "T1", s.AccessToken())

	s.SetToken(&oauth2.Token{AccessToken: "T2"})
	require.Equal(t, session.Authenticated, s.Status())
	require.Equal(t, "T2", s.AccessToken())

	s.Clear()
	require.Equal(t, session.LoggedOut, s.Status())
	require.Empty(t, s.AccessToken())
	require.Nil(t, s.Snapshot().Identity)
}

func TestStore_BeginAuthenticationDropsToken(t *testing.T) {
	s := session.NewStore()
	s.SetToken(&oauth2.Token{AccessToken: "T1"})
	s.SetIdentity(session.Identity{Email: "elf@northpole.example"})

	s.BeginAuthentication()
	require.Empty(t, s.AccessToken())
	require.Nil(t, s.Snapshot().Identity)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := session.NewStore()
	s.SetToken(&oauth2.Token{AccessToken: "T1"})

	tok, ok := s.Token()
	require.True(t, ok)
	tok.AccessToken = "tampered"

	snap := s.Snapshot()
	snap.Token.AccessToken = "tampered"

	require.Equal(t, "T1", s.AccessToken())
}

func TestStore_Subscribe(t *testing.T) {
	s := session.NewStore()

	var mu sync.Mutex
	var seen []session.Status
	cancel := s.Subscribe(func(sess session.Session) {
		mu.Lock()
		seen = append(seen, sess.Status)
		mu.Unlock()
	})

	s.BeginAuthentication()
	s.SetToken(&oauth2.Token{AccessToken: "T1"})
	cancel()
	cancel()
	s.Clear()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []session.Status{session.Authenticating, session.Authenticated}, seen)
}

func TestStore_ListenerMayReadStore(t *testing.T) {
	s := session.NewStore()
	var got string
	s.Subscribe(func(session.Session) {
		got = s.AccessToken()
	})

	s.SetToken(&oauth2.Token{AccessToken: "T1"})
	require.Equal(t, "T1", got)
}

func TestStatus_String(t *testing.T) {
	require.Equal(t, "logged_out", session.LoggedOut.String())
	require.Equal(t, "authenticating", session.Authenticating.String())
	require.Equal(t, "authenticated", session.Authenticated.String())
	require.Equal(t, "refreshing", session.Refreshing.String())
}

func TestStore_AuthenticateIsOneTransition(t *testing.T) {
	s := session.NewStore()
	s.BeginAuthentication()

	var seen []session.Session
	s.Subscribe(func(sess session.Session) {
		seen = append(seen, sess)
	})

	s.Authenticate(&oauth2.Token{AccessToken: "T1"}, session.Identity{Email: "elf@northpole.example"})

	require.Len(t, seen, 1)
	require.Equal(t, session.Authenticated, seen[0].Status)
	require.Equal(t, "T1", seen[0].AccessToken())
	require.Equal(t, "elf@northpole.example", seen[0].Identity.Email)
}

func TestStore_RefreshCommitsOnlyToItsGeneration(t *testing.T) {
	tests := []struct {
		name       string
		meanwhile  func(s *session.Store)
		wantCommit bool
		wantStatus session.Status
	}{
		{name: "nothing happened", meanwhile: func(*session.Store) {}, wantCommit: true, wantStatus: session.Authenticated},
		{name: "logged out", meanwhile: func(s *session.Store) { s.Clear() }, wantStatus: session.LoggedOut},
		{name: "login started", meanwhile: func(s *session.Store) { s.BeginAuthentication() }, wantStatus: session.Authenticating},
		{
			name: "login completed",
			meanwhile: func(s *session.Store) {
				s.BeginAuthentication()
				s.Authenticate(&oauth2.Token{AccessToken: "T9"}, session.Identity{Email: "santa@northpole.example"})
			},
			wantStatus: session.Authenticated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := session.NewStore()
			s.Authenticate(&oauth2.Token{AccessToken: "T1"}, session.Identity{Email: "elf@northpole.example"})

			gen, previous, ok := s.BeginRefresh()
			require.True(t, ok)
			require.Equal(t, "elf@northpole.example", previous.Email)

			tt.meanwhile(s)
			committed := s.AuthenticateIf(gen, &oauth2.Token{AccessToken: "T2"}, *previous)
			require.Equal(t, tt.wantCommit, committed)
			require.Equal(t, tt.wantStatus, s.Status())
			if !committed {
				require.NotEqual(t, "T2", s.AccessToken())
			}
		})
	}
}

func TestStore_FailedRefreshKeepsNewerLogin(t *testing.T) {
	s := session.NewStore()
	gen, previous, ok := s.BeginRefresh()
	require.True(t, ok)
	require.Nil(t, previous)

	s.BeginAuthentication()
	s.Authenticate(&oauth2.Token{AccessToken: "T1"}, session.Identity{Email: "elf@northpole.example"})

	require.False(t, s.ClearIf(gen))
	require.Equal(t, session.Authenticated, s.Status())
	require.Equal(t, "T1", s.AccessToken())
}

func TestStore_LoginInProgressIsNotRefreshed(t *testing.T) {
	s := session.NewStore()
	s.BeginAuthentication()

	_, _, ok := s.BeginRefresh()
	require.False(t, ok)
	require.Equal(t, session.Authenticating, s.Status())
}

func TestStore_AbandonAuthentication(t *testing.T) {
	s := session.NewStore()
	s.Authenticate(&oauth2.Token{AccessToken: "T1"}, session.Identity{Email: "elf@northpole.example"})
	require.False(t, s.AbandonAuthentication())
	require.Equal(t, session.Authenticated, s.Status())

	s.BeginAuthentication()
	require.True(t, s.AbandonAuthentication())
	require.Equal(t, session.LoggedOut, s.Status())
}

func TestStore_ConcurrentTransitionsDeliverInOrder(t *testing.T) {
	s := session.NewStore()

	var mu sync.Mutex
	var last session.Status
	s.Subscribe(func(sess session.Session) {
		mu.Lock()
		last = sess.Status
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				s.Authenticate(&oauth2.Token{AccessToken: "T1"}, session.Identity{Email: "elf@northpole.example"})
			} else {
				s.Clear()
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, s.Status(), last)
}

func TestStore_RejectedTransitionIsNotDelivered(t *testing.T) {
	s := session.NewStore()
	s.Authenticate(&oauth2.Token{AccessToken: "T1"}, session.Identity{Email: "elf@northpole.example"})
	gen, _, _ := s.BeginRefresh()
	s.Clear()

	var seen int
	s.Subscribe(func(session.Session) { seen++ })
	require.False(t, s.AuthenticateIf(gen, &oauth2.Token{AccessToken: "T2"}, session.Identity{}))
	require.Zero(t, seen)
}
