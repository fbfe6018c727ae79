package session

import (
	"time"

	"golang.org/x/oauth2"
)

// Status is the position of the process-wide session in the login state machine.
type Status int

const (
	LoggedOut Status = iota
	Authenticating
	Authenticated
	Refreshing
)

func (s Status) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Identity is the signed-in admin as reported by the backend.
type Identity struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

type Session struct {
	// Token is the in-memory access token; nil when absent
	Token    *oauth2.Token
	Identity *Identity
	Status   Status
}

// AccessToken returns the raw access token or an empty string.
func (s Session) AccessToken() string {
	if s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

// ExpiresAt is the known expiry of the access token, zero when unknown.
func (s Session) ExpiresAt() time.Time {
	if s.Token == nil {
		return time.Time{}
	}
	return s.Token.Expiry
}

func (s Session) clone() Session {
	out := Session{Status: s.Status}
	if s.Token != nil {
		tok := *s.Token
		out.Token = &tok
	}
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	return out
}
