package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/lightshow-kiosk/session"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// LoginURLResponse is returned by GET /auth/login.
type LoginURLResponse struct {
	// AuthorizationURL is the identity provider consent page
	AuthorizationURL string `json:"authorization_url,omitempty"`
	URL              string `json:"url,omitempty"`

	// State is set when the backend generated the OAuth state itself
	State string `json:"state,omitempty"`
}

// Target returns whichever redirect field the backend filled in.
func (l LoginURLResponse) Target() string {
	if l.AuthorizationURL != "" {
		return l.AuthorizationURL
	}
	return l.URL
}

type CallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type User struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// TokenResponse is returned by the callback and refresh endpoints. A refresh
// credential is never part of it: it travels as an HttpOnly cookie.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`

	User *User `json:"user,omitempty"`

	// Flat identity fields some backend versions send instead of user
	UserEmail   string `json:"user_email,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	UserPicture string `json:"user_picture,omitempty"`
}

// Identity returns the identity carried by the response, if any.
func (t TokenResponse) Identity() (session.Identity, bool) {
	if t.User != nil && t.User.Email != "" {
		return session.Identity{Email: t.User.Email, Name: t.User.Name, Picture: t.User.Picture}, true
	}
	if t.UserEmail != "" {
		return session.Identity{Email: t.UserEmail, Name: t.UserName, Picture: t.UserPicture}, true
	}
	return session.Identity{}, false
}

// Token converts the response into the in-memory token representation.
func (t TokenResponse) Token() *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken: t.AccessToken,
		TokenType:   tokenType,
		Expiry:      tokenExpiry(t.AccessToken, t.ExpiresIn),
	}
}

// tokenExpiry reads the exp claim of a JWT access token without verifying
// it; the value is informational only. Opaque tokens fall back to expires_in.
func tokenExpiry(raw string, expiresIn int) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if expiresIn > 0 {
		return NowTimeFunc().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Time{}
}
