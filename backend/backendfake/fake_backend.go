// Package backendfake is an in-process stand-in for the kiosk backend's
// auth API. It issues real HS256 access tokens and a rotating HttpOnly
// refresh cookie so the client side can be exercised end to end.
package backendfake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/lightshow-kiosk/backend"
)

const (
	RefreshCookieName = "refresh_token"
	refreshCookiePath = "/api/auth"
	apiPrefix         = "/api"

	// Routes as seen by the fake, used with Calls
	RouteLogin    = apiPrefix + backend.RouteAuthLogin
	RouteCallback = apiPrefix + backend.RouteAuthCallback
	RouteRefresh  = apiPrefix + backend.RouteAuthRefresh
	RouteMe       = apiPrefix + backend.RouteAuthMe
	RouteLogout   = apiPrefix + backend.RouteAuthLogout
	RouteStatus   = apiPrefix + "/admin/status"
	RouteBanner   = apiPrefix + "/banner"

	holdTimeout = 5 * time.Second
)

type credential struct {
	hash  []byte
	email string
}

// barrier holds rejected protected calls until n of them have arrived.
type barrier struct {
	n       int
	arrived int
	release chan struct{}
}

type Backend struct {
	Server *httptest.Server

	mu        sync.Mutex
	key       []byte
	accessTTL time.Duration
	allow     map[string]bool
	users     map[string]backend.User
	codes     map[string]string
	creds     map[string]credential
	calls     map[string]int
	bearers   map[string][]string
	lastState string

	backendState bool
	flatIdentity bool
	omitUser     bool
	refreshUser  bool
	failRefresh  bool
	failLogout   bool
	failCallback bool
	refreshHold  chan struct{}
	rejectHold   *barrier
}

// New starts a fake backend that is shut down when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		key:       []byte(uuid.NewString()),
		accessTTL: 15 * time.Minute,
		allow:     make(map[string]bool),
		users:     make(map[string]backend.User),
		codes:     make(map[string]string),
		creds:     make(map[string]credential),
		calls:     make(map[string]int),
		bearers:   make(map[string][]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+RouteLogin, b.count(RouteLogin, b.handleLogin))
	mux.HandleFunc("POST "+RouteCallback, b.count(RouteCallback, b.handleCallback))
	mux.HandleFunc("POST "+RouteRefresh, b.count(RouteRefresh, b.handleRefresh))
	mux.HandleFunc("GET "+RouteMe, b.count(RouteMe, b.handleMe))
	mux.HandleFunc("POST "+RouteLogout, b.count(RouteLogout, b.handleLogout))
	mux.HandleFunc("GET "+RouteStatus, b.count(RouteStatus, b.handleStatus))
	mux.HandleFunc("GET "+RouteBanner, b.count(RouteBanner, b.handleBanner))

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the API base URL the kiosk should be configured with.
func (b *Backend) URL() string {
	return b.Server.URL + apiPrefix
}

// AddUser registers an account at the fake identity provider.
func (b *Backend) AddUser(u backend.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[u.Email] = u
}

// Allow restricts sign-in to the given emails. With no allow list every
// known user may sign in.
func (b *Backend) Allow(emails ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range emails {
		b.allow[e] = true
	}
}

// IssueCode plays the identity provider: it returns an authorization code
// for email, as if the user had consented.
func (b *Backend) IssueCode(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	code := uuid.NewString()
	b.codes[code] = email
	return code
}

func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// Bearers lists the access token each call to route carried, in arrival
// order; an empty entry is a call without one.
func (b *Backend) Bearers(route string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bearers[route]...)
}

// LastState is the state the kiosk sent with its last login-url request,
// or the one the fake generated when UseBackendState is on.
func (b *Backend) LastState() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastState
}

// ExpireAccessTokens invalidates every access token issued so far.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.key = []byte(uuid.NewString())
}

// RevokeRefreshCredentials forgets every refresh credential.
func (b *Backend) RevokeRefreshCredentials() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creds = make(map[string]credential)
}

func (b *Backend) UseBackendState(on bool) { b.set(func() { b.backendState = on }) }
func (b *Backend) UseFlatIdentity(on bool) { b.set(func() { b.flatIdentity = on }) }

// OmitCallbackUser leaves identity out of the callback response, so the
// client has to ask /auth/me.
func (b *Backend) OmitCallbackUser(on bool) { b.set(func() { b.omitUser = on }) }
func (b *Backend) RefreshReturnsUser(on bool) {
	b.set(func() { b.refreshUser = on })
}
func (b *Backend) FailRefresh(on bool)  { b.set(func() { b.failRefresh = on }) }
func (b *Backend) FailLogout(on bool)   { b.set(func() { b.failLogout = on }) }
func (b *Backend) FailCallback(on bool) { b.set(func() { b.failCallback = on }) }

// HoldRefresh blocks refresh requests until release is called.
func (b *Backend) HoldRefresh() (release func()) {
	ch := make(chan struct{})
	b.set(func() { b.refreshHold = ch })
	var once sync.Once
	return func() {
		once.Do(func() {
			b.set(func() { b.refreshHold = nil })
			close(ch)
		})
	}
}

// HoldRejections delays 401 responses from the protected status endpoint
// until n rejected requests have arrived, so they fail together.
func (b *Backend) HoldRejections(n int) {
	b.set(func() { b.rejectHold = &barrier{n: n, release: make(chan struct{})} })
}

func (b *Backend) set(fn func()) {
	b.mu.Lock()
	fn()
	b.mu.Unlock()
}

func (b *Backend) count(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[route]++
		b.bearers[route] = append(b.bearers[route], strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		b.mu.Unlock()
		next(w, r)
	}
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")

	b.mu.Lock()
	if b.backendState || state == "" {
		state = uuid.NewString()
	}
	b.lastState = state
	b.mu.Unlock()

	consent := b.Server.URL + "/provider/consent?" + url.Values{"state": {state}}.Encode()
	writeJSON(w, http.StatusOK, backend.LoginURLResponse{AuthorizationURL: consent, State: state})
}

func (b *Backend) handleCallback(w http.ResponseWriter, r *http.Request) {
	var in backend.CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	b.mu.Lock()
	email, ok := b.codes[in.Code]
	delete(b.codes, in.Code)
	fail, omitUser := b.failCallback, b.omitUser
	b.mu.Unlock()

	if fail || !ok {
		writeDetail(w, http.StatusUnauthorized, "invalid authorization code")
		return
	}
	user, err := b.authorizedUser(email)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, err.Error())
		return
	}

	if err := b.setRefreshCookie(w, email); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	b.writeToken(w, user, !omitUser)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	hold := b.refreshHold
	fail := b.failRefresh
	b.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-time.After(holdTimeout):
		}
	}
	if fail {
		writeDetail(w, http.StatusUnauthorized, "Session expired. Please sign in again.")
		return
	}

	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "missing refresh credential")
		return
	}
	email, ok := b.redeem(cookie.Value)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "invalid refresh credential")
		return
	}
	user, err := b.authorizedUser(email)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, err.Error())
		return
	}

	if err := b.setRefreshCookie(w, email); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	b.mu.Lock()
	withUser := b.refreshUser
	b.mu.Unlock()
	b.writeToken(w, user, withUser)
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := b.bearerUser(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Missing or invalid authorization header")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	fail := b.failLogout
	b.mu.Unlock()
	if fail {
		writeDetail(w, http.StatusBadGateway, "revocation unavailable")
		return
	}

	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		if id, _, ok := strings.Cut(cookie.Value, "."); ok {
			b.mu.Lock()
			delete(b.creds, id)
			b.mu.Unlock()
		}
	}
	http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Path: refreshCookiePath, MaxAge: -1, HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := b.bearerUser(r)
	if !ok {
		b.waitForRejections()
		writeDetail(w, http.StatusUnauthorized, "Token has expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "playing", "operator": user.Email})
}

func (b *Backend) handleBanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"banner": "Tune to 88.7 FM"})
}

func (b *Backend) waitForRejections() {
	b.mu.Lock()
	br := b.rejectHold
	if br == nil {
		b.mu.Unlock()
		return
	}
	br.arrived++
	if br.arrived >= br.n {
		close(br.release)
		b.rejectHold = nil
	}
	b.mu.Unlock()

	select {
	case <-br.release:
	case <-time.After(holdTimeout):
	}
}

func (b *Backend) authorizedUser(email string) (backend.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.users[email]
	if !ok {
		return backend.User{}, errUnknownUser
	}
	if len(b.allow) > 0 && !b.allow[email] {
		return backend.User{}, errNotAllowed(email)
	}
	return user, nil
}

// setRefreshCookie issues a fresh credential "<id>.<secret>"; only a bcrypt
// hash of the secret is kept.
func (b *Backend) setRefreshCookie(w http.ResponseWriter, email string) error {
	id, secret := uuid.NewString(), uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.creds[id] = credential{hash: hash, email: email}
	b.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    id + "." + secret,
		Path:     refreshCookiePath,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int((60 * 24 * time.Hour).Seconds()),
	})
	return nil
}

// redeem consumes a refresh credential; rotation means it is valid once.
func (b *Backend) redeem(value string) (string, bool) {
	id, secret, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}

	b.mu.Lock()
	cred, ok := b.creds[id]
	delete(b.creds, id)
	b.mu.Unlock()
	if !ok {
		return "", false
	}
	if err := bcrypt.CompareHashAndPassword(cred.hash, []byte(secret)); err != nil {
		return "", false
	}
	return cred.email, true
}

func (b *Backend) writeToken(w http.ResponseWriter, user backend.User, withUser bool) {
	b.mu.Lock()
	key, ttl, flat := b.key, b.accessTTL, b.flatIdentity
	b.mu.Unlock()

	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.Email,
		"name": user.Name,
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}).SignedString(key)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := backend.TokenResponse{AccessToken: signed, TokenType: "bearer", ExpiresIn: int(ttl.Seconds())}
	switch {
	case withUser && flat:
		resp.UserEmail, resp.UserName, resp.UserPicture = user.Email, user.Name, user.Picture
	case withUser:
		u := user
		resp.User = &u
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) bearerUser(r *http.Request) (backend.User, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return backend.User{}, false
	}

	b.mu.Lock()
	key := b.key
	b.mu.Unlock()

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return backend.User{}, false
	}

	email, _ := claims.GetSubject()
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.users[email]
	return user, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
