package gateway_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jrsteele09/lightshow-kiosk/gateway"
	"github.com/jrsteele09/lightshow-kiosk/gateway/mocks"
	apperrors "github.com/jrsteele09/lightshow-kiosk/internal/errors"
)

const (
	testLoginPath    = "/login"
	testCallbackPath = "/oauth-callback"
)

// seenRequest is what the test backend observed for one call.
type seenRequest struct {
	Path          string
	Authorization string
	RequestID     string
}

// testBackend accepts only the bearer tokens in valid.
type testBackend struct {
	mu     sync.Mutex
	valid  map[string]bool
	status int
	seen   []seenRequest
	server *httptest.Server
}

func newTestBackend(t *testing.T, validTokens ...string) *testBackend {
	t.Helper()

	b := &testBackend{valid: make(map[string]bool), status: http.StatusOK}
	for _, tok := range validTokens {
		b.valid[tok] = true
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.server.Close)
	return b
}

func (b *testBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.seen = append(b.seen, seenRequest{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get(gateway.HeaderRequestID),
	})
	status := b.status
	auth := r.Header.Get("Authorization")
	ok := len(auth) > len("Bearer ") && b.valid[auth[len("Bearer "):]]
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Token has expired"}`))
		return
	}
	w.WriteHeader(status)
	w.Write([]byte(`{"queue":["Carol of the Bells"]}`))
}

func (b *testBackend) requests() []seenRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]seenRequest(nil), b.seen...)
}

// staticTokens is a TokenReader returning a fixed token.
type staticTokens string

func (s staticTokens) AccessToken() string { return string(s) }

func newGateway(t *testing.T, b *testBackend, token string) *gateway.Gateway {
	t.Helper()
	gw, err := gateway.New(b.server.Client(), b.server.URL+"/api", staticTokens(token))
	require.NoError(t, err)
	return gw
}

func TestGateway_AttachesBearerAndRequestID(t *testing.T) {
	b := newTestBackend(t, "T1")
	gw := newGateway(t, b, "T1")

	req := gateway.NewRequest(http.MethodGet, "/songs/queue")
	resp, err := gw.Do(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Contains(t, string(resp.Body), "Carol of the Bells")

	seen := b.requests()
	require.Len(t, seen, 1)
	require.Equal(t, "/api/songs/queue", seen[0].Path)
	require.Equal(t, "Bearer T1", seen[0].Authorization)
	require.Equal(t, req.ID(), seen[0].RequestID)
	require.NotEmpty(t, req.ID())
	require.False(t, req.Retried())
}

func TestGateway_NoTokenNoHeader(t *testing.T) {
	b := newTestBackend(t)
	gw := newGateway(t, b, "")

	_, err := gw.Do(context.Background(), gateway.NewRequest(http.MethodGet, "/banner"))
	require.Error(t, err)

	seen := b.requests()
	require.Len(t, seen, 1)
	require.Empty(t, seen[0].Authorization)
}

func TestGateway_NonAuthStatusPassesThrough(t *testing.T) {
	b := newTestBackend(t, "T1")
	b.status = http.StatusServiceUnavailable
	gw := newGateway(t, b, "T1")

	resp, err := gw.Do(context.Background(), gateway.NewRequest(http.MethodPost, "/admin/stop"))
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.False(t, resp.OK())
}

func TestGateway_RefreshAndRetryOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	refresher := mocks.NewMockRefresher(ctrl)

	b := newTestBackend(t, "T2")
	gw := newGateway(t, b, "T1")
	gw.UseRefresher(refresher)

	refresher.EXPECT().RefreshRejected(gomock.Any(), "T1").Return("T2", nil).Times(1)

	req := gateway.NewRequest(http.MethodGet, "/admin/status")
	resp, err := gw.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, req.Retried())

	seen := b.requests()
	require.Len(t, seen, 2)
	require.Equal(t, "Bearer T1", seen[0].Authorization)
	require.Equal(t, "Bearer T2", seen[1].Authorization)
	require.Equal(t, seen[0].RequestID, seen[1].RequestID)
}

func TestGateway_NeverRetriesTwice(t *testing.T) {
	ctrl := gomock.NewController(t)
	refresher := mocks.NewMockRefresher(ctrl)

	// The refreshed token is still rejected.
	b := newTestBackend(t)
	gw := newGateway(t, b, "T1")
	gw.UseRefresher(refresher)

	refresher.EXPECT().RefreshRejected(gomock.Any(), "T1").Return("T2", nil).Times(1)

	req := gateway.NewRequest(http.MethodGet, "/admin/status")
	_, err := gw.Do(context.Background(), req)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrAuthorizationFailure))

	var statusErr *gateway.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.Equal(t, "Token has expired", statusErr.Detail)
	require.Len(t, b.requests(), 2)

	// Reissuing the spent request does not earn another refresh.
	_, err = gw.Do(context.Background(), req)
	require.True(t, apperrors.Is(err, apperrors.ErrAuthorizationFailure))
	require.Len(t, b.requests(), 3)
}

func TestGateway_ExemptKindsNeverRefresh(t *testing.T) {
	for _, kind := range []gateway.Kind{gateway.RefreshCall, gateway.NoRefresh} {
		ctrl := gomock.NewController(t)
		refresher := mocks.NewMockRefresher(ctrl)

		b := newTestBackend(t)
		gw := newGateway(t, b, "T1")
		gw.UseRefresher(refresher)

		req := gateway.NewRequest(http.MethodPost, "/auth/refresh")
		req.Kind = kind
		_, err := gw.Do(context.Background(), req)
		require.True(t, apperrors.Is(err, apperrors.ErrAuthorizationFailure))
		require.False(t, req.Retried())
		require.Len(t, b.requests(), 1)
	}
}

func TestGateway_RefreshCallSendsNoBearer(t *testing.T) {
	b := newTestBackend(t)
	gw := newGateway(t, b, "T1")

	req := gateway.NewRequest(http.MethodPost, "/auth/refresh")
	req.Kind = gateway.RefreshCall
	_, _ = gw.Do(context.Background(), req)

	require.Empty(t, b.requests()[0].Authorization)
}

func TestGateway_ExplicitTokenOverridesSession(t *testing.T) {
	b := newTestBackend(t, "fresh")
	gw := newGateway(t, b, "stale")

	req := gateway.NewRequest(http.MethodGet, "/auth/me")
	req.Kind = gateway.NoRefresh
	req.Token = "fresh"
	_, err := gw.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "Bearer fresh", b.requests()[0].Authorization)
}

func TestGateway_RefreshFailureNavigatesToLogin(t *testing.T) {
	tests := []struct {
		name         string
		currentPath  string
		wantNavigate bool
	}{
		{name: "from admin screen", currentPath: "/admin", wantNavigate: true},
		{name: "already on login", currentPath: testLoginPath, wantNavigate: false},
		{name: "on callback screen", currentPath: testCallbackPath, wantNavigate: false},
		{name: "callback with query", currentPath: testCallbackPath + "?code=c&state=s", wantNavigate: false},
		{name: "screen sharing the login prefix", currentPath: "/login-help", wantNavigate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			refresher := mocks.NewMockRefresher(ctrl)
			nav := mocks.NewMockNavigator(ctrl)

			b := newTestBackend(t)
			gw := newGateway(t, b, "T1")
			gw.UseRefresher(refresher)
			gw.UseNavigator(nav, testLoginPath, testCallbackPath)

			refresher.EXPECT().RefreshRejected(gomock.Any(), "T1").
				Return("", apperrors.Tag(apperrors.ErrRefreshFailed, errors.New("cookie expired")))
			nav.EXPECT().CurrentPath().Return(tt.currentPath)
			if tt.wantNavigate {
				nav.EXPECT().Navigate(testLoginPath)
			}

			_, err := gw.Do(context.Background(), gateway.NewRequest(http.MethodGet, "/admin/status"))
			require.True(t, apperrors.Is(err, apperrors.ErrRefreshFailed))
			require.Len(t, b.requests(), 1)
		})
	}
}

func TestGateway_CancelledRefreshDoesNotNavigate(t *testing.T) {
	ctrl := gomock.NewController(t)
	refresher := mocks.NewMockRefresher(ctrl)
	nav := mocks.NewMockNavigator(ctrl)

	b := newTestBackend(t)
	gw := newGateway(t, b, "T1")
	gw.UseRefresher(refresher)
	gw.UseNavigator(nav, testLoginPath, testCallbackPath)

	refresher.EXPECT().RefreshRejected(gomock.Any(), "T1").Return("", context.Canceled)

	_, err := gw.Do(context.Background(), gateway.NewRequest(http.MethodGet, "/admin/status"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestGateway_NetworkError(t *testing.T) {
	b := newTestBackend(t)
	gw := newGateway(t, b, "T1")
	b.server.Close()

	_, err := gw.Do(context.Background(), gateway.NewRequest(http.MethodGet, "/banner"))
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrNetwork))
}

func TestGateway_OversizedBodyIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 10<<20+1))
	}))
	t.Cleanup(server.Close)
	gw, err := gateway.New(server.Client(), server.URL, staticTokens(""))
	require.NoError(t, err)

	_, err = gw.Do(context.Background(), gateway.NewRequest(http.MethodGet, "/playlist/export"))
	require.ErrorIs(t, err, gateway.ErrResponseTooLarge)
}

func TestGateway_BodyAtLimitIsRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 10<<20))
	}))
	t.Cleanup(server.Close)
	gw, err := gateway.New(server.Client(), server.URL, staticTokens(""))
	require.NoError(t, err)

	resp, err := gw.Do(context.Background(), gateway.NewRequest(http.MethodGet, "/playlist/export"))
	require.NoError(t, err)
	require.Len(t, resp.Body, 10<<20)
}

func TestOnScreen(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "/login", want: true},
		{path: "/login?next=/admin", want: true},
		{path: "/login/", want: true},
		{path: "/login-help", want: false},
		{path: "/loginx", want: false},
		{path: "/admin", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.want, gateway.OnScreen(tt.path, "/login"))
		})
	}
	require.False(t, gateway.OnScreen("/admin", ""))
}

func TestGateway_JSONBody(t *testing.T) {
	var gotType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	gw, err := gateway.New(server.Client(), server.URL, staticTokens(""))
	require.NoError(t, err)

	req, err := gateway.NewRequest(http.MethodPost, "/auth/callback").JSON(map[string]string{"code": "c", "state": "s"})
	require.NoError(t, err)
	resp, err := gw.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "application/json", gotType)
	require.JSONEq(t, `{"code":"c","state":"s"}`, gotBody)
}

func TestDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "fastapi detail", body: `{"detail":"User elf@example.com is not authorized"}`, want: "User elf@example.com is not authorized"},
		{name: "oauth error description", body: `{"error":"invalid_grant","error_description":"code expired"}`, want: "code expired"},
		{name: "oauth error only", body: `{"error":"invalid_grant"}`, want: "invalid_grant"},
		{name: "validation list", body: `{"detail":[{"loc":["body","code"],"msg":"field required"}]}`, want: "field required"},
		{name: "not json", body: `<html>bad gateway</html>`, want: ""},
		{name: "empty", body: ``, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, gateway.Detail([]byte(tt.body)))
		})
	}
}

func TestStatusError_Unwrap(t *testing.T) {
	unauthorized := &gateway.StatusError{StatusCode: http.StatusUnauthorized}
	require.True(t, apperrors.Is(unauthorized, apperrors.ErrAuthorizationFailure))

	forbidden := &gateway.StatusError{StatusCode: http.StatusForbidden, Detail: "not on allow list"}
	require.False(t, apperrors.Is(forbidden, apperrors.ErrAuthorizationFailure))
	require.EqualError(t, forbidden, "backend returned 403: not on allow list")
}
