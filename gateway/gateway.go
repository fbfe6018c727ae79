// Package gateway wraps every outbound backend call. It attaches the
// current access token and recovers from an authorization failure with at
// most one refresh-and-retry per call.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	apperrors "github.com/jrsteele09/lightshow-kiosk/internal/errors"
)

const (
	tracerName   = "github.com/jrsteele09/lightshow-kiosk/gateway"
	maxBodyBytes = 10 << 20
)

// ErrResponseTooLarge is returned for backend bodies over the read limit.
var ErrResponseTooLarge = errors.New("response body too large")

type Gateway struct {
	client  *http.Client
	baseURL *url.URL
	tokens  TokenReader
	tracer  trace.Tracer

	mu           sync.RWMutex
	refresher    Refresher
	navigator    Navigator
	loginPath    string
	callbackPath string
}

func New(client *http.Client, baseURL string, tokens TokenReader) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("[Gateway New] invalid base url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{
		client:  client,
		baseURL: u,
		tokens:  tokens,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// UseRefresher wires the refresh operation. The refresher is created after
// the gateway because its own backend calls go through the gateway.
func (g *Gateway) UseRefresher(r Refresher) {
	g.mu.Lock()
	g.refresher = r
	g.mu.Unlock()
}

// UseNavigator enables the redirect to loginPath after an unrecoverable
// refresh failure. No redirect happens while the UI is on the login or
// callback screen.
func (g *Gateway) UseNavigator(n Navigator, loginPath, callbackPath string) {
	g.mu.Lock()
	g.navigator = n
	g.loginPath = loginPath
	g.callbackPath = callbackPath
	g.mu.Unlock()
}

// Do sends req. Non-2xx statuses other than 401 come back as a Response;
// a 401 that cannot be recovered comes back as a *StatusError.
func (g *Gateway) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.id == "" {
		req.id = uuid.NewString()
	}

	ctx, span := g.tracer.Start(ctx, "gateway.Do", trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("kiosk.path", req.Path),
		attribute.String("kiosk.request_id", req.id),
	))
	defer span.End()

	resp, err := g.do(ctx, req)

	span.SetAttributes(attribute.Bool("kiosk.retried", req.retried))
	if resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (g *Gateway) do(ctx context.Context, req *Request) (*Response, error) {
	sent := g.tokenFor(req)

	resp, err := g.send(ctx, req, sent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	authErr := NewStatusError(resp, req.id)
	if req.Kind != Normal || req.retried {
		return nil, authErr
	}

	g.mu.RLock()
	refresher := g.refresher
	g.mu.RUnlock()
	if refresher == nil {
		return nil, authErr
	}

	req.retried = true
	log.Debug().Str("request_id", req.id).Str("path", req.Path).Msg("authorization failure, refreshing session")

	fresh, err := refresher.RefreshRejected(ctx, sent)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrRefreshFailed) {
			g.redirectToLogin()
		}
		return nil, err
	}

	resp, err = g.send(ctx, req, fresh)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		log.Warn().Str("request_id", req.id).Str("path", req.Path).Msg("authorization failure after refresh")
		return nil, NewStatusError(resp, req.id)
	}
	return resp, nil
}

func (g *Gateway) tokenFor(req *Request) string {
	if req.Token != "" {
		return req.Token
	}
	// The refresh call authenticates with the transport-held credential only
	if req.Kind == RefreshCall || g.tokens == nil {
		return ""
	}
	return g.tokens.AccessToken()
}

func (g *Gateway) send(ctx context.Context, req *Request, token string) (*Response, error) {
	u := g.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("[Gateway send] build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	httpReq.Header.Set(HeaderRequestID, req.id)
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(httpReq)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Tag(apperrors.ErrNetwork, err)
	}
	defer httpResp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperrors.Tag(apperrors.ErrNetwork, fmt.Errorf("reading response body: %w", err))
	}
	if len(b) > maxBodyBytes {
		return nil, fmt.Errorf("[Gateway send] %s response body exceeds %d bytes: %w", req.Path, maxBodyBytes, ErrResponseTooLarge)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       b,
	}, nil
}

func (g *Gateway) redirectToLogin() {
	g.mu.RLock()
	nav, loginPath, callbackPath := g.navigator, g.loginPath, g.callbackPath
	g.mu.RUnlock()
	if nav == nil {
		return
	}

	current := nav.CurrentPath()
	if OnScreen(current, loginPath) || OnScreen(current, callbackPath) {
		return
	}
	nav.Navigate(loginPath)
}

// OnScreen reports whether path shows screen: the screen itself, one of its
// subpaths, or the screen with a query.
func OnScreen(path, screen string) bool {
	if screen == "" {
		return false
	}
	rest, ok := strings.CutPrefix(path, screen)
	if !ok {
		return false
	}
	return rest == "" || strings.ContainsRune("/?#", rune(rest[0]))
}
