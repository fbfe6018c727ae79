// Package backend is the typed contract for the backend's /auth endpoints.
// Every call goes through the request gateway.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/jrsteele09/lightshow-kiosk/gateway"
	"github.com/jrsteele09/lightshow-kiosk/session"
)

// Route path constants, relative to the backend base URL
const (
	RouteAuthLogin    = "/auth/login"
	RouteAuthCallback = "/auth/callback"
	RouteAuthRefresh  = "/auth/refresh"
	RouteAuthMe       = "/auth/me"
	RouteAuthLogout   = "/auth/logout"
)

// Doer sends a request through the gateway.
type Doer interface {
	Do(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
}

type Client struct {
	doer Doer
}

func NewClient(doer Doer) *Client {
	return &Client{doer: doer}
}

// LoginURL asks the backend for the provider redirect. state is the
// locally issued nonce; the backend may answer with its own.
func (c *Client) LoginURL(ctx context.Context, state string) (LoginURLResponse, error) {
	req := gateway.NewRequest(http.MethodGet, RouteAuthLogin)
	req.Kind = gateway.NoRefresh
	if state != "" {
		req.Query = url.Values{"state": {state}}
	}

	var out LoginURLResponse
	if err := c.call(ctx, req, &out); err != nil {
		return LoginURLResponse{}, fmt.Errorf("[backend LoginURL] %w", err)
	}
	if out.Target() == "" {
		return LoginURLResponse{}, fmt.Errorf("[backend LoginURL] response has no authorization url")
	}
	return out, nil
}

// ExchangeCode trades an authorization code for an access token. A 401 here
// means the code was rejected, so the call is refresh-exempt.
func (c *Client) ExchangeCode(ctx context.Context, code, state string) (TokenResponse, error) {
	req, err := gateway.NewRequest(http.MethodPost, RouteAuthCallback).JSON(CallbackRequest{Code: code, State: state})
	if err != nil {
		return TokenResponse{}, err
	}
	req.Kind = gateway.NoRefresh

	var out TokenResponse
	if err := c.call(ctx, req, &out); err != nil {
		return TokenResponse{}, fmt.Errorf("[backend ExchangeCode] %w", err)
	}
	if out.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("[backend ExchangeCode] response has no access token")
	}
	return out, nil
}

// Refresh obtains a new access token. The refresh credential is sent by the
// cookie jar, not by this code.
func (c *Client) Refresh(ctx context.Context) (TokenResponse, error) {
	req := gateway.NewRequest(http.MethodPost, RouteAuthRefresh)
	req.Kind = gateway.RefreshCall

	var out TokenResponse
	if err := c.call(ctx, req, &out); err != nil {
		return TokenResponse{}, fmt.Errorf("[backend Refresh] %w", err)
	}
	if out.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("[backend Refresh] response has no access token")
	}
	return out, nil
}

// Me validates token and returns the identity it belongs to.
func (c *Client) Me(ctx context.Context, token string) (session.Identity, error) {
	req := gateway.NewRequest(http.MethodGet, RouteAuthMe)
	req.Kind = gateway.NoRefresh
	req.Token = token

	var out User
	if err := c.call(ctx, req, &out); err != nil {
		return session.Identity{}, fmt.Errorf("[backend Me] %w", err)
	}
	return session.Identity{Email: out.Email, Name: out.Name, Picture: out.Picture}, nil
}

// Logout asks the backend to invalidate the refresh credential.
func (c *Client) Logout(ctx context.Context) error {
	req := gateway.NewRequest(http.MethodPost, RouteAuthLogout)
	req.Kind = gateway.NoRefresh

	if err := c.call(ctx, req, nil); err != nil {
		return fmt.Errorf("[backend Logout] %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, req *gateway.Request, out any) error {
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return gateway.NewStatusError(resp, req.ID())
	}
	if gjson.GetBytes(resp.Body, "refresh_token").Exists() {
		log.Warn().Str("path", req.Path).Msg("backend sent a refresh token in the response body; ignored")
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.Path, err)
	}
	return nil
}
