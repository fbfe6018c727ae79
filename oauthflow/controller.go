// Package oauthflow drives the kiosk's side of the OAuth2 authorization-code
// flow: login redirect, callback verification, token refresh and logout.
// It is the only writer of the session store.
package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/lightshow-kiosk/backend"
	apperrors "github.com/jrsteele09/lightshow-kiosk/internal/errors"
	"github.com/jrsteele09/lightshow-kiosk/nonce"
	"github.com/jrsteele09/lightshow-kiosk/session"
)

var (
	errLoginInProgress = fmt.Errorf("[Controller Refresh] login in progress: %w", apperrors.ErrNotAuthenticated)
	errSessionEnded    = fmt.Errorf("[Controller Refresh] session ended during refresh: %w", apperrors.ErrNotAuthenticated)
)

const (
	refreshKey = "refresh"

	// Completed callback attempts remembered for duplicate dispatch
	maxRememberedCallbacks = 8
)

// Backend is the subset of the backend contract the controller depends on.
type Backend interface {
	LoginURL(ctx context.Context, state string) (backend.LoginURLResponse, error)
	ExchangeCode(ctx context.Context, code, state string) (backend.TokenResponse, error)
	Refresh(ctx context.Context) (backend.TokenResponse, error)
	Me(ctx context.Context, token string) (session.Identity, error)
	Logout(ctx context.Context) error
}

// callbackAttempt records one CompleteCallback execution. done is closed
// once identity and err are final.
type callbackAttempt struct {
	done     chan struct{}
	identity session.Identity
	err      error
}

type Controller struct {
	backend Backend
	store   *session.Store
	nonces  *nonce.Store

	refreshes singleflight.Group

	mu        sync.Mutex
	callbacks map[string]*callbackAttempt
	order     []string
}

func New(b Backend, store *session.Store, nonces *nonce.Store) (*Controller, error) {
	if b == nil {
		return nil, errors.New("[oauthflow New] backend is required")
	}
	if store == nil {
		return nil, errors.New("[oauthflow New] session store is required")
	}
	if nonces == nil {
		return nil, errors.New("[oauthflow New] nonce store is required")
	}
	return &Controller{
		backend:   b,
		store:     store,
		nonces:    nonces,
		callbacks: make(map[string]*callbackAttempt),
	}, nil
}

// BeginLogin issues a fresh nonce, asks the backend for the provider's
// consent URL and moves the session to Authenticating. The caller redirects
// to the returned URL.
func (c *Controller) BeginLogin(ctx context.Context) (string, error) {
	state, err := c.nonces.Issue()
	if err != nil {
		return "", fmt.Errorf("[Controller BeginLogin] %w", err)
	}

	resp, err := c.backend.LoginURL(ctx, state)
	if err != nil {
		c.nonces.Reset()
		return "", fmt.Errorf("[Controller BeginLogin] %w", err)
	}

	// The backend may generate its own state; that is what the provider
	// will echo back.
	if resp.State != "" && resp.State != state {
		if err := c.nonces.Adopt(resp.State); err != nil {
			return "", fmt.Errorf("[Controller BeginLogin] %w", err)
		}
		log.Debug().Msg("adopted backend issued login state")
	}

	c.store.BeginAuthentication()
	log.Info().Msg("login started")
	return resp.Target(), nil
}

// CancelLogin abandons the login attempt in flight, e.g. when the provider
// reports an error instead of a code.
func (c *Controller) CancelLogin() {
	c.nonces.Reset()
	c.abandonAttempt()
}

// CompleteCallback verifies state and exchanges code for a session.
// Duplicate invocations with the same arguments share the first one's
// result and never repeat the exchange.
func (c *Controller) CompleteCallback(ctx context.Context, code, state string) (session.Identity, error) {
	key := code + "\x00" + state

	c.mu.Lock()
	if attempt, ok := c.callbacks[key]; ok {
		c.mu.Unlock()
		log.Debug().Msg("duplicate callback dispatch")
		select {
		case <-attempt.done:
			return attempt.identity, attempt.err
		case <-ctx.Done():
			return session.Identity{}, ctx.Err()
		}
	}
	attempt := &callbackAttempt{done: make(chan struct{})}
	c.remember(key, attempt)
	c.mu.Unlock()

	attempt.identity, attempt.err = c.completeCallback(ctx, code, state)
	close(attempt.done)
	return attempt.identity, attempt.err
}

// remember must be called with mu held.
func (c *Controller) remember(key string, attempt *callbackAttempt) {
	c.callbacks[key] = attempt
	c.order = append(c.order, key)
	if len(c.order) > maxRememberedCallbacks {
		delete(c.callbacks, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *Controller) completeCallback(ctx context.Context, code, state string) (session.Identity, error) {
	if code == "" || state == "" {
		c.nonces.Reset()
		c.abandonAttempt()
		return session.Identity{}, apperrors.ErrMissingCallbackParams
	}

	if !c.nonces.Consume(state) {
		c.abandonAttempt()
		log.Warn().Msg("callback state does not match the pending login")
		return session.Identity{}, apperrors.ErrStateMismatch
	}

	resp, err := c.backend.ExchangeCode(ctx, code, state)
	if err != nil {
		c.abandonAttempt()
		log.Warn().Err(err).Msg("code exchange failed")
		return session.Identity{}, apperrors.Tag(apperrors.ErrCallbackExchangeFailed, err)
	}

	identity, ok := resp.Identity()
	if !ok {
		identity, err = c.backend.Me(ctx, resp.AccessToken)
		if err != nil {
			c.abandonAttempt()
			return session.Identity{}, apperrors.Tag(apperrors.ErrCallbackExchangeFailed, err)
		}
	}

	tok := resp.Token()
	c.store.Authenticate(tok, identity)
	log.Info().Str("email", identity.Email).Time("expires_at", tok.Expiry).Msg("login completed")
	return identity, nil
}

// abandonAttempt returns a pending login to LoggedOut. An established
// session is left alone, so a stray callback cannot log the operator out.
func (c *Controller) abandonAttempt() {
	c.store.AbandonAuthentication()
}

// Refresh obtains a new access token with the refresh credential held by
// the transport. Concurrent calls share one network round trip. On failure
// the session is cleared and the error matches ErrRefreshFailed. A refresh
// never writes over a login in progress or a session that ended while it
// was in flight; the error then matches ErrNotAuthenticated.
func (c *Controller) Refresh(ctx context.Context) (string, error) {
	return c.refresh(ctx, func(ctx context.Context) (string, error) {
		return c.doRefresh(ctx)
	})
}

// RefreshRejected is Refresh for a caller whose request was refused with
// rejected. If the session already holds a different token, someone else
// has refreshed in the meantime and that token is returned as is.
func (c *Controller) RefreshRejected(ctx context.Context, rejected string) (string, error) {
	return c.refresh(ctx, func(ctx context.Context) (string, error) {
		if current := c.store.AccessToken(); current != "" && current != rejected {
			log.Debug().Msg("token already refreshed, reusing it")
			return current, nil
		}
		return c.doRefresh(ctx)
	})
}

// refresh runs fn at most once at a time. The shared execution is detached
// from the caller's cancellation; each caller still stops waiting when its
// own context ends.
func (c *Controller) refresh(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.refreshes.DoChan(refreshKey, func() (any, error) {
		return fn(shared)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Controller) doRefresh(ctx context.Context) (string, error) {
	gen, previous, ok := c.store.BeginRefresh()
	if !ok {
		return "", errLoginInProgress
	}

	resp, err := c.backend.Refresh(ctx)
	if err != nil {
		if !c.store.ClearIf(gen) {
			return c.superseded()
		}
		log.Info().Err(err).Msg("session refresh failed")
		return "", apperrors.Tag(apperrors.ErrRefreshFailed, err)
	}

	identity, ok := resp.Identity()
	if !ok {
		identity, err = c.backend.Me(ctx, resp.AccessToken)
		switch {
		case err == nil:
		case previous != nil:
			log.Warn().Err(err).Msg("identity lookup failed after refresh, keeping previous identity")
			identity = *previous
		default:
			if !c.store.ClearIf(gen) {
				return c.superseded()
			}
			return "", apperrors.Tag(apperrors.ErrRefreshFailed, err)
		}
	}

	tok := resp.Token()
	if !c.store.AuthenticateIf(gen, tok, identity) {
		return c.superseded()
	}
	log.Debug().Str("email", identity.Email).Time("expires_at", tok.Expiry).Msg("session refreshed")
	return tok.AccessToken, nil
}

// superseded resolves a refresh whose session was replaced while it was in
// flight, by a login or a logout. Its outcome is discarded; a token from a
// newer login is handed out instead.
func (c *Controller) superseded() (string, error) {
	snap := c.store.Snapshot()
	if snap.Status == session.Authenticated && snap.AccessToken() != "" {
		log.Debug().Msg("session replaced during refresh, using the newer token")
		return snap.AccessToken(), nil
	}
	log.Debug().Str("status", snap.Status.String()).Msg("session ended during refresh, result discarded")
	return "", errSessionEnded
}

// Logout asks the backend to revoke the refresh credential and always
// leaves the session LoggedOut. The returned error only reports that the
// revocation could not be confirmed.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.backend.Logout(ctx)

	c.store.Clear()
	c.nonces.Reset()
	c.mu.Lock()
	c.callbacks = make(map[string]*callbackAttempt)
	c.order = nil
	c.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("logout revocation failed, session cleared locally")
		return fmt.Errorf("[Controller Logout] %w", err)
	}
	log.Info().Msg("logged out")
	return nil
}
