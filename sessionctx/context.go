// Package sessionctx is the read-only, observable view of the session that
// the kiosk screens render from. It holds no state of its own beyond the
// startup loading flag.
package sessionctx

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/lightshow-kiosk/gateway"
	"github.com/jrsteele09/lightshow-kiosk/session"
)

// Snapshot is what a screen needs to know about the session.
type Snapshot struct {
	Identity      *session.Identity `json:"identity"`
	Loading       bool              `json:"loading"`
	Authenticated bool              `json:"authenticated"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
}

// Refresher performs the silent startup refresh.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

type Context struct {
	reader       session.Reader
	refresher    Refresher
	loginPath    string
	callbackPath string

	startOnce sync.Once
	loadOnce  sync.Once
	ready     chan struct{}
	cancel    context.CancelFunc

	// publishMu keeps the loading flip in order with store transitions
	publishMu sync.Mutex

	mu          sync.RWMutex
	loading     bool
	stopped     bool
	unsubscribe func()
	listeners   map[int]func(Snapshot)
	nextID      int
}

func New(reader session.Reader, refresher Refresher, loginPath, callbackPath string) *Context {
	return &Context{
		reader:       reader,
		refresher:    refresher,
		loginPath:    loginPath,
		callbackPath: callbackPath,
		ready:        make(chan struct{}),
		loading:      true,
		listeners:    make(map[int]func(Snapshot)),
	}
}

func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	loading := c.loading
	c.mu.RUnlock()
	return project(c.reader.Snapshot(), loading)
}

// Subscribe registers fn to be called with every new snapshot.
func (c *Context) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Ready is closed once the startup refresh has resolved.
func (c *Context) Ready() <-chan struct{} {
	return c.ready
}

// Start attaches to the session store and, unless currentPath is the login
// or callback screen, attempts one silent refresh in the background. Only
// the first call has any effect.
func (c *Context) Start(ctx context.Context, currentPath string) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			c.finishLoading()
			return
		}
		c.unsubscribe = c.reader.Subscribe(c.onSessionChange)
		ctx, c.cancel = context.WithCancel(ctx)
		c.mu.Unlock()

		if c.onAuthScreen(currentPath) {
			log.Debug().Str("path", currentPath).Msg("skipping startup refresh on auth screen")
			c.finishLoading()
			return
		}

		go func() {
			defer c.finishLoading()
			if _, err := c.refresher.Refresh(ctx); err != nil {
				// Expected on a first visit
				log.Debug().Err(err).Msg("no session to restore")
				return
			}
			log.Info().Msg("session restored")
		}()
	})
}

// Stop detaches from the session store and drops all listeners.
func (c *Context) Stop() {
	c.mu.Lock()
	c.stopped = true
	unsubscribe, cancel := c.unsubscribe, c.cancel
	c.unsubscribe = nil
	c.listeners = make(map[int]func(Snapshot))
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Context) onAuthScreen(path string) bool {
	return gateway.OnScreen(path, c.loginPath) || gateway.OnScreen(path, c.callbackPath)
}

func (c *Context) finishLoading() {
	c.loadOnce.Do(func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
		close(c.ready)

		c.publishMu.Lock()
		defer c.publishMu.Unlock()
		c.publish(c.reader.Snapshot())
	})
}

func (c *Context) onSessionChange(sess session.Session) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	c.publish(sess)
}

func (c *Context) publish(sess session.Session) {
	c.mu.RLock()
	if c.stopped {
		c.mu.RUnlock()
		return
	}
	snap := project(sess, c.loading)
	listeners := make([]func(Snapshot), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.RUnlock()

	for _, l := range listeners {
		l(snap)
	}
}

func project(sess session.Session, loading bool) Snapshot {
	snap := Snapshot{
		Identity: sess.Identity,
		Loading:  loading,
		// The identity is kept while a refresh is in flight
		Authenticated: sess.Identity != nil &&
			(sess.Status == session.Authenticated || sess.Status == session.Refreshing),
	}
	if exp := sess.ExpiresAt(); !exp.IsZero() {
		snap.ExpiresAt = &exp
	}
	return snap
}
