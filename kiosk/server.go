// Package kiosk serves the kiosk display: the public screen, the login and
// callback screens, the admin panel, and the API passthrough to the backend.
package kiosk

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/lightshow-kiosk/gateway"
	"github.com/jrsteele09/lightshow-kiosk/internal/config"
	"github.com/jrsteele09/lightshow-kiosk/session"
	"github.com/jrsteele09/lightshow-kiosk/sessionctx"
)

// Flow is the login flow as driven by the screens.
type Flow interface {
	BeginLogin(ctx context.Context) (string, error)
	CompleteCallback(ctx context.Context, code, state string) (session.Identity, error)
	CancelLogin()
	Logout(ctx context.Context) error
}

// SessionView is the observable session the screens render from.
type SessionView interface {
	Snapshot() sessionctx.Snapshot
	Ready() <-chan struct{}
}

// Doer sends a request to the backend through the gateway.
type Doer interface {
	Do(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
}

// Deps holds the collaborators of the kiosk server.
type Deps struct {
	Flow    Flow
	Session SessionView
	Gateway Doer
	Screen  *Screen
}

type Server struct {
	env     string
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	flow    Flow
	session SessionView
	gateway Doer
	screen  *Screen
	screens map[string]*template.Template
}

func New(c config.Config, deps Deps) (*Server, error) {
	if deps.Flow == nil {
		return nil, errors.New("[kiosk New] flow is required")
	}
	if deps.Session == nil {
		return nil, errors.New("[kiosk New] session view is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("[kiosk New] gateway is required")
	}
	if deps.Screen == nil {
		return nil, errors.New("[kiosk New] screen is required")
	}

	screens, err := parseScreens()
	if err != nil {
		return nil, err
	}

	s := &Server{
		env:     c.GetEnv(),
		mux:     http.NewServeMux(),
		config:  c,
		flow:    deps.Flow,
		session: deps.Session,
		gateway: deps.Gateway,
		screen:  deps.Screen,
		screens: screens,
	}
	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, ok := strings.Cut(route, " ")
		if !ok {
			method, path = "", route
		}
		logRoute(method, path)
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}

// pageData is shared by every screen template.
type pageData struct {
	AppName   string
	LoginPath string
	Session   sessionctx.Snapshot

	Error           string
	Banner          string
	ShowStatus      string
	RedirectTo      string
	RedirectSeconds int
}

func (s *Server) page() pageData {
	return pageData{
		AppName:   s.config.GetAppName(),
		LoginPath: s.config.GetLoginPath(),
		Session:   s.session.Snapshot(),
	}
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := s.screens[name].Execute(&buf, data); err != nil {
		log.Err(err).Str("template", name).Msg("Failed to render template")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
