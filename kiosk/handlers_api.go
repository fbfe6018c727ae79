package kiosk

import (
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/lightshow-kiosk/gateway"
	apperrors "github.com/jrsteele09/lightshow-kiosk/internal/errors"
)

const (
	maxProxyBodyBytes = 1 << 20
	backendAuthPrefix = "/auth"
)

// SessionHandler returns the session snapshot (GET /api/session)
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.session.Snapshot())
	}
}

// ProxyHandler forwards /api/* to the backend through the gateway, so every
// display call gets the bearer token and the refresh-and-retry.
func (s *Server) ProxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := path.Clean("/" + r.PathValue("path"))
		if isAuthEndpoint(target) {
			// Tokens and the refresh credential never leave the kiosk
			log.Warn().Str("path", target).Msg("refusing to proxy auth endpoint")
			writeDetail(w, http.StatusNotFound, "Not Found")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBodyBytes))
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "unreadable request body")
			return
		}

		req := gateway.NewRequest(r.Method, target)
		req.Query = r.URL.Query()
		if len(body) > 0 {
			req.Body = body
			req.Header = http.Header{"Content-Type": {r.Header.Get("Content-Type")}}
		}

		resp, err := s.gateway.Do(r.Context(), req)
		if err != nil {
			s.proxyError(w, req, err)
			return
		}

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
	}
}

// isAuthEndpoint reports whether p belongs to the backend's /auth API,
// which only the session lifecycle may call.
func isAuthEndpoint(p string) bool {
	p = strings.ToLower(p)
	return p == backendAuthPrefix || strings.HasPrefix(p, backendAuthPrefix+"/")
}

func (s *Server) proxyError(w http.ResponseWriter, req *gateway.Request, err error) {
	var statusErr *gateway.StatusError
	switch {
	case apperrors.Is(err, apperrors.ErrRefreshFailed):
		if target := s.screen.PendingNavigation(); target != "" {
			w.Header().Set(HeaderNavigate, target)
		}
		writeDetail(w, http.StatusUnauthorized, "Session expired. Please sign in again.")
	case apperrors.Is(err, apperrors.ErrNotAuthenticated):
		writeDetail(w, http.StatusUnauthorized, "Not signed in")
	case apperrors.As(err, &statusErr):
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(statusErr.StatusCode)
		_, _ = w.Write(statusErr.Body)
	case apperrors.Is(err, apperrors.ErrNetwork):
		log.Warn().Err(err).Str("request_id", req.ID()).Str("path", req.Path).Msg("backend unreachable")
		writeDetail(w, http.StatusBadGateway, "Backend unavailable")
	default:
		log.Err(err).Str("request_id", req.ID()).Str("path", req.Path).Msg("proxy call failed")
		writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("Failed to encode response")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
