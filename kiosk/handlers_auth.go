package kiosk

import (
	"math"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/jrsteele09/lightshow-kiosk/internal/errors"
)

// LoginPageHandler shows the login screen (GET /login)
func (s *Server) LoginPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.session.Snapshot().Authenticated {
			http.Redirect(w, r, s.config.GetPostLoginPath(), http.StatusSeeOther)
			return
		}
		s.render(w, http.StatusOK, tmplLogin, s.page())
	}
}

// LoginSubmissionHandler starts the OAuth flow and hands the display over to
// the identity provider (POST /auth/login)
func (s *Server) LoginSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := s.flow.BeginLogin(r.Context())
		if err != nil {
			log.Err(err).Msg("Failed to start login")
			data := s.page()
			data.Error = "Failed to initiate login. Please try again."
			s.render(w, http.StatusBadGateway, tmplLogin, data)
			return
		}
		http.Redirect(w, r, authURL, http.StatusSeeOther)
	}
}

// OAuthCallbackHandler finishes the OAuth flow (GET /oauth-callback)
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if errorParam := query.Get("error"); errorParam != "" {
			s.flow.CancelLogin()
			err := apperrors.Wrapf(apperrors.ErrProviderDenied, "[OAuthCallbackHandler] %s", errorParam)
			log.Warn().Err(err).Msg("Identity provider returned an error")
			s.callbackFailed(w, http.StatusBadRequest, "Authentication failed: "+errorParam)
			return
		}

		code, state := query.Get("code"), query.Get("state")
		if code == "" || state == "" {
			s.flow.CancelLogin()
			s.callbackFailed(w, http.StatusBadRequest, "Missing required parameters")
			return
		}

		identity, err := s.flow.CompleteCallback(r.Context(), code, state)
		switch {
		case err == nil:
			log.Info().Str("email", identity.Email).Msg("Operator signed in")
			http.Redirect(w, r, s.config.GetPostLoginPath(), http.StatusSeeOther)
		case apperrors.Is(err, apperrors.ErrStateMismatch):
			s.callbackFailed(w, http.StatusBadRequest, "Authentication failed: invalid or expired login attempt")
		default:
			s.callbackFailed(w, http.StatusUnauthorized, "Authentication failed: "+userMessage(err))
		}
	}
}

// callbackFailed shows the error and sends the display back to the login
// screen after the configured delay.
func (s *Server) callbackFailed(w http.ResponseWriter, status int, message string) {
	data := s.page()
	data.Error = message
	data.RedirectTo = s.config.GetLoginPath()
	data.RedirectSeconds = int(math.Ceil(s.config.GetCallbackRedirectDelay().Seconds()))
	s.render(w, status, tmplCallback, data)
}

// LogoutHandler ends the session (POST /auth/logout). The local session is
// cleared even if the backend cannot be reached.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = s.flow.Logout(r.Context())
		http.Redirect(w, r, RouteIndex, http.StatusSeeOther)
	}
}
