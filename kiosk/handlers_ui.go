package kiosk

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/jrsteele09/lightshow-kiosk/gateway"
	apperrors "github.com/jrsteele09/lightshow-kiosk/internal/errors"
)

const (
	backendBanner      = "/banner"
	backendAdminStatus = "/admin/status"
)

// IndexHandler renders the public screen
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := s.page()

		resp, err := s.gateway.Do(r.Context(), gateway.NewRequest(http.MethodGet, backendBanner))
		switch {
		case err != nil:
			log.Debug().Err(err).Msg("banner unavailable")
		case resp.OK():
			data.Banner = gjson.GetBytes(resp.Body, "banner").String()
		}

		s.render(w, http.StatusOK, tmplIndex, data)
	}
}

// AdminHandler renders the admin panel. Its backend call is authenticated,
// so an expired session is refreshed here transparently.
func (s *Server) AdminHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.gateway.Do(r.Context(), gateway.NewRequest(http.MethodGet, backendAdminStatus))
		if apperrors.Is(err, apperrors.ErrRefreshFailed) || apperrors.Is(err, apperrors.ErrNotAuthenticated) {
			target := s.screen.TakePending()
			if target == "" {
				target = s.config.GetLoginPath()
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}

		data := s.page()
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("admin status unavailable")
			data.Error = "Backend unavailable: " + userMessage(err)
		case !resp.OK():
			data.Error = "Backend unavailable: " + gateway.NewStatusError(resp, "").Error()
		default:
			data.ShowStatus = gjson.GetBytes(resp.Body, "status").String()
		}
		s.render(w, http.StatusOK, tmplAdmin, data)
	}
}

// userMessage is the backend's detail if there is one, else the error text.
func userMessage(err error) string {
	var statusErr *gateway.StatusError
	if apperrors.As(err, &statusErr) && statusErr.Detail != "" {
		return statusErr.Detail
	}
	return err.Error()
}
