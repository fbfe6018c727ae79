package config

import "time"

type BackendConfig interface {
	GetBackendURL() string
	GetRequestTimeout() time.Duration
}

// FlowConfig covers the login flow and the kiosk screens involved in it.
type FlowConfig interface {
	GetNonceTTL() time.Duration
	GetLoginPath() string
	GetCallbackPath() string
	GetPostLoginPath() string
	GetCallbackRedirectDelay() time.Duration
}

func (s *Settings) GetBackendURL() string {
	return s.BackendURL
}

func (s *Settings) GetRequestTimeout() time.Duration {
	return s.RequestTimeout
}

func (s *Settings) GetNonceTTL() time.Duration {
	return s.NonceTTL
}

func (s *Settings) GetLoginPath() string {
	return s.LoginPath
}

func (s *Settings) GetCallbackPath() string {
	return s.CallbackPath
}

func (s *Settings) GetPostLoginPath() string {
	return s.PostLoginPath
}

func (s *Settings) GetCallbackRedirectDelay() time.Duration {
	return s.CallbackRedirectDelay
}
