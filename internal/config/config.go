package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	BackendConfig
	FlowConfig
	CorsConfig
}

// Settings is the environment-backed configuration for the kiosk.
type Settings struct {
	Port     string `env:"PORT" envDefault:"8080"`
	AppName  string `env:"APP_NAME" envDefault:"Lightshow Kiosk"`
	Env      string `env:"ENV" envDefault:"DEV"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	BackendURL     string        `env:"BACKEND_URL" envDefault:"http://localhost:8000/api"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	NonceTTL              time.Duration `env:"NONCE_TTL" envDefault:"10m"`
	LoginPath             string        `env:"LOGIN_PATH" envDefault:"/login"`
	CallbackPath          string        `env:"CALLBACK_PATH" envDefault:"/oauth-callback"`
	PostLoginPath         string        `env:"POST_LOGIN_PATH" envDefault:"/admin"`
	CallbackRedirectDelay time.Duration `env:"CALLBACK_REDIRECT_DELAY" envDefault:"3s"`

	Origins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

var _ Config = (*Settings)(nil)

// Load reads a .env file when present and then parses the environment.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("[config Load] parsing environment: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("[config Load] validating: %w", err)
	}
	return s, nil
}

func (s *Settings) validate() error {
	u, err := url.Parse(s.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", s.BackendURL)
	}
	for name, p := range map[string]string{
		"LOGIN_PATH":      s.LoginPath,
		"CALLBACK_PATH":   s.CallbackPath,
		"POST_LOGIN_PATH": s.PostLoginPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/', got %q", name, p)
		}
	}
	if s.LoginPath == s.CallbackPath {
		return fmt.Errorf("LOGIN_PATH and CALLBACK_PATH must differ")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}
