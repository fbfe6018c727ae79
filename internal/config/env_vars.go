package config

import "fmt"

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

func (s *Settings) GetPort() string {
	port := s.Port
	if port == "" {
		port = "8080"
	}
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (s *Settings) GetAppName() string {
	return s.AppName
}

func (s *Settings) GetEnv() string {
	if s.Env == "" {
		return "DEV"
	}
	return s.Env
}

func (s *Settings) GetLogLevel() string {
	return s.LogLevel
}
