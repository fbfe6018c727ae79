package kiosk

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Screen tracks which screen the kiosk display is showing. Navigation
// requested from outside a screen request is held until the display next
// asks for a screen.
type Screen struct {
	mu      sync.Mutex
	current string
	pending string
}

func NewScreen(initial string) *Screen {
	return &Screen{current: initial}
}

func (s *Screen) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Navigate schedules a move to path.
func (s *Screen) Navigate(path string) {
	s.mu.Lock()
	s.pending = path
	s.mu.Unlock()
	log.Info().Str("to", path).Msg("navigation scheduled")
}

// Visit records that the display is now showing path.
func (s *Screen) Visit(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = path
	if s.pending == path {
		s.pending = ""
	}
}

// PendingNavigation returns the scheduled navigation without consuming it.
func (s *Screen) PendingNavigation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// TakePending returns and clears the scheduled navigation.
func (s *Screen) TakePending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = ""
	return p
}
