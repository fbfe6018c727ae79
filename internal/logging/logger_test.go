package logging_test

import (
	"testing"

	"github.com/jrsteele09/lightshow-kiosk/internal/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetup_Level(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logging.Setup("production", "debug")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	logging.Setup("DEV", "not-a-level")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	logging.Setup("DEV", "")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
