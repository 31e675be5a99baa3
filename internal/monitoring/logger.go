// Package monitoring owns process logging. Library packages log through
// Logf so tests can capture or mute them; commands install zerolog with
// InitLogger.
package monitoring

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logf is the package-level diagnostic logger. It defaults to the global
// zerolog logger and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// InitLogger installs a console logger on stdout tagged with app.
func InitLogger(app string) zerolog.Logger {
	return InitLoggerTo(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, app)
}

// InitLoggerTo installs a logger writing to w as the global zerolog logger
// and points Logf at it.
func InitLoggerTo(w io.Writer, app string) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	Logf = logger.Printf
	return logger
}
