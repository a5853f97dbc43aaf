// Package logger provides the process-wide operational logger.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Configure switches the logger between human console output and JSON,
// and sets the minimum level. prod=true selects JSON output suited to
// log aggregation.
func Configure(prod bool, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = os.Stdout
	if !prod {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	log = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debugf(format string, args ...interface{}) { current().Debug().Msgf(format, args...) }
func Infof(format string, args ...interface{})  { current().Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { current().Warn().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { current().Error().Msgf(format, args...) }

func Info(msg string)  { current().Info().Msg(msg) }
func Warn(msg string)  { current().Warn().Msg(msg) }
func Error(msg string) { current().Error().Msg(msg) }

// WithFields returns an event builder carrying structured key/value
// context, for call sites that want more than a formatted message.
func WithFields(fields map[string]interface{}) *zerolog.Event {
	ev := current().Info()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
