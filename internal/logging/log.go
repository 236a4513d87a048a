package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Logger returns the process logger for structured events.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a child logger tagged with a component name.
func With(component string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", component).Logger()
}

func Tracef(format string, args ...any) {
	l := Logger()
	l.Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	l := Logger()
	l.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	l := Logger()
	l.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	l := Logger()
	l.Warn().Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	l := Logger()
	l.Error().Msgf(format, args...)
}

// Logf writes an unleveled line.
func Logf(format string, args ...any) {
	l := Logger()
	l.Log().Msgf(format, args...)
}

// Panicf logs at panic level and panics with the formatted message. It marks
// broken driver contracts and crash-on-misuse policies.
func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l := Logger()
	l.WithLevel(zerolog.PanicLevel).Msg(msg)
	panic(msg)
}
