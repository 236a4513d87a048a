package observability

import (
	"errors"
	"time"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/rs/zerolog"
)

// Outcome labels a finished transaction for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, binder.DeadObject):
		return "dead"
	case errors.Is(err, binder.FailedTransaction):
		return "failed"
	}
	if _, ok := binder.AsException(err); ok {
		return "exception"
	}
	return "error"
}

// LogTransaction emits one structured event per finished transaction and
// records it in the transaction metrics. Failures log at warn, transport
// errors at error.
func LogTransaction(logger zerolog.Logger, direction string, handle uint32, code binder.TransactionCode, oneway bool, start time.Time, err error) {
	duration := time.Since(start)
	outcome := Outcome(err)
	RecordTransaction(direction, oneway, outcome, duration)

	event := logger.Debug()
	switch outcome {
	case "ok":
	case "exception", "dead":
		event = logger.Warn()
	default:
		event = logger.Error()
	}
	event.
		Str("direction", direction).
		Uint32("handle", handle).
		Uint32("code", code).
		Bool("oneway", oneway).
		Str("outcome", outcome).
		Dur("duration", duration).
		Err(err).
		Msg("transaction")
}
