// Package logger builds the zerolog root logger shared by every service
// binary in this repository.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the root logger's verbosity and output format.
type Config struct {
	// Level is a zerolog level string: trace, debug, info, warn, error.
	Level string
	// Pretty switches to a human-readable console writer instead of JSON.
	// Intended for local/dev use; production deployments leave it false.
	Pretty bool
}

// New builds a root logger from cfg. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output = os.Stdout
	var writer zerolog.ConsoleWriter
	if cfg.Pretty {
		writer = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
		return zerolog.New(writer).With().Timestamp().Caller().Logger()
	}

	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

// SetGlobalLogger installs l as zerolog's package-level default, so that
// code reached only through third-party callbacks (e.g. cron's recovery
// handler) still logs through the same sink.
func SetGlobalLogger(l zerolog.Logger) {
	zerolog.DefaultContextLogger = &l
}

// ExitMisconfigured is the process exit code for a configuration error
// caught at startup (missing env var, invalid DSN, ...).
const ExitMisconfigured = 2

// ExitStartupGateFailed is the process exit code for a service that
// could never clear its startup safety gate (e.g. the Execution
// Gateway's first reconciliation cycle kept failing against the
// broker).
const ExitStartupGateFailed = 3

// FatalExit logs err at error level, then terminates the process with
// code. zerolog's own Fatal() always exits 1, which can't express the
// distinction this repository's exit-code contract requires between a
// misconfiguration and a startup-gate failure.
func FatalExit(log zerolog.Logger, code int, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(code)
}
