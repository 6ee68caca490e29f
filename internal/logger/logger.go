package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance. It discards output until Init
	// is called so that packages can log from tests without setup.
	Logger = zerolog.Nop()
)

// Init initializes the global logger. env "development" switches to the
// human-readable console writer.
func Init(level, env string) {
	InitWithWriter(level, env, os.Stdout)
}

// InitWithWriter is Init with an explicit output
func InitWithWriter(level, env string, out io.Writer) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := out
	if env == "development" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()

	Logger.Info().
		Str("level", logLevel.String()).
		Str("env", env).
		Msg("logger initialized")
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRequestID returns a logger with a request ID field
func WithRequestID(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}

// WithAircraft returns a component logger scoped to one aircraft
func WithAircraft(component, aircraftID string) zerolog.Logger {
	return Logger.With().
		Str("component", component).
		Str("aircraft_id", aircraftID).
		Logger()
}
