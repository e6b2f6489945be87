package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for a service. Sub-loggers are derived with
// logger.With().Str("component", ...).
func New(service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	logger := zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	if err != nil {
		logger.Warn().Str("level", level).Msg("unknown log level, using info")
	}
	return logger
}
