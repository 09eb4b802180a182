package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger from the environment.
//
// TRAFFIC_LOG_LEVEL: debug, info, warn, error (default: info)
// TRAFFIC_LOG_FORMAT: console for human-readable output, JSON otherwise
func Init() {
	InitWith(os.Getenv("TRAFFIC_LOG_LEVEL"), os.Getenv("TRAFFIC_LOG_FORMAT"), os.Stderr)
}

// InitWith configures the global logger explicitly.
func InitWith(level, format string, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if strings.EqualFold(format, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
