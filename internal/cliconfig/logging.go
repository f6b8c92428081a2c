package cliconfig

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/pnpcoord/pkg/log"
)

var logger zerolog.Logger

func init() {
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// Logger returns the bootstrap logger used before configuration is loaded.
func Logger() zerolog.Logger {
	return logger
}

// NewLogger builds the logger described by cfg, writing to w.
func NewLogger(w io.Writer, cfg Config) zerolog.Logger {
	return log.NewZerologAdapterWithWriter(w, log.ParseLevel(cfg.LogLevel), cfg.LogJSON).Logger()
}
