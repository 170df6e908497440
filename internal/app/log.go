package app

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// newLogger writes human-readable diagnostics to w. Data never goes through
// the logger; it is reserved for stderr diagnostics.
func newLogger(w io.Writer, verbose, noColor bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	cw := zerolog.ConsoleWriter{Out: w, NoColor: noColor, TimeFormat: time.TimeOnly}
	return zerolog.New(cw).Level(level).With().Timestamp().Str("component", "tempo").Logger()
}
