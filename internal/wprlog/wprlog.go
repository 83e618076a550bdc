// (C) 2025 GoodData Corporation

// Package wprlog builds the process-wide zerolog.Logger, replacing the
// teacher's bare log.Printf/fmt.Printf calls with leveled, structured
// logging per the ambient-stack expansion. Output is always zerolog's
// human-readable console format on stdout (matching the teacher's
// human-readable startup banner); JSON lines are not emitted.
package wprlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger at Info level, or Debug when verbose is set.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}
