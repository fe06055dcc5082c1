// Package logging builds the go-kit loggers shared by the CLI and the server.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New returns a logfmt logger writing to w (stderr when nil), filtered at the
// given level: debug, info, warn or error. Unknown levels mean info.
func New(w io.Writer, lvl string) log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, Option(lvl))
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

// Option maps a level name to a go-kit filter option.
func Option(lvl string) level.Option {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	case "none", "off":
		return level.AllowNone()
	}
	return level.AllowInfo()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l log.Logger) log.Logger {
	if l == nil {
		return log.NewNopLogger()
	}
	return l
}
