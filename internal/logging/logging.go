// Package logging carries a zerolog logger through contexts and renders
// log events for humans.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type logKey struct{}

var nop = zerolog.Nop()

// FromContext returns the logger attached to ctx, or a disabled one.
func FromContext(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(logKey{}).(*zerolog.Logger); ok {
		return logger
	}
	return &nop
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// New returns a logger writing JSON lines to out when json is set, and
// colored console lines otherwise.
func New(out io.Writer, level zerolog.Level, json bool) zerolog.Logger {
	w := out
	if !json {
		w = NewConsoleWriter(out)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Debug reports whether verbose error rendering was requested.
func Debug() bool {
	return os.Getenv("SFBOOT_DEBUG") != ""
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, Debug())
	}
}
