// Package ctxlog carries a logrus logger through contexts so every component
// logs with the fields its caller established.
package ctxlog

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

var loggerCtxKey = new(int)

// New returns a logger writing to out with the given format ("text" or
// "json") and level. Unknown values fall back to text/info.
func New(out io.Writer, format, level string) *logrus.Logger {
	logger := logrus.New()
	logger.Out = out
	if format == "json" {
		logger.Formatter = &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	} else {
		logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.Level = lvl
	}
	return logger
}

// Context returns a child context carrying the given logger.
func Context(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// FromContext returns the logger attached by Context, or a default
// text-format logger if none is attached.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerCtxKey).(*logrus.Entry); ok {
			return logger
		}
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
