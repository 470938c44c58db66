// Package log provides a thin structured logging layer over logrus. Loggers
// travel with a context so that request-scoped fields are kept by every
// component handling the request.
package log

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/labkit/correlation"
)

// Fields represents a set of key/value pairs attached to a log entry.
type Fields map[string]any

// Logger is the logging interface used across the gateway.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)

	WithFields(fields Fields) Logger
	WithError(err error) Logger
}

type entry struct {
	*logrus.Entry
}

func (e *entry) WithFields(fields Fields) Logger {
	return &entry{e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *entry) WithError(err error) Logger {
	return &entry{e.Entry.WithError(err)}
}

// NewEntry wraps a logrus entry, typically one of a dedicated logrus.Logger.
func NewEntry(e *logrus.Entry) Logger {
	return &entry{e}
}

type loggerKey struct{}

// WithLogger returns a new context carrying the provided logger.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

type options struct {
	ctx context.Context
}

// Option customizes the logger returned by GetLogger.
type Option func(*options)

// WithContext makes GetLogger return the logger stored in ctx, if any. When
// ctx has no logger but carries a correlation ID, the ID is added as a field.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// GetLogger returns a logger based on the provided options.
func GetLogger(opts ...Option) Logger {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.ctx != nil {
		if l, ok := o.ctx.Value(loggerKey{}).(Logger); ok {
			return l
		}
	}

	l := Logger(&entry{logrus.NewEntry(logrus.StandardLogger())})
	if o.ctx != nil {
		if id := correlation.ExtractFromContext(o.ctx); id != "" {
			l = l.WithFields(Fields{"correlation_id": id})
		}
	}

	return l
}

// Configure sets the level and output format of the standard logger. Valid
// formatters are "text" and "json".
func Configure(out io.Writer, level, formatter string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	var f logrus.Formatter
	switch formatter {
	case "json":
		f = &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	case "text", "":
		f = &logrus.TextFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00", FullTimestamp: true}
	default:
		return fmt.Errorf("unsupported logging formatter: %q", formatter)
	}

	logrus.SetOutput(out)
	logrus.SetLevel(lvl)
	logrus.SetFormatter(f)

	return nil
}
