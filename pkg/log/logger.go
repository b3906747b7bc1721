package log

import (
	"context"
	"time"
)

// Fields is a set of structured values keyed by name.
type Fields map[string]interface{}

// Well-known field names.
const (
	RequestIDKey = "request_id"
	ComponentKey = "component"
)

type ctxKey struct{ name string }

var requestIDCtxKey = ctxKey{RequestIDKey}

// ContextWithRequestID returns ctx carrying a request id picked up by
// WithContext and by every message logged with that context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDCtxKey).(string)
	return id, ok && id != ""
}

func fieldsFromContext(ctx context.Context) Fields {
	if id, ok := RequestID(ctx); ok {
		return Fields{RequestIDKey: id}
	}
	return nil
}

// Entry is one formatted message.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
	Error     error
}

// Logger is the logging surface handed to every towl component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process.
	Fatal(msg string, fields ...Field)

	// Printf style variants. They also satisfy pebble's Logger.
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
	Fatalf(msg string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Formatter renders an Entry.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(entry *Entry, formattedEntry []byte) error
	Close() error
}

// LoggerOption configures a BaseLogger.
type LoggerOption func(*BaseLogger)

// BaseLogger implements Logger on top of a slog.Handler that feeds the
// formatter and outputs.
type BaseLogger struct {
	level     Level
	fields    Fields
	formatter Formatter
	outputs   []Output
	h         *handler
}

// NewLogger returns a logger at info level writing JSON to stderr unless
// options say otherwise.
func NewLogger(options ...LoggerOption) Logger {
	l := &BaseLogger{level: InfoLevel, fields: Fields{}, formatter: &JSONFormatter{}}
	for _, o := range options {
		o(l)
	}
	if len(l.outputs) == 0 {
		l.outputs = []Output{NewConsoleOutput()}
	}
	l.h = newHandler(l)
	return l
}

func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.level = level }
}

func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) { l.formatter = formatter }
}

// WithOutput adds an output; it may be given several times.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) { l.outputs = append(l.outputs, output) }
}
