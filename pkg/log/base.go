package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

func (l *BaseLogger) clone(extra Fields) *BaseLogger {
	merged := make(Fields, len(l.fields)+len(extra))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	nl := &BaseLogger{level: l.level, fields: merged, formatter: l.formatter, outputs: l.outputs}
	nl.h = l.h.bind(nl)
	return nl
}

// emit builds the slog record itself so the caller recorded is the call
// site of Info/Warn/..., two frames above.
func (l *BaseLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level.slog(), msg, pcs[0])
	for _, f := range fields {
		r.AddAttrs(slog.Any(f.Key, f.Value))
	}
	_ = l.h.Handle(context.Background(), r)
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.emit(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.emit(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.emit(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.emit(ErrorLevel, msg, fields) }

func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.emit(FatalLevel, msg, fields)
	l.exit()
}

func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.emit(DebugLevel, sprintf(msg, args), nil) }
func (l *BaseLogger) Infof(msg string, args ...interface{})  { l.emit(InfoLevel, sprintf(msg, args), nil) }
func (l *BaseLogger) Warnf(msg string, args ...interface{})  { l.emit(WarnLevel, sprintf(msg, args), nil) }
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.emit(ErrorLevel, sprintf(msg, args), nil) }

func (l *BaseLogger) Fatalf(msg string, args ...interface{}) {
	l.emit(FatalLevel, sprintf(msg, args), nil)
	l.exit()
}

func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.clone(Fields{key: value})
}

func (l *BaseLogger) WithFields(fields Fields) Logger { return l.clone(fields) }

// WithError stores err's message under "error"; a nil err is a no-op.
func (l *BaseLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.clone(Fields{"error": err.Error()})
}

func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	m := make(Fields, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return l.clone(m)
}

// WithContext copies request scoped values of ctx onto a child logger.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	fields := fieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.clone(fields)
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.clone(Fields{ComponentKey: component})
}

func (l *BaseLogger) SetLevel(level Level) { l.level = level }
func (l *BaseLogger) GetLevel() Level      { return l.level }

// Handler exposes the logger as a slog.Handler for libraries that log
// through log/slog.
func (l *BaseLogger) Handler() slog.Handler { return l.h }

func (l *BaseLogger) exit() {
	for _, o := range l.outputs {
		_ = o.Close()
	}
	os.Exit(1)
}

func sprintf(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}
