package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type (
	// Level is a logging severity. Lower values are more severe
	Level int

	// Options configure a Logger
	Options struct {
		Output  io.Writer
		Level   Level
		Audit   bool
		Metrics bool
	}

	// Event is a single log entry submitted through Log
	Event struct {
		Msg   string
		Attrs []any
		Level Level
	}

	// Logger is a leveled event sink. Severity events are emitted when their
	// level is at or below the configured threshold. AUDIT and METRIC events
	// ignore the threshold and are gated by their own flags
	Logger struct {
		slog    *slog.Logger
		level   Level
		audit   bool
		metrics bool
	}
)

const (
	LevelFatal  Level = 10
	LevelError  Level = 20
	LevelWarn   Level = 30
	LevelInfo   Level = 40
	LevelDebug  Level = 50
	LevelTrace  Level = 60
	LevelAudit  Level = 98
	LevelMetric Level = 99
)

var ErrUnknownLevel = errors.New("unknown log level")

var levelNames = map[Level]string{
	LevelFatal:  "FATAL",
	LevelError:  "ERROR",
	LevelWarn:   "WARN",
	LevelInfo:   "INFO",
	LevelDebug:  "DEBUG",
	LevelTrace:  "TRACE",
	LevelAudit:  "AUDIT",
	LevelMetric: "METRIC",
}

var slogLevels = map[Level]slog.Level{
	LevelFatal:  slog.LevelError + 4,
	LevelError:  slog.LevelError,
	LevelWarn:   slog.LevelWarn,
	LevelInfo:   slog.LevelInfo,
	LevelDebug:  slog.LevelDebug,
	LevelTrace:  slog.LevelDebug - 4,
	LevelAudit:  slog.LevelInfo + 1,
	LevelMetric: slog.LevelInfo + 2,
}

// New constructs a JSON Logger at INFO with audit and metrics disabled
func New(service, env, version string) *Logger {
	return NewWithOptions(service, env, version, Options{Level: LevelInfo})
}

// NewWithLevel constructs a JSON Logger at the provided threshold
func NewWithLevel(service, env, version string, lvl Level) *Logger {
	return NewWithOptions(service, env, version, Options{Level: lvl})
}

// NewWithOptions constructs a JSON Logger from Options. Output defaults to
// standard out
func NewWithOptions(service, env, version string, opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       slog.LevelDebug - 8,
		ReplaceAttr: replaceLevel,
	})

	return &Logger{
		slog: slog.New(handler).With(
			slog.String("service", service),
			slog.String("env", env),
			slog.String("version", version),
		),
		level:   opts.Level,
		audit:   opts.Audit,
		metrics: opts.Metrics,
	}
}

// ParseLevel converts a configured level name into a Level
func ParseLevel(name string) (Level, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	for lvl, n := range levelNames {
		if n == want && lvl != LevelAudit && lvl != LevelMetric {
			return lvl, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
}

// Install makes this Logger the process-wide slog default
func (l *Logger) Install() {
	slog.SetDefault(l.slog)
}

// Slog exposes the underlying slog.Logger. Entries written through it are
// not filtered by the severity threshold
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// With returns a Logger that adds attrs to every entry
func (l *Logger) With(attrs ...any) *Logger {
	res := *l
	res.slog = l.slog.With(attrs...)
	return &res
}

// Enabled reports whether an event at lvl would be emitted
func (l *Logger) Enabled(lvl Level) bool {
	switch lvl {
	case LevelAudit:
		return l.audit
	case LevelMetric:
		return l.metrics
	default:
		return lvl <= l.level
	}
}

// Log emits an Event if its level passes the filter
func (l *Logger) Log(e Event) {
	if !l.Enabled(e.Level) {
		return
	}
	sl, ok := slogLevels[e.Level]
	if !ok {
		sl = slog.Level(int(LevelInfo) - int(e.Level))
	}
	l.slog.Log(context.Background(), sl, e.Msg, e.Attrs...)
}

// Fatal logs at FATAL. It does not exit the process
func (l *Logger) Fatal(msg string, attrs ...any) {
	l.Log(Event{Level: LevelFatal, Msg: msg, Attrs: attrs})
}

func (l *Logger) Error(msg string, attrs ...any) {
	l.Log(Event{Level: LevelError, Msg: msg, Attrs: attrs})
}

func (l *Logger) Warn(msg string, attrs ...any) {
	l.Log(Event{Level: LevelWarn, Msg: msg, Attrs: attrs})
}

func (l *Logger) Info(msg string, attrs ...any) {
	l.Log(Event{Level: LevelInfo, Msg: msg, Attrs: attrs})
}

func (l *Logger) Debug(msg string, attrs ...any) {
	l.Log(Event{Level: LevelDebug, Msg: msg, Attrs: attrs})
}

func (l *Logger) Trace(msg string, attrs ...any) {
	l.Log(Event{Level: LevelTrace, Msg: msg, Attrs: attrs})
}

// Audit records a security relevant action, such as a deploy or login
func (l *Logger) Audit(msg string, attrs ...any) {
	l.Log(Event{Level: LevelAudit, Msg: msg, Attrs: attrs})
}

// Metric records a measurement event
func (l *Logger) Metric(msg string, attrs ...any) {
	l.Log(Event{Level: LevelMetric, Msg: msg, Attrs: attrs})
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) != 0 || a.Key != slog.LevelKey {
		return a
	}
	sl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	for lvl, mapped := range slogLevels {
		if mapped == sl {
			return slog.String(slog.LevelKey, levelNames[lvl])
		}
	}
	return a
}
