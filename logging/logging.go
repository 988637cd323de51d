// Package logging provides leveled, component-scoped logging for callkit.
// Output is produced by zerolog, either as JSON lines or through the
// human-readable console writer.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a config string into a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Format selects how log lines are rendered.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Logger provides structured logging to stdout.
type Logger struct {
	zl        zerolog.Logger
	output    io.Writer
	format    Format
	minLevel  Level
	component string
	traceID   string
}

// New creates a new Logger writing console lines to stdout at INFO.
func New() *Logger {
	l := &Logger{
		output:   os.Stdout,
		format:   FormatConsole,
		minLevel: LevelInfo,
	}
	l.rebuild()
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

func (l *Logger) clone() *Logger {
	c := *l
	return &c
}

func (l *Logger) rebuild() {
	w := zerolog.SyncWriter(l.output)
	if l.format == FormatConsole {
		w = zerolog.ConsoleWriter{
			Out:        zerolog.SyncWriter(l.output),
			TimeFormat: time.RFC3339,
			NoColor:    true,
		}
	}
	ctx := zerolog.New(w).With().Timestamp()
	if l.component != "" {
		ctx = ctx.Str("component", l.component)
	}
	if l.traceID != "" {
		ctx = ctx.Str("trace_id", l.traceID)
	}
	l.zl = ctx.Logger().Level(l.minLevel.zerolog())
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	c.rebuild()
	return c
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	c := l.clone()
	c.traceID = traceID
	c.rebuild()
	return c
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
	l.rebuild()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.rebuild()
}

// SetFormat switches between console and JSON rendering.
func (l *Logger) SetFormat(f Format) {
	l.format = f
	l.rebuild()
}

// Zerolog exposes the underlying zerolog logger for middleware.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Debug(), msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Info(), msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Warn(), msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Error(), msg, fields...)
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields ...map[string]interface{}) {
	if ev == nil {
		return
	}
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(fields[0])
	}
	ev.Msg(msg)
}

// --- Domain logging methods ---

// AccountChange logs an account lifecycle step.
func (l *Logger) AccountChange(action, accountID string) {
	l.Info("account_"+action, map[string]interface{}{
		"account_id": accountID,
	})
}

// CallTransition logs a call state change.
func (l *Logger) CallTransition(callID int64, accountID, from, to string) {
	l.Info("call_transition", map[string]interface{}{
		"call_id":    callID,
		"account_id": accountID,
		"from":       from,
		"to":         to,
	})
}

// AgentChange logs an agent lifecycle step.
func (l *Logger) AgentChange(action, agentID string) {
	l.Info("agent_"+action, map[string]interface{}{
		"agent_id": agentID,
	})
}

// ThinkStart logs the dispatch of a think request.
func (l *Logger) ThinkStart(agentID, provider string) {
	l.Debug("think_start", map[string]interface{}{
		"agent_id": agentID,
		"provider": provider,
	})
}

// ThinkComplete logs the outcome of a think request.
func (l *Logger) ThinkComplete(agentID string, duration time.Duration, stmSize int, err error) {
	fields := map[string]interface{}{
		"agent_id": agentID,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("think_failed", fields)
		return
	}
	fields["stm_size"] = stmSize
	l.Info("think_complete", fields)
}

// SubscriberDropped logs events discarded for a slow subscriber.
func (l *Logger) SubscriberDropped(subscriber string, dropped uint64) {
	l.Warn("subscriber_dropped", map[string]interface{}{
		"subscriber": subscriber,
		"dropped":    dropped,
	})
}

// HTTPRequest logs a served request, escalating the level with the status.
func (l *Logger) HTTPRequest(method, path string, status int, duration time.Duration, clientIP string) {
	fields := map[string]interface{}{
		"method":    method,
		"path":      path,
		"status":    status,
		"duration":  duration.String(),
		"client_ip": clientIP,
	}
	switch {
	case status >= 500:
		l.Error("http_request", fields)
	case status >= 400:
		l.Warn("http_request", fields)
	default:
		l.Info("http_request", fields)
	}
}
