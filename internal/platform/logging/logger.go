// Package logging provides the structured logging contract shared by every
// component of the incident-response core.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Fields is a structured field set attached to a single log line.
type Fields map[string]interface{}

// Logger is the minimal logging interface every component depends on.
// Components must nil-check before use; the zero value of a component
// should fall back to NoOpLogger rather than panic.
type Logger interface {
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	Debug(msg string, fields Fields)

	InfoWithContext(ctx context.Context, msg string, fields Fields)
	WarnWithContext(ctx context.Context, msg string, fields Fields)
	ErrorWithContext(ctx context.Context, msg string, fields Fields)
	DebugWithContext(ctx context.Context, msg string, fields Fields)
}

// ComponentAwareLogger extends Logger with a component label that is
// carried on every subsequent log line. Components use this to namespace
// their logs (e.g. "controller", "guard", "planner") without threading a
// prefix string through every call site.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the safe default for components
// constructed without an explicit logger.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, Fields)                              {}
func (NoOpLogger) Warn(string, Fields)                               {}
func (NoOpLogger) Error(string, Fields)                              {}
func (NoOpLogger) Debug(string, Fields)                              {}
func (NoOpLogger) InfoWithContext(context.Context, string, Fields)  {}
func (NoOpLogger) WarnWithContext(context.Context, string, Fields)  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, Fields) {}
func (NoOpLogger) DebugWithContext(context.Context, string, Fields) {}

type requestIDKey struct{}

// WithRequestID attaches a request/incident correlation id to ctx so it is
// picked up by *WithContext log calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id stashed by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ProductionLogger is a small structured logger writing newline-delimited
// JSON (or a human-readable line in "text" format) to an io.Writer, with
// no third-party dependency.
type ProductionLogger struct {
	component string
	level     level
	format    string
	output    io.Writer
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch strings.ToLower(s) {
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// New creates a ProductionLogger. format is "json" or "text"; levelName is
// one of debug/info/warn/error (default info).
func New(levelName, format string, output io.Writer) *ProductionLogger {
	if output == nil {
		output = os.Stdout
	}
	return &ProductionLogger{
		level:  parseLevel(levelName),
		format: format,
		output: output,
	}
}

// WithComponent returns a logger that tags every subsequent line with the
// given component name.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields Fields)  { p.log(nil, levelInfo, msg, fields) }
func (p *ProductionLogger) Warn(msg string, fields Fields)  { p.log(nil, levelWarn, msg, fields) }
func (p *ProductionLogger) Error(msg string, fields Fields) { p.log(nil, levelError, msg, fields) }
func (p *ProductionLogger) Debug(msg string, fields Fields) { p.log(nil, levelDebug, msg, fields) }

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields Fields) {
	p.log(ctx, levelInfo, msg, fields)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields Fields) {
	p.log(ctx, levelWarn, msg, fields)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields Fields) {
	p.log(ctx, levelError, msg, fields)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields Fields) {
	p.log(ctx, levelDebug, msg, fields)
}

func (p *ProductionLogger) log(ctx context.Context, lvl level, msg string, fields Fields) {
	if lvl < p.level {
		return
	}
	requestID := RequestID(ctx)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     levelName(lvl),
			"message":   msg,
		}
		if p.component != "" {
			entry["component"] = p.component
		}
		if requestID != "" {
			entry["request_id"] = requestID
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", time.Now().UTC().Format(time.RFC3339), levelName(lvl))
	if p.component != "" {
		fmt.Fprintf(&b, " %s", p.component)
	}
	if requestID != "" {
		fmt.Fprintf(&b, " req=%s", requestID)
	}
	fmt.Fprintf(&b, " %s", msg)
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintln(p.output, b.String())
}

func levelName(l level) string {
	switch l {
	case levelDebug:
		return "DEBUG"
	case levelWarn:
		return "WARN"
	case levelError:
		return "ERROR"
	default:
		return "INFO"
	}
}
