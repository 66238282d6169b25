// Package logx provides component-scoped structured logging with context-aware debug domains.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Format selects how log lines are rendered.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

type ctxKey struct{}

// debugFilter decides which debug lines are written. A nil domain set
// admits every domain.
type debugFilter struct {
	domains map[string]bool
	enabled bool
}

func (f debugFilter) allows(domain string) bool {
	if !f.enabled {
		return false
	}
	return f.domains == nil || f.domains[domain]
}

var (
	mu     sync.RWMutex
	filter debugFilter
	output zerolog.Logger
)

func init() { //nolint:gochecknoinits // Required for env var initialization
	var domains []string
	// DEBUG_DOMAINS=orchestrator,agent
	if raw := os.Getenv("DEBUG_DOMAINS"); raw != "" {
		domains = strings.Split(raw, ",")
	}
	debug := os.Getenv("DEBUG")
	SetDebug(debug == "1" || strings.EqualFold(debug, "true"), domains...)

	format := FormatConsole
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), string(FormatJSON)) {
		format = FormatJSON
	}
	SetOutput(os.Stderr, format)
}

// SetOutput redirects all loggers to w using the given format.
func SetOutput(w io.Writer, format Format) {
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	mu.Lock()
	output = l
	mu.Unlock()
}

// SetDebug turns debug output on or off. With domains, only those domains
// are written by Debug; component loggers follow enabled alone.
func SetDebug(enabled bool, domains ...string) {
	f := debugFilter{enabled: enabled}
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			if f.domains == nil {
				f.domains = make(map[string]bool)
			}
			f.domains[d] = true
		}
	}
	mu.Lock()
	filter = f
	mu.Unlock()
}

// DebugEnabled reports whether Debug writes lines for domain.
func DebugEnabled(domain string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return filter.allows(domain)
}

func current() (zerolog.Logger, debugFilter) {
	mu.RLock()
	defer mu.RUnlock()
	return output, filter
}

// Logger writes lines tagged with the component that produced them.
type Logger struct {
	component string
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) emit(level zerolog.Level, format string, args ...any) {
	out, f := current()
	if level == zerolog.DebugLevel && !f.enabled {
		return
	}
	out.WithLevel(level).Str("component", l.component).Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) { l.emit(zerolog.DebugLevel, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.emit(zerolog.InfoLevel, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.emit(zerolog.WarnLevel, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.emit(zerolog.ErrorLevel, format, args...) }

// WithRequestID returns a context carrying the request id picked up by Debug.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID returns the request id stored by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Debug logs a debug message with context and domain filtering.
//
//	logx.Debug(ctx, "orchestrator", "trying provider %s", name)
//
// Environment variable control:
//
//	DEBUG=1                                 # Enable debug for all domains
//	DEBUG=1 DEBUG_DOMAINS=agent             # Enable debug only for the agent domain
//	DEBUG=1 DEBUG_DOMAINS=agent,actions     # Enable debug for multiple domains
func Debug(ctx context.Context, domain, format string, args ...any) {
	out, f := current()
	if !f.allows(domain) {
		return
	}
	e := out.Debug().Str("domain", domain)
	if id := RequestID(ctx); id != "" {
		e = e.Str("request_id", id)
	}
	e.Msg(fmt.Sprintf(format, args...))
}

// DebugFlow logs a workflow step, such as a state being entered.
func DebugFlow(ctx context.Context, domain, step, status string) {
	Debug(ctx, domain, "flow %s: %s", step, status)
}
