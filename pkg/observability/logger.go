package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = []string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < DebugLevel || l > ErrorLevel {
		return levelNames[InfoLevel]
	}
	return levelNames[l]
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a level name to a LogLevel. Unknown names map to InfoLevel.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger writes JSON lines through slog. Loggers are immutable; the With
// methods return a copy carrying the extra attributes.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a JSON logger writing to output, or stdout when nil
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level.slogLevel()})
	return &Logger{logger: slog.New(handler)}
}

// WithField adds one attribute
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With(key, value)}
}

// WithFields adds several attributes
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{logger: l.logger.With(args...)}
}

// WithError adds err under "error"; a nil err returns l unchanged
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(message string) { l.logger.Debug(message) }
func (l *Logger) Info(message string)  { l.logger.Info(message) }
func (l *Logger) Warn(message string)  { l.logger.Warn(message) }
func (l *Logger) Error(message string) { l.logger.Error(message) }

type contextKey int

const (
	requestIDKey contextKey = iota
	targetKey
	loggerKey
)

// compileTarget is the variant and module a request compiles
type compileTarget struct {
	variantID  string
	modulePath string
}

// WithRequestID stores the request id for FromContext
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request id stored by WithRequestID, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithModule stores the compile variant and module path for FromContext
func WithModule(ctx context.Context, variantID, modulePath string) context.Context {
	return context.WithValue(ctx, targetKey, compileTarget{variantID: variantID, modulePath: modulePath})
}

// WithLogger stores the logger FromContext starts from
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the context's logger, or fallback when it has none,
// annotated with the request id, the compile variant and module, and the ids
// of the recording span. A nil fallback yields an info logger on stdout.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	logger, ok := ctx.Value(loggerKey).(*Logger)
	if !ok {
		logger = fallback
	}
	if logger == nil {
		logger = NewLogger(InfoLevel, os.Stdout)
	}

	var args []interface{}
	if id := RequestID(ctx); id != "" {
		args = append(args, "request_id", id)
	}
	if target, ok := ctx.Value(targetKey).(compileTarget); ok {
		if target.variantID != "" {
			args = append(args, "variant", target.variantID)
		}
		if target.modulePath != "" {
			args = append(args, "module", target.modulePath)
		}
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		sc := span.SpanContext()
		args = append(args, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	if len(args) == 0 {
		return logger
	}
	return &Logger{logger: logger.logger.With(args...)}
}
