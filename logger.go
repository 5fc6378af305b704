package opscore

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines the interface for core logging.
// Structured logging with key-value pairs is used throughout the core,
// the registry and the event bus, so applications control how core logs
// appear by supplying one implementation:
//
//	logger.Info("Module loaded", "module", "inventory", "loadTime", d)
//
// The interface is satisfied by *slog.Logger and by the zerolog adapter
// returned from NewZerologLogger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// LogLevel names a minimum log level.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogConfig configures the zerolog adapter.
type LogConfig struct {
	Level      LogLevel
	JSONOutput bool
	Output     io.Writer
}

// ZerologLogger adapts a zerolog.Logger to Logger. Key/value pairs become
// zerolog fields; a trailing key without a value is logged under "!BADKEY"
// like slog does.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger builds a zerolog-backed Logger writing console output,
// or JSON when cfg.JSONOutput is set.
func NewZerologLogger(cfg LogConfig) *ZerologLogger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var zl zerolog.Logger
	if cfg.JSONOutput {
		zl = zerolog.New(output)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339})
	}
	zl = zl.Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return &ZerologLogger{logger: zl}
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: zl}
}

func parseLevel(level LogLevel) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a child logger tagged with a component field.
func (l *ZerologLogger) WithComponent(component string) *ZerologLogger {
	return &ZerologLogger{logger: l.logger.With().Str("component", component).Logger()}
}

func (l *ZerologLogger) Info(msg string, args ...any)  { l.write(l.logger.Info(), msg, args) }
func (l *ZerologLogger) Error(msg string, args ...any) { l.write(l.logger.Error(), msg, args) }
func (l *ZerologLogger) Warn(msg string, args ...any)  { l.write(l.logger.Warn(), msg, args) }
func (l *ZerologLogger) Debug(msg string, args ...any) { l.write(l.logger.Debug(), msg, args) }

func (l *ZerologLogger) write(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	for i := 0; i < len(args); {
		key, ok := args[i].(string)
		if !ok || i+1 == len(args) {
			event = event.Interface("!BADKEY", args[i])
			i++
			continue
		}
		switch v := args[i+1].(type) {
		case error:
			event = event.AnErr(key, v)
		case time.Duration:
			event = event.Dur(key, v)
		default:
			event = event.Interface(key, v)
		}
		i += 2
	}
	event.Msg(msg)
}
