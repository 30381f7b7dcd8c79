package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

const levelEnv = "MEDCHAIN_LOG_LEVEL"

// Setup wires the process-wide loggers for the service: slog emits one JSON
// object per line using timestamp/severity/message keys, every line is tagged
// with the service name (and environment when set), and the standard library
// logger is routed through the same handler so no log line bypasses the
// structured output. The minimum level comes from MEDCHAIN_LOG_LEVEL.
func Setup(service, env string) *slog.Logger {
	logger, handler := newLogger(os.Stdout, service, env, levelFromEnv())
	slog.SetDefault(logger)

	stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return logger
}

func newLogger(w io.Writer, service, env string, level slog.Level) (*slog.Logger, slog.Handler) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	tagged := handler.WithAttrs(attrs)

	return slog.New(tagged), tagged
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(levelEnv))) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
