package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotateConfig enables a rotated log file written next to stdout.
type RotateConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type options struct {
	level  slog.Level
	out    io.Writer
	rotate *RotateConfig
}

type Option func(*options)

// WithLevel sets the minimum level from its name (debug, info, warn, error).
// Unknown names keep info.
func WithLevel(name string) Option {
	return func(o *options) {
		o.level = ParseLevel(name)
	}
}

// WithOutput replaces stdout as the primary sink.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.out = w
		}
	}
}

// WithRotation additionally writes to a lumberjack-rotated file.
func WithRotation(cfg RotateConfig) Option {
	return func(o *options) {
		if strings.TrimSpace(cfg.Path) != "" {
			o.rotate = &cfg
		}
	}
}

// ParseLevel maps a level name onto slog levels.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger. All log lines include the service name and environment
// when provided.
func Setup(service, env string, opts ...Option) *slog.Logger {
	o := options{level: slog.LevelInfo, out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	out := o.out
	if o.rotate != nil {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   o.rotate.Path,
			MaxSize:    o.rotate.MaxSizeMB,
			MaxBackups: o.rotate.MaxBackups,
			MaxAge:     o.rotate.MaxAgeDays,
			Compress:   o.rotate.Compress,
		})
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       o.level,
		ReplaceAttr: renameAttr,
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Packages still using the log package end up in the same stream.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func renameAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		return slog.Attr{Key: "timestamp", Value: attr.Value}
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: attr.Value}
	}
	return attr
}
