// Package logging builds the service's slog loggers and carries per-request
// log fields through contexts.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Config selects the output, level and format of a logger.
type Config struct {
	Level  string
	Writer io.Writer
	Format string
}

type LogFormat string

const (
	FormatJSON   LogFormat = "json"
	FormatText   LogFormat = "text"
	FormatPretty LogFormat = "pretty"
)

// ParseFormat maps a configured format name to a LogFormat. Blank means JSON.
func ParseFormat(name string) (LogFormat, error) {
	switch f := LogFormat(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText, FormatPretty:
		return f, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format %q", name)
	}
}

// ParseLevel maps a configured level name to a slog level. Blank means info
// and "warning" is accepted for warn.
func ParseLevel(name string) (slog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// Init builds a logger from cfg and makes it the process default.
func Init(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger from cfg. Unknown levels and formats fall back to info
// and JSON; Validate on the service config rejects them earlier.
func New(cfg Config) *slog.Logger {
	format, _ := ParseFormat(cfg.Format)
	level, _ := ParseLevel(cfg.Level)

	out := cfg.Writer
	if out == nil {
		out = os.Stdout
		if format == FormatPretty {
			out = os.Stderr
		}
	}

	var handler slog.Handler
	switch format {
	case FormatPretty:
		handler = prettyHandler(out, level)
	case FormatText:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	default:
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// prettyHandler writes tint lines, coloured only on a terminal.
func prettyHandler(out io.Writer, level slog.Level) slog.Handler {
	color := false
	if f, ok := out.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		color = true
		out = colorable.NewColorable(f)
	}
	return tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !color,
	})
}

// WithComponent tags logger with a component name. A nil logger stays nil.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("component", component)
}
