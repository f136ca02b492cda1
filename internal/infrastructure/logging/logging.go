package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Init builds the process logger, installs it as the slog and log default
// and returns it for injection. The returned closer is nil unless a log
// file was configured.
func Init(cfg Config) (*slog.Logger, io.Closer, error) {
	var (
		out      io.Writer = os.Stdout
		rotating *RotatingWriter
	)
	if strings.TrimSpace(cfg.File) != "" {
		writer, err := NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		rotating = writer
		out = io.MultiWriter(os.Stdout, writer)
	}

	level := ParseLevel(cfg.Level)
	logger := slog.New(newHandler(out, cfg.Format, level))
	slog.SetDefault(logger)

	log.SetFlags(0)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), level).Writer())

	if rotating == nil {
		return logger, nil, nil
	}
	return logger, rotating, nil
}

func newHandler(out io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// ParseLevel maps a level name to a slog level; unknown names mean info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
