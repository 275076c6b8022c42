package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Rotation    RotationConfig
}

// RotationConfig controls how file outputs are rotated.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	closers       []io.Closer
)

// Init configures the global logger instance. Calling it again replaces the
// previous handlers and closes their files.
func Init(cfg Config) error {
	handler, opened, err := buildHandler(cfg)
	if err != nil {
		closeAll(opened)
		return err
	}

	mu.Lock()
	previous := closers
	defaultLogger = slog.New(handler)
	closers = opened
	mu.Unlock()

	return closeAll(previous)
}

func buildHandler(cfg Config) (slog.Handler, []io.Closer, error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var opened []io.Closer
	writers := make([]io.Writer, 0, len(cfg.OutputPaths))
	for _, out := range cfg.OutputPaths {
		writer, closer, err := openWriter(out, cfg.Rotation)
		if err != nil {
			return nil, opened, err
		}
		if closer != nil {
			opened = append(opened, closer)
		}
		writers = append(writers, writer)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}

	switch strings.ToLower(cfg.Format) {
	case "text":
		return slog.NewTextHandler(writer, opts), opened, nil
	case "console":
		return tint.NewHandler(writer, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.DateTime,
			NoColor:    !isTerminal(writer),
		}), opened, nil
	default:
		return slog.NewJSONHandler(writer, opts), opened, nil
	}
}

func openWriter(path string, rotation RotationConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "":
		return nil, nil, errors.New("empty log output path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	if rotation.MaxSizeMB <= 0 {
		rotation.MaxSizeMB = 100
	}
	if rotation.MaxBackups <= 0 {
		rotation.MaxBackups = 7
	}
	if rotation.MaxAgeDays <= 0 {
		rotation.MaxAgeDays = 30
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}
	return file, file, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func closeAll(list []io.Closer) error {
	var err error
	for _, closer := range list {
		err = errors.Join(err, closer.Close())
	}
	return err
}

// L returns the structured logger instance.
func L() *slog.Logger {
	mu.Lock()
	current := defaultLogger
	mu.Unlock()
	if current != nil {
		return current
	}
	_ = Init(Config{})
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Sync flushes and closes file outputs. Later log calls fall back to stdout.
func Sync() error {
	mu.Lock()
	list := closers
	closers = nil
	defaultLogger = nil
	mu.Unlock()
	return closeAll(list)
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
