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
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig controls audit log output behaviour. Cache writes, cache
// invalidations and terminal poll outcomes are written to the audit log.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// loggers 是一次 Init 的产物，重新初始化时整体替换。
type loggers struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.Mutex
	current *loggers
)

// Init 按配置重建全局日志器，并关闭上一次初始化打开的文件。
func Init(cfg Config) error {
	next, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	prev := current
	current = next
	mu.Unlock()
	if prev != nil {
		return closeAll(prev.closers)
	}
	return nil
}

func build(cfg Config) (*loggers, error) {
	out := &loggers{}
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	handler, err := out.buildHandler(cfg.Format, cfg.OutputPaths, handlerOpts)
	if err != nil {
		_ = closeAll(out.closers)
		return nil, err
	}
	out.app = slog.New(handler)
	out.audit = out.app
	if cfg.Audit.Enabled {
		audit, err := out.buildAuditLogger(cfg.Audit)
		if err != nil {
			_ = closeAll(out.closers)
			return nil, err
		}
		out.audit = audit
	}
	return out, nil
}

func (l *loggers) buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	// stdout 留给命令输出，日志默认写 stderr。
	writers := []io.Writer{os.Stderr}
	if len(outputs) > 0 {
		writers = writers[:0]
		for _, out := range outputs {
			writer, closer, err := openWriter(out)
			if err != nil {
				return nil, err
			}
			if closer != nil {
				l.closers = append(l.closers, closer)
			}
			writers = append(writers, writer)
		}
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), nil
	}
	return slog.NewJSONHandler(writer, opts), nil
}

func (l *loggers) buildAuditLogger(cfg AuditConfig) (*slog.Logger, error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}
	writer, err := newRotatingFile(cfg)
	if err != nil {
		return nil, err
	}
	l.closers = append(l.closers, writer)
	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})), nil
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, file, nil
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

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	return err
}

func loaded() *loggers {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current, _ = build(Config{})
	}
	return current
}

// L returns the application logger, falling back to stderr JSON before Init.
func L() *slog.Logger {
	return loaded().app
}

// Audit returns the audit logger. Without an audit file it is the application logger.
func Audit() *slog.Logger {
	return loaded().audit
}

// Sync closes every file opened by the last Init. Later calls to L or Audit
// fall back to the stderr defaults.
func Sync() error {
	mu.Lock()
	prev := current
	current = nil
	mu.Unlock()
	if prev == nil {
		return nil
	}
	return closeAll(prev.closers)
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
