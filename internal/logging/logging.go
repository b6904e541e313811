// Package logging provides structured logging with slog for drbgd.
//
// Features:
//   - JSON and text output formats
//   - Redaction of attributes that may carry seed material
//   - Size-based log file rotation
//   - Platform-specific default paths
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Format is the output format (text or JSON).
	Format Format

	// Output is "stdout", "stderr", "file" or "both" (stderr and file).
	Output string

	// FilePath is the log file used when Output includes a file.
	FilePath string

	// MaxSize is the size in megabytes at which the file is rotated.
	MaxSize int64

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int

	// AddSource adds source file and line to log entries.
	AddSource bool

	// Component is the name of the component using this logger.
	Component string

	// Writer overrides Output when set; used by tests and embedders.
	Writer io.Writer
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    10,
		MaxBackups: 3,
		Component:  "drbgd",
	}
}

// defaultLogPath returns the platform-specific default log path.
func defaultLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "drbgd", "drbgd.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "drbgd", "logs", "drbgd.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "drbgd", "drbgd.log")
	}
}

// Logger wraps slog.Logger and owns the log file, if any.
type Logger struct {
	*slog.Logger
	config  *Config
	rotator *FileRotator
	mu      sync.Mutex
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Default returns the default global logger, writing text to stderr until
// SetDefault is called.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		l, err := New(DefaultConfig())
		if err != nil {
			l = &Logger{Logger: slog.Default(), config: DefaultConfig()}
		}
		defaultLogger = l
	}
	return defaultLogger
}

// SetDefault sets the default global logger and slog's default.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	slog.SetDefault(l.Logger)
}

// New creates a new Logger with the given configuration.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{config: cfg}
	w, err := l.writer()
	if err != nil {
		return nil, fmt.Errorf("setup writers: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if shouldRedact(a.Key) {
				a.Value = slog.StringValue("[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}

	l.Logger = slog.New(handler)
	return l, nil
}

func (l *Logger) writer() (io.Writer, error) {
	if l.config.Writer != nil {
		return l.config.Writer, nil
	}

	output := strings.ToLower(l.config.Output)
	if output != "file" && output != "both" {
		if output == "stdout" {
			return os.Stdout, nil
		}
		return os.Stderr, nil
	}

	rotator, err := NewFileRotator(l.config.FilePath, l.config.MaxSize, l.config.MaxBackups)
	if err != nil {
		return nil, err
	}
	l.rotator = rotator
	if output == "both" {
		return io.MultiWriter(os.Stderr, rotator), nil
	}
	return rotator, nil
}

// sensitiveKeys name attributes whose values must never reach a log:
// anything that may hold seed material or generator state.
var sensitiveKeys = []string{
	"entropy", "seed", "nonce", "personalization", "pers", "adin",
	"additional_input", "key", "secret", "password", "token",
}

// shouldRedact checks if an attribute key may carry sensitive data.
func shouldRedact(key string) bool {
	keyLower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(keyLower, s) {
			return true
		}
	}
	return false
}

// WithComponent returns a logger tagged with a different component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("component", name)),
		config:  l.config,
		rotator: l.rotator,
	}
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes the log file, if any.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}

// ParseLevel parses a string into a log level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// LevelString returns the string representation of a log level.
func LevelString(level Level) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}
