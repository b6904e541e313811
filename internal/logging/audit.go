package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"drbgd/internal/drbg"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventInstantiate   AuditEventType = "instantiate"
	AuditEventReseed        AuditEventType = "reseed"
	AuditEventUninstantiate AuditEventType = "uninstantiate"
	AuditEventGenerate      AuditEventType = "generate"
	AuditEventError         AuditEventType = "error"
	AuditEventConfigChange  AuditEventType = "config_change"
	AuditEventStartup       AuditEventType = "startup"
	AuditEventShutdown      AuditEventType = "shutdown"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	Component string         `json:"component"`
	Instance  string         `json:"instance,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Bytes     int            `json:"bytes,omitempty"`
	Result    string         `json:"result"` // "success" or "failure"
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditConfig holds configuration for the audit logger.
type AuditConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Component is the component name for audit events.
	Component string

	// IncludeGenerate records generate requests as well as lifecycle
	// events. Off by default; generate is by far the most frequent event.
	IncludeGenerate bool
}

// DefaultAuditConfig returns the default audit logger configuration,
// writing audit.log next to the default log file.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		FilePath:   filepath.Join(filepath.Dir(defaultLogPath()), "audit.log"),
		MaxSize:    50,
		MaxBackups: 10,
		Component:  "drbgd",
	}
}

// AuditLogger writes DRBG lifecycle events as JSON lines. It implements
// drbg.Observer.
type AuditLogger struct {
	config  *AuditConfig
	w       io.Writer
	rotator *FileRotator
	now     func() time.Time

	mu  sync.Mutex
	err error
}

// NewAuditLogger creates an AuditLogger writing to cfg.FilePath.
func NewAuditLogger(cfg *AuditConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	rotator, err := NewFileRotator(cfg.FilePath, cfg.MaxSize, cfg.MaxBackups)
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}
	return &AuditLogger{config: cfg, w: rotator, rotator: rotator, now: time.Now}, nil
}

// NewAuditWriter creates an AuditLogger over an arbitrary writer.
func NewAuditWriter(w io.Writer, cfg *AuditConfig) *AuditLogger {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	return &AuditLogger{config: cfg, w: w, now: time.Now}
}

// Log writes an audit event, filling in the timestamp, component and
// result when unset.
func (a *AuditLogger) Log(event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.Result == "" {
		event.Result = "success"
		if event.Error != "" {
			event.Result = "failure"
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := a.w.Write(data); err != nil {
		if a.err == nil {
			a.err = err
		}
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Observe records a DRBG event. Write failures are kept and reported by
// Err, since an observer cannot return an error.
func (a *AuditLogger) Observe(e drbg.Event) {
	event := AuditEvent{Instance: e.Instance}
	switch e.Kind {
	case drbg.EventInstantiate:
		event.EventType = AuditEventInstantiate
	case drbg.EventReseed:
		event.EventType = AuditEventReseed
		event.Reason = e.Reason.String()
	case drbg.EventUninstantiate:
		event.EventType = AuditEventUninstantiate
	case drbg.EventGenerate:
		if !a.config.IncludeGenerate {
			return
		}
		event.EventType = AuditEventGenerate
		event.Bytes = e.Bytes
	case drbg.EventError:
		event.EventType = AuditEventError
		if e.Err != nil {
			event.Error = e.Err.Error()
		}
		var de *drbg.Error
		if errors.As(e.Err, &de) {
			event.Details = map[string]any{"op": de.Op}
		}
	default:
		return
	}
	_ = a.Log(event)
}

// LogStartup records process startup.
func (a *AuditLogger) LogStartup(version string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["version"] = version
	details["pid"] = os.Getpid()
	return a.Log(AuditEvent{EventType: AuditEventStartup, Details: details})
}

// LogShutdown records process shutdown.
func (a *AuditLogger) LogShutdown(reason string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventShutdown,
		Details:   map[string]any{"reason": reason},
	})
}

// LogConfigChange records a reloaded configuration setting.
func (a *AuditLogger) LogConfigChange(setting, oldValue, newValue string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventConfigChange,
		Details: map[string]any{
			"setting":   setting,
			"old_value": oldValue,
			"new_value": newValue,
		},
	})
}

// Err returns the first write error, if any.
func (a *AuditLogger) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Close closes the audit log file.
func (a *AuditLogger) Close() error {
	if a.rotator != nil {
		return a.rotator.Close()
	}
	return nil
}
