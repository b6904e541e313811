package config

import (
	"errors"
	"fmt"
	"strings"

	"drbgd/internal/drbg"
	"drbgd/internal/mechanism"
	"drbgd/internal/trace"
)

// ErrInvalidConfig is matched by every ValidationErrors value.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsWarning reports whether the issue is non-fatal. Only a TPM source on
// a platform without TPM devices is a warning; the collector falls back
// to the next source.
func (e *ValidationError) IsWarning() bool {
	return e.Field == "entropy.sources" && strings.HasPrefix(e.Message, "tpm")
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrInvalidConfig) true.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Warnings returns only warning-level issues.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for i := range e {
		if e[i].IsWarning() {
			out = append(out, e[i])
		}
	}
	return out
}

// Errors returns only error-level issues.
func (e ValidationErrors) Errors() ValidationErrors {
	var out ValidationErrors
	for i := range e {
		if !e[i].IsWarning() {
			out = append(out, e[i])
		}
	}
	return out
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// Check returns every issue, warnings included.
func Check(c *Config) ValidationErrors {
	var errs ValidationErrors
	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}
	errs = append(errs, validateDRBG(&c.DRBG)...)
	errs = append(errs, validateReseed(&c.Reseed)...)
	errs = append(errs, validateEntropy(&c.Entropy)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	if c.Audit.Enabled && c.Audit.FilePath == "" {
		errs = append(errs, ValidationError{Field: "audit.file_path", Message: "required when audit is enabled"})
	}
	if _, err := trace.ParseCategories(c.Trace.Categories); err != nil {
		errs = append(errs, ValidationError{Field: "trace.categories", Message: err.Error()})
	}
	switch c.Metrics.Format {
	case "", "prometheus", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "metrics.format",
			Message: fmt.Sprintf("invalid format: %s (valid: prometheus, json)", c.Metrics.Format),
		})
	}
	return errs
}

// ValidateConfig returns the error-level issues, or nil.
func ValidateConfig(c *Config) error {
	if errs := Check(c).Errors(); len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDRBG(d *DRBGConfig) ValidationErrors {
	var errs ValidationErrors

	t, err := mechanism.ParseType(d.Type)
	if err != nil {
		return append(errs, ValidationError{
			Field:   "drbg.type",
			Message: fmt.Sprintf("unsupported type %q", d.Type),
		})
	}
	if d.UseHMAC && t.IsCipher() {
		errs = append(errs, ValidationError{Field: "drbg.use_hmac", Message: "only applies to digest types"})
	}
	if d.NoDF && !t.IsCipher() {
		errs = append(errs, ValidationError{Field: "drbg.no_df", Message: "only applies to CTR types"})
	}
	if len(d.Personalization) > mechanism.MaxLength {
		errs = append(errs, ValidationError{Field: "drbg.personalization", Message: "too long"})
	}
	return errs
}

func validateReseed(r *ReseedConfig) ValidationErrors {
	var errs ValidationErrors
	maxTime := int64(drbg.MaxReseedTimeInterval.Seconds())

	for _, f := range []struct {
		field string
		v     uint32
	}{{"reseed.master_interval", r.MasterInterval}, {"reseed.child_interval", r.ChildInterval}} {
		if f.v > drbg.MaxReseedInterval {
			errs = append(errs, ValidationError{
				Field:   f.field,
				Message: fmt.Sprintf("value must be between 0 and %d", drbg.MaxReseedInterval),
			})
		}
	}
	for _, f := range []struct {
		field string
		v     int64
	}{{"reseed.master_time_sec", r.MasterTimeSec}, {"reseed.child_time_sec", r.ChildTimeSec}} {
		if f.v < 0 || f.v > maxTime {
			errs = append(errs, ValidationError{
				Field:   f.field,
				Message: fmt.Sprintf("value must be between 0 and %d", maxTime),
			})
		}
	}
	return errs
}

func validateEntropy(e *EntropyConfig) ValidationErrors {
	var errs ValidationErrors

	if len(e.Sources) == 0 {
		errs = append(errs, ValidationError{Field: "entropy.sources", Message: "at least one source is required"})
	}
	seen := make(map[string]bool)
	for _, name := range e.Sources {
		switch name {
		case "os", "jitter":
		case "tpm":
			if !HasTPMSupport() {
				errs = append(errs, ValidationError{Field: "entropy.sources", Message: "tpm is not supported on this platform"})
			}
		default:
			errs = append(errs, ValidationError{
				Field:   "entropy.sources",
				Message: fmt.Sprintf("unknown source %q (valid: os, jitter, tpm)", name),
			})
		}
		if seen[name] {
			errs = append(errs, ValidationError{Field: "entropy.sources", Message: fmt.Sprintf("duplicate source %q", name)})
		}
		seen[name] = true
	}
	if e.JitterRounds < 1 {
		errs = append(errs, ValidationError{Field: "entropy.jitter_rounds", Message: "must be at least 1"})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Message: "max size cannot be negative"})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Message: "max backups cannot be negative"})
	}
	return errs
}
