// Package config handles configuration loading, validation, and
// conversion for drbgd.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"drbgd/internal/drbg"
	"drbgd/internal/entropy"
	"drbgd/internal/logging"
	"drbgd/internal/mechanism"
	"drbgd/internal/trace"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete drbgd configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// DRBG selects the mechanism shared by the hierarchy.
	DRBG DRBGConfig `toml:"drbg" json:"drbg" yaml:"drbg"`

	// Reseed sets the process-wide reseed intervals.
	Reseed ReseedConfig `toml:"reseed" json:"reseed" yaml:"reseed"`

	// Entropy lists the sources feeding the master instance.
	Entropy EntropyConfig `toml:"entropy" json:"entropy" yaml:"entropy"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Audit configures the lifecycle audit log.
	Audit AuditConfig `toml:"audit" json:"audit" yaml:"audit"`

	// Trace enables diagnostic trace categories.
	Trace TraceConfig `toml:"trace" json:"trace" yaml:"trace"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// DRBGConfig holds mechanism selection.
type DRBGConfig struct {
	// Type is a mechanism name such as "aes-256-ctr" or "sha512".
	Type string `toml:"type" json:"type" yaml:"type"`

	// UseHMAC selects HMAC_DRBG for digest types.
	UseHMAC bool `toml:"use_hmac" json:"use_hmac" yaml:"use_hmac"`

	// NoDF disables the CTR derivation function.
	NoDF bool `toml:"no_df" json:"no_df" yaml:"no_df"`

	// Personalization is the instantiation personalization string.
	Personalization string `toml:"personalization" json:"personalization" yaml:"personalization"`
}

// ReseedConfig holds reseed intervals. Zero disables a trigger.
type ReseedConfig struct {
	// MasterInterval is the generate count between master reseeds.
	MasterInterval uint32 `toml:"master_interval" json:"master_interval" yaml:"master_interval"`

	// ChildInterval is the generate count between child reseeds.
	ChildInterval uint32 `toml:"child_interval" json:"child_interval" yaml:"child_interval"`

	// MasterTimeSec is the master reseed time interval in seconds.
	MasterTimeSec int64 `toml:"master_time_sec" json:"master_time_sec" yaml:"master_time_sec"`

	// ChildTimeSec is the child reseed time interval in seconds.
	ChildTimeSec int64 `toml:"child_time_sec" json:"child_time_sec" yaml:"child_time_sec"`
}

// EntropyConfig holds entropy source configuration.
type EntropyConfig struct {
	// Sources are tried in order: "os", "jitter", "tpm".
	Sources []string `toml:"sources" json:"sources" yaml:"sources"`

	// TPMPath is the TPM device; empty tries the default devices.
	TPMPath string `toml:"tpm_path" json:"tpm_path" yaml:"tpm_path"`

	// JitterRounds is the number of timing samples per jitter byte.
	JitterRounds int `toml:"jitter_rounds" json:"jitter_rounds" yaml:"jitter_rounds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the log file size that triggers rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// AuditConfig holds audit log configuration.
type AuditConfig struct {
	Enabled         bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	FilePath        string `toml:"file_path" json:"file_path" yaml:"file_path"`
	IncludeGenerate bool   `toml:"include_generate" json:"include_generate" yaml:"include_generate"`
}

// TraceConfig holds trace configuration.
type TraceConfig struct {
	// Categories are trace category names such as "DRBG" or "ANY".
	Categories []string `toml:"categories" json:"categories,omitempty" yaml:"categories,omitempty"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Format is "prometheus" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	master, child, masterTime, childTime := drbg.ReseedDefaults()
	logCfg := logging.DefaultConfig()
	return &Config{
		Version: Version,
		DRBG: DRBGConfig{
			Type:            string(mechanism.DefaultType),
			Personalization: drbg.DefaultPersonalization,
		},
		Reseed: ReseedConfig{
			MasterInterval: master,
			ChildInterval:  child,
			MasterTimeSec:  int64(masterTime / time.Second),
			ChildTimeSec:   int64(childTime / time.Second),
		},
		Entropy: EntropyConfig{
			Sources:      []string{"os"},
			JitterRounds: entropy.DefaultJitterRounds,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logCfg.FilePath,
			MaxSizeMB:  int(logCfg.MaxSize),
			MaxBackups: logCfg.MaxBackups,
		},
		Audit: AuditConfig{
			FilePath: logging.DefaultAuditConfig().FilePath,
		},
		Metrics: MetricsConfig{
			Format: "prometheus",
		},
	}
}

// Load reads configuration from path, applies DRBGD_* environment
// overrides and validates the result. A missing file yields the defaults.
// TOML, JSON and YAML are chosen by extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFromFile decodes path over the defaults after checking the
// document against the schema.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if err := ValidateDocument(data, format); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := decode(data, format, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, format string, v any) error {
	switch format {
	case "json":
		if err := decodeJSON(data, v); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), v); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies DRBGD_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidationErrors

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = splitList(v)
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, ValidationError{Field: name, Message: "expected a boolean"})
				return
			}
			*dst = b
		}
	}
	uint32v := func(name string, dst *uint32) {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				errs = append(errs, ValidationError{Field: name, Message: "expected an unsigned 32-bit integer"})
				return
			}
			*dst = uint32(n)
		}
	}
	int64v := func(name string, dst *int64) {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, ValidationError{Field: name, Message: "expected an integer"})
				return
			}
			*dst = n
		}
	}

	str("DRBGD_TYPE", &c.DRBG.Type)
	boolean("DRBGD_USE_HMAC", &c.DRBG.UseHMAC)
	boolean("DRBGD_NO_DF", &c.DRBG.NoDF)
	str("DRBGD_PERSONALIZATION", &c.DRBG.Personalization)

	uint32v("DRBGD_MASTER_RESEED_INTERVAL", &c.Reseed.MasterInterval)
	uint32v("DRBGD_CHILD_RESEED_INTERVAL", &c.Reseed.ChildInterval)
	int64v("DRBGD_MASTER_RESEED_TIME_SEC", &c.Reseed.MasterTimeSec)
	int64v("DRBGD_CHILD_RESEED_TIME_SEC", &c.Reseed.ChildTimeSec)

	list("DRBGD_ENTROPY_SOURCES", &c.Entropy.Sources)
	str("DRBGD_TPM_PATH", &c.Entropy.TPMPath)

	str("DRBGD_LOG_LEVEL", &c.Logging.Level)
	str("DRBGD_LOG_FORMAT", &c.Logging.Format)
	str("DRBGD_LOG_OUTPUT", &c.Logging.Output)
	str("DRBGD_LOG_PATH", &c.Logging.FilePath)

	boolean("DRBGD_AUDIT", &c.Audit.Enabled)
	str("DRBGD_AUDIT_PATH", &c.Audit.FilePath)

	list("DRBGD_TRACE", &c.Trace.Categories)
	boolean("DRBGD_METRICS", &c.Metrics.Enabled)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Entropy.Sources = append([]string(nil), c.Entropy.Sources...)
	clone.Trace.Categories = append([]string(nil), c.Trace.Categories...)
	return &clone
}

// Mechanism resolves the configured type and flags.
func (c *Config) Mechanism() (mechanism.Type, mechanism.Flags, error) {
	t, err := mechanism.ParseType(c.DRBG.Type)
	if err != nil {
		return "", 0, err
	}
	var flags mechanism.Flags
	if c.DRBG.UseHMAC {
		flags |= mechanism.FlagHMAC
	}
	if c.DRBG.NoDF {
		flags |= mechanism.FlagCTRNoDF
	}
	return t, flags, nil
}

// ApplyReseedDefaults installs the configured intervals as the
// process-wide defaults for new instances.
func (c *Config) ApplyReseedDefaults() error {
	return drbg.SetReseedDefaults(
		c.Reseed.MasterInterval,
		c.Reseed.ChildInterval,
		time.Duration(c.Reseed.MasterTimeSec)*time.Second,
		time.Duration(c.Reseed.ChildTimeSec)*time.Second,
	)
}

// EntropyCollector builds the configured sources. The caller closes it.
func (c *Config) EntropyCollector() (*entropy.Collector, error) {
	col := entropy.NewCollector()
	for _, name := range c.Entropy.Sources {
		src, err := entropy.NewSource(name, c.Entropy.TPMPath, c.Entropy.JitterRounds)
		if err != nil {
			col.Close()
			return nil, err
		}
		col.Add(src)
	}
	return col, nil
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	return lc, nil
}

// TraceSink returns a sink writing the configured categories to logger,
// or trace.Nop when none are enabled.
func (c *Config) TraceSink(logger *slog.Logger) (trace.Sink, error) {
	cats, err := trace.ParseCategories(c.Trace.Categories)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return trace.Nop{}, nil
	}
	return trace.NewSlogSink(logger, cats...), nil
}

// HierarchyConfig converts the configuration for drbg.NewHierarchy.
// Entropy is left nil; callers attach EntropyCollector.
func (c *Config) HierarchyConfig() (drbg.HierarchyConfig, error) {
	t, flags, err := c.Mechanism()
	if err != nil {
		return drbg.HierarchyConfig{}, err
	}
	return drbg.HierarchyConfig{
		Type:                     t,
		Flags:                    flags,
		Personalization:          []byte(c.DRBG.Personalization),
		MasterReseedInterval:     c.Reseed.MasterInterval,
		ChildReseedInterval:      c.Reseed.ChildInterval,
		MasterReseedTimeInterval: time.Duration(c.Reseed.MasterTimeSec) * time.Second,
		ChildReseedTimeInterval:  time.Duration(c.Reseed.ChildTimeSec) * time.Second,
	}, nil
}
