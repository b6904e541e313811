package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drbgd/internal/drbg"
	"drbgd/internal/logging"
	"drbgd/internal/mechanism"
	"drbgd/internal/trace"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, "aes-256-ctr", cfg.DRBG.Type)
	assert.Equal(t, drbg.DefaultPersonalization, cfg.DRBG.Personalization)
	assert.Equal(t, []string{"os"}, cfg.Entropy.Sources)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)

	master, child, masterTime, childTime := drbg.ReseedDefaults()
	assert.Equal(t, master, cfg.Reseed.MasterInterval)
	assert.Equal(t, child, cfg.Reseed.ChildInterval)
	assert.Equal(t, int64(masterTime/time.Second), cfg.Reseed.MasterTimeSec)
	assert.Equal(t, int64(childTime/time.Second), cfg.Reseed.ChildTimeSec)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("DRBGD_CONFIG_DIR", "/etc/drbgd")
	assert.Equal(t, filepath.Join("/etc/drbgd", "config.toml"), ConfigPath())
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"toml", "config.toml", `
version = 1 # inline comment

[drbg]
type = "sha512"
use_hmac = true

[reseed]
child_interval = 1000
child_time_sec = 60

[entropy]
sources = ["jitter", "os"]
`},
		{"json", "config.json", `{
  "version": 1,
  "drbg": {"type": "sha512", "use_hmac": true},
  "reseed": {"child_interval": 1000, "child_time_sec": 60},
  "entropy": {"sources": ["jitter", "os"]}
}`},
		{"yaml", "config.yaml", `
version: 1
drbg:
  type: sha512
  use_hmac: true
reseed:
  child_interval: 1000
  child_time_sec: 60
entropy:
  sources: [jitter, os]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, "sha512", cfg.DRBG.Type)
			assert.True(t, cfg.DRBG.UseHMAC)
			assert.Equal(t, uint32(1000), cfg.Reseed.ChildInterval)
			assert.Equal(t, int64(60), cfg.Reseed.ChildTimeSec)
			assert.Equal(t, []string{"jitter", "os"}, cfg.Entropy.Sources)

			// Unset keys keep their defaults.
			assert.Equal(t, DefaultConfig().Reseed.MasterInterval, cfg.Reseed.MasterInterval)
			assert.Equal(t, drbg.DefaultPersonalization, cfg.DRBG.Personalization)

			typ, flags, err := cfg.Mechanism()
			require.NoError(t, err)
			assert.Equal(t, mechanism.SHA512, typ)
			assert.Equal(t, mechanism.FlagHMAC, flags)
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	_, err := Load(writeFile(t, "config.toml", "[drbg\ntype = "))
	assert.Error(t, err)
}

func TestSchemaRejectsDocument(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"unknown key", `{"drbg": {"cipher": "aes"}}`, "drbg"},
		{"wrong type", `{"reseed": {"master_interval": "often"}}`, "reseed.master_interval"},
		{"interval too large", `{"reseed": {"child_interval": 16777217}}`, "reseed.child_interval"},
		{"unknown source", `{"entropy": {"sources": ["rdrand"]}}`, "entropy.sources.0"},
		{"unknown section", `{"storage": {}}`, "(root)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument([]byte(tt.content), "json")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestSchemaAcceptsTOMLTypes(t *testing.T) {
	doc := `
[reseed]
master_interval = 256
master_time_sec = 3600

[trace]
categories = ["DRBG", "ENTROPY"]
`
	assert.NoError(t, ValidateDocument([]byte(doc), "toml"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 2 }, "version"},
		{"type", func(c *Config) { c.DRBG.Type = "aes-512-ctr" }, "drbg.type"},
		{"hmac on cipher", func(c *Config) { c.DRBG.UseHMAC = true }, "drbg.use_hmac"},
		{"no df on digest", func(c *Config) { c.DRBG.Type = "sha256"; c.DRBG.NoDF = true }, "drbg.no_df"},
		{"interval", func(c *Config) { c.Reseed.MasterInterval = drbg.MaxReseedInterval + 1 }, "reseed.master_interval"},
		{"time", func(c *Config) { c.Reseed.ChildTimeSec = -1 }, "reseed.child_time_sec"},
		{"no sources", func(c *Config) { c.Entropy.Sources = nil }, "entropy.sources"},
		{"duplicate source", func(c *Config) { c.Entropy.Sources = []string{"os", "os"} }, "entropy.sources"},
		{"jitter rounds", func(c *Config) { c.Entropy.JitterRounds = 0 }, "entropy.jitter_rounds"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log file", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"audit path", func(c *Config) { c.Audit.Enabled = true; c.Audit.FilePath = "" }, "audit.file_path"},
		{"trace", func(c *Config) { c.Trace.Categories = []string{"NOPE"} }, "trace.categories"},
		{"metrics", func(c *Config) { c.Metrics.Format = "xml" }, "metrics.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestWarnings(t *testing.T) {
	errs := ValidationErrors{
		{Field: "entropy.sources", Message: "tpm is not supported on this platform"},
		{Field: "logging.level", Message: "invalid"},
	}
	assert.Len(t, errs.Warnings(), 1)
	assert.Len(t, errs.Errors(), 1)
	assert.True(t, errs.HasErrors())
	assert.False(t, errs.Warnings().HasErrors())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRBGD_TYPE", "sha3-256")
	t.Setenv("DRBGD_USE_HMAC", "true")
	t.Setenv("DRBGD_CHILD_RESEED_INTERVAL", "42")
	t.Setenv("DRBGD_MASTER_RESEED_TIME_SEC", "90")
	t.Setenv("DRBGD_ENTROPY_SOURCES", "jitter, os")
	t.Setenv("DRBGD_LOG_LEVEL", "debug")
	t.Setenv("DRBGD_TRACE", "DRBG,CONF")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "sha3-256", cfg.DRBG.Type)
	assert.True(t, cfg.DRBG.UseHMAC)
	assert.Equal(t, uint32(42), cfg.Reseed.ChildInterval)
	assert.Equal(t, int64(90), cfg.Reseed.MasterTimeSec)
	assert.Equal(t, []string{"jitter", "os"}, cfg.Entropy.Sources)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"DRBG", "CONF"}, cfg.Trace.Categories)
}

func TestEnvOverridesInvalid(t *testing.T) {
	t.Setenv("DRBGD_CHILD_RESEED_INTERVAL", "-1")
	t.Setenv("DRBGD_NO_DF", "maybe")

	err := DefaultConfig().ApplyEnvOverrides()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DRBGD_CHILD_RESEED_INTERVAL")
	assert.Contains(t, err.Error(), "DRBGD_NO_DF")
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Entropy.Sources[0] = "jitter"
	assert.Equal(t, "os", cfg.Entropy.Sources[0])
}

func TestHierarchyConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DRBG.Type = "aes-128-ctr"
	cfg.DRBG.NoDF = true
	cfg.DRBG.Personalization = "node-7"
	cfg.Reseed.MasterTimeSec = 120

	hc, err := cfg.HierarchyConfig()
	require.NoError(t, err)
	assert.Equal(t, mechanism.AES128CTR, hc.Type)
	assert.Equal(t, mechanism.FlagCTRNoDF, hc.Flags)
	assert.Equal(t, []byte("node-7"), hc.Personalization)
	assert.Equal(t, 2*time.Minute, hc.MasterReseedTimeInterval)

	col, err := cfg.EntropyCollector()
	require.NoError(t, err)
	defer col.Close()
	hc.Entropy = col

	h, err := drbg.NewHierarchy(hc)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.Bytes(make([]byte, 32)))
}

func TestEntropyCollectorUnknownSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Entropy.Sources = []string{"os", "lava-lamp"}
	_, err := cfg.EntropyCollector()
	assert.Error(t, err)
}

func TestApplyReseedDefaults(t *testing.T) {
	master, child, masterTime, childTime := drbg.ReseedDefaults()
	t.Cleanup(func() {
		require.NoError(t, drbg.SetReseedDefaults(master, child, masterTime, childTime))
	})

	cfg := DefaultConfig()
	cfg.Reseed.ChildInterval = 7
	cfg.Reseed.ChildTimeSec = 30
	require.NoError(t, cfg.ApplyReseedDefaults())

	_, gotChild, _, gotChildTime := drbg.ReseedDefaults()
	assert.Equal(t, uint32(7), gotChild)
	assert.Equal(t, 30*time.Second, gotChildTime)
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "json"

	lc, err := cfg.LoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelWarn, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "drbgd", lc.Component)
}

func TestTraceSink(t *testing.T) {
	cfg := DefaultConfig()
	sink, err := cfg.TraceSink(nil)
	require.NoError(t, err)
	assert.IsType(t, trace.Nop{}, sink)

	cfg.Trace.Categories = []string{"DRBG"}
	lg, err := logging.New(&logging.Config{Writer: os.Stderr})
	require.NoError(t, err)
	sink, err = cfg.TraceSink(lg.Logger)
	require.NoError(t, err)
	assert.IsType(t, &trace.SlogSink{}, sink)
}

func TestSaveAndLoadOrCreate(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config."+ext)

			cfg, created, err := LoadOrCreate(path)
			require.NoError(t, err)
			assert.True(t, created)

			cfg.Reseed.MasterInterval = 512
			require.NoError(t, SaveConfig(cfg, path))

			again, created, err := LoadOrCreate(path)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, uint32(512), again.Reseed.MasterInterval)
		})
	}
}

func TestDiff(t *testing.T) {
	old := DefaultConfig()
	cur := old.Clone()
	cur.Reseed.MasterInterval = 1
	cur.DRBG.Personalization = "secret"

	diff := Diff(old, cur)
	assert.Contains(t, diff, "reseed.master_interval: 256 -> 1")
	assert.Contains(t, diff, "drbg.personalization: changed")
	assert.Len(t, diff, 2)
	assert.Empty(t, Diff(old, old))
}

func TestLoaderWatch(t *testing.T) {
	path := writeFile(t, "config.toml", "[reseed]\nmaster_interval = 100\n")

	l := NewLoader(path)
	l.debounce = 10 * time.Millisecond
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(100), cfg.Reseed.MasterInterval)

	changed := make(chan [2]*Config, 1)
	l.OnChange(func(old, new *Config) {
		select {
		case changed <- [2]*Config{old, new}:
		default:
		}
	})
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("[reseed]\nmaster_interval = 200\n"), 0600))

	select {
	case got := <-changed:
		assert.Equal(t, uint32(100), got[0].Reseed.MasterInterval)
		assert.Equal(t, uint32(200), got[1].Reseed.MasterInterval)
		assert.Same(t, got[1], l.Config())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestLoaderWatchKeepsConfigOnError(t *testing.T) {
	path := writeFile(t, "config.json", `{"reseed": {"master_interval": 100}}`)

	l := NewLoader(path)
	l.debounce = 10 * time.Millisecond
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"reseed": {"master_interval": "x"}}`), 0600))

	select {
	case err := <-l.Errors():
		assert.ErrorIs(t, err, ErrInvalidConfig)
	case <-time.After(5 * time.Second):
		t.Fatal("no error after invalid write")
	}
	assert.Equal(t, uint32(100), l.Config().Reseed.MasterInterval)
}
