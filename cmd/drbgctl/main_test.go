package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drbgd/internal/drbg"
)

// writeConfig writes a config that keeps logs and audit records inside a
// temp dir and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := `version = 1

[drbg]
type = "aes-256-ctr"

[entropy]
sources = ["os"]

[logging]
level = "warn"
output = "stderr"

[audit]
enabled = true
file_path = "` + filepath.ToSlash(filepath.Join(dir, "audit.log")) + `"
` + extra
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	master, child, masterTime, childTime := drbg.ReseedDefaults()
	t.Cleanup(func() { _ = drbg.SetReseedDefaults(master, child, masterTime, childTime) })
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, out, _ := runCLI(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Usage: drbgctl")

	code, _, errOut := runCLI(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Commands:")

	code, _, errOut = runCLI(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")

	code, out, _ = runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "drbgctl "+Version+"\n", out)
}

func TestRunBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"drbg": {"cipher": "aes"}}`), 0600))

	code, _, errOut := runCLI(t, "-config", path, "status")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "load config")
}

func TestGenerate(t *testing.T) {
	cfg := writeConfig(t, "")

	tests := []struct {
		name   string
		args   []string
		decode func(string) ([]byte, error)
		want   int
	}{
		{"hex default", nil, hex.DecodeString, 32},
		{"hex private", []string{"-private", "-n", "48"}, hex.DecodeString, 48},
		{"base64", []string{"-format", "base64", "-n", "20"}, base64.StdEncoding.DecodeString, 20},
		{"empty", []string{"-n", "0"}, hex.DecodeString, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-config", cfg, "generate"}, tt.args...)
			code, out, errOut := runCLI(t, args...)
			require.Equal(t, 0, code, errOut)

			got, err := tt.decode(strings.TrimSpace(out))
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestGenerateRawToFile(t *testing.T) {
	cfg := writeConfig(t, "")
	out := filepath.Join(t.TempDir(), "random.bin")

	code, stdout, errOut := runCLI(t, "-config", cfg, "generate", "-format", "raw", "-n", "1000", "-o", out)
	require.Equal(t, 0, code, errOut)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, data, 1000)
}

func TestGenerateErrors(t *testing.T) {
	cfg := writeConfig(t, "")

	code, _, errOut := runCLI(t, "-config", cfg, "generate", "-format", "octal")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, `unknown format "octal"`)

	code, _, _ = runCLI(t, "-config", cfg, "generate", "-n", "-1")
	assert.Equal(t, 1, code)
}

func TestStatus(t *testing.T) {
	cfg := writeConfig(t, "")

	code, out, errOut := runCLI(t, "-config", cfg, "status")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "INSTANCE")
	assert.Contains(t, out, "master")
	assert.Contains(t, out, "public")
	assert.Contains(t, out, "private")
	assert.Contains(t, out, "os")

	code, out, errOut = runCLI(t, "-config", cfg, "status", "-json")
	require.Equal(t, 0, code, errOut)

	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Instances, 3)
	for _, s := range report.Instances {
		assert.Equal(t, "ready", s.State, s.Name)
		assert.Equal(t, 256, s.Strength, s.Name)
	}
	require.Len(t, report.Entropy, 1)
	assert.Equal(t, "os", report.Entropy[0].Name)
	assert.NotZero(t, report.Entropy[0].BytesGenerated)
}

func TestSelftest(t *testing.T) {
	cfg := writeConfig(t, "")

	code, out, errOut := runCLI(t, "-config", cfg, "selftest")
	require.Equal(t, 0, code, errOut)
	assert.NotContains(t, out, "FAIL")
	for _, want := range []string{"kat/CTR_DRBG AES-128 df", "entropy/os", "hierarchy/generate", "hierarchy/propagation"} {
		assert.Contains(t, out, want)
	}
}

func TestSeed(t *testing.T) {
	cfg := writeConfig(t, "")
	seed := filepath.Join(t.TempDir(), "seed.bin")
	require.NoError(t, os.WriteFile(seed, bytes.Repeat([]byte{0x5a}, 64), 0600))

	tests := []struct {
		name string
		args []string
	}{
		{"add without credit", []string{"-file", seed}},
		{"add with credit", []string{"-file", seed, "-entropy", "128"}},
		{"full seed", []string{"-file", seed, "-full"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-config", cfg, "seed"}, tt.args...)
			code, out, errOut := runCLI(t, args...)
			require.Equal(t, 0, code, errOut)
			assert.Contains(t, out, "seeded master with 64 bytes")
			assert.Contains(t, out, "state ready")
		})
	}

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0600))
	code, _, errOut := runCLI(t, "-config", cfg, "seed", "-file", empty)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no seed data")
}

func TestWatchStops(t *testing.T) {
	cfg := writeConfig(t, "")

	code, _, errOut := runCLI(t, "-config", cfg, "watch", "-tick", "5ms", "-for", "50ms")
	assert.Equal(t, 0, code, errOut)

	code, _, _ = runCLI(t, "-config", cfg, "watch", "-tick", "0s")
	assert.Equal(t, 1, code)
}

func TestMetricsOutput(t *testing.T) {
	cfg := writeConfig(t, "\n[metrics]\nenabled = true\nformat = \"prometheus\"\n")

	code, _, errOut := runCLI(t, "-config", cfg, "generate", "-n", "16")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "drbgd_instantiations_total")
	assert.Contains(t, errOut, "drbgd_generate_requests_total")
}

func TestAuditRecords(t *testing.T) {
	cfg := writeConfig(t, "")

	code, _, errOut := runCLI(t, "-config", cfg, "generate")
	require.Equal(t, 0, code, errOut)

	data, err := os.ReadFile(filepath.Join(filepath.Dir(cfg), "audit.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	var types []string
	for _, line := range lines {
		var ev struct {
			EventType string `json:"event_type"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		types = append(types, ev.EventType)
	}
	assert.Equal(t, "startup", types[0])
	assert.Equal(t, "shutdown", types[len(types)-1])
	assert.Contains(t, types, "instantiate")
	assert.Contains(t, types, "uninstantiate")
}

func TestHealth(t *testing.T) {
	cfg := writeConfig(t, "")

	code, out, errOut := runCLI(t, "-config", cfg, "health")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "drbg/master")
	assert.Contains(t, out, "entropy/os")
	assert.Contains(t, out, "overall")

	code, out, errOut = runCLI(t, "-config", cfg, "health", "-json")
	require.Equal(t, 0, code, errOut)
	var report struct {
		Status     string                     `json:"status"`
		Components map[string]json.RawMessage `json:"components"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "healthy", report.Status)
	assert.Len(t, report.Components, 4)
}
