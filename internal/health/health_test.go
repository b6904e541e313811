package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drbgd/internal/drbg"
	"drbgd/internal/entropy"
	"drbgd/internal/pool"
)

func healthy(context.Context) CheckResult   { return CheckResult{Status: StatusHealthy} }
func degraded(context.Context) CheckResult  { return CheckResult{Status: StatusDegraded} }
func unhealthy(context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} }

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(c *Checker)
		run    bool
		expect Status
	}{
		{"empty", func(c *Checker) {}, true, StatusHealthy},
		{"all healthy", func(c *Checker) {
			c.RegisterFunc("a", true, healthy)
			c.RegisterFunc("b", false, healthy)
		}, true, StatusHealthy},
		{"critical unhealthy", func(c *Checker) {
			c.RegisterFunc("a", true, unhealthy)
			c.RegisterFunc("b", false, healthy)
		}, true, StatusUnhealthy},
		{"non-critical unhealthy degrades", func(c *Checker) {
			c.RegisterFunc("a", true, healthy)
			c.RegisterFunc("b", false, unhealthy)
		}, true, StatusDegraded},
		{"degraded", func(c *Checker) {
			c.RegisterFunc("a", true, degraded)
		}, true, StatusDegraded},
		{"critical not yet run", func(c *Checker) {
			c.RegisterFunc("a", true, healthy)
		}, false, StatusUnknown},
		{"non-critical not yet run", func(c *Checker) {
			c.RegisterFunc("a", false, healthy)
		}, false, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			tt.setup(c)
			if tt.run {
				c.Check(context.Background())
			}
			assert.Equal(t, tt.expect, c.OverallStatus())
		})
	}
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:     "slow",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("panics", false, func(context.Context) CheckResult {
		panic("boom")
	})

	results := c.Check(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, StatusUnhealthy, results["panics"].Status)
	assert.Equal(t, "boom", results["panics"].Error)
	assert.False(t, results["slow"].LastChecked.IsZero())

	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
	assert.Equal(t, results, c.Results())
}

func TestUnregister(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("a", true, unhealthy)
	c.Check(context.Background())
	require.Equal(t, StatusUnhealthy, c.OverallStatus())

	c.Unregister("a")
	assert.Equal(t, StatusHealthy, c.OverallStatus())
	assert.Empty(t, c.Results())
}

type fakeSource struct {
	health string
}

func (s fakeSource) Name() string                  { return "fake" }
func (s fakeSource) Type() entropy.SourceType      { return entropy.SourceExternal }
func (s fakeSource) GetEntropy(p *pool.Pool) error { return nil }
func (s fakeSource) Stats() entropy.Stats {
	return entropy.Stats{Name: "fake", HealthStatus: s.health, LastError: "stuck"}
}

func TestSourceCheck(t *testing.T) {
	tests := []struct {
		health string
		expect Status
	}{
		{"healthy", StatusHealthy},
		{"external", StatusHealthy},
		{"recovering", StatusDegraded},
		{"failed", StatusUnhealthy},
		{"unavailable", StatusUnhealthy},
		{"unknown", StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.health, func(t *testing.T) {
			r := SourceCheck(fakeSource{health: tt.health})(context.Background())
			assert.Equal(t, tt.expect, r.Status)
			assert.Equal(t, tt.health, r.Message)
			assert.Equal(t, "stuck", r.Error)
		})
	}
}

func TestForHierarchy(t *testing.T) {
	col := entropy.NewCollector(entropy.NewOSSource())
	cfg := drbg.DefaultHierarchyConfig()
	cfg.Entropy = col
	h, err := drbg.NewHierarchy(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	c := ForHierarchy(h, col)
	report := c.Run(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, []string{"drbg/master", "drbg/private", "drbg/public", "entropy/os"}, report.Names())
	assert.Equal(t, "ready", report.Components["drbg/master"].Message)

	h.Public().Uninstantiate()
	report = c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Components["drbg/public"].Status)
}
