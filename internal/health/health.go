// Package health aggregates component checks for a running DRBG hierarchy.
//
// Each instance and each entropy source is a component. Instance checks are
// critical: an instance outside StateReady makes the overall status
// unhealthy. Entropy source checks only degrade it.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"drbgd/internal/drbg"
	"drbgd/internal/entropy"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) CheckResult

// Component is a named check.
type Component struct {
	Name     string
	Critical bool // failure makes the overall status unhealthy
	Check    Check
	Timeout  time.Duration
}

// DefaultTimeout bounds a component check that sets no timeout.
const DefaultTimeout = 5 * time.Second

// Checker runs registered checks and keeps their last results.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	startTime  time.Time
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
		startTime:  time.Now(),
	}
}

// Register adds or replaces a component. Its result is unknown until the
// first Check.
func (c *Checker) Register(component *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if component.Timeout == 0 {
		component.Timeout = DefaultTimeout
	}
	c.components[component.Name] = component
	c.results[component.Name] = CheckResult{Status: StatusUnknown}
}

// RegisterFunc registers a check with the default timeout.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// Unregister removes a component.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.components, name)
	delete(c.results, name)
}

// Check runs every registered check concurrently and returns the results.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for _, comp := range components {
		wg.Add(1)
		go func(comp *Component) {
			defer wg.Done()
			result := run(ctx, comp)

			rmu.Lock()
			results[comp.Name] = result
			rmu.Unlock()

			c.mu.Lock()
			if _, ok := c.components[comp.Name]; ok {
				c.results[comp.Name] = result
			}
			c.mu.Unlock()
		}(comp)
	}
	wg.Wait()
	return results
}

// run executes one check with its timeout and turns a panic into an
// unhealthy result.
func run(ctx context.Context, comp *Component) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{
					Status:  StatusUnhealthy,
					Message: "check panicked",
					Error:   fmt.Sprint(r),
				}
			}
		}()
		done <- comp.Check(checkCtx)
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-checkCtx.Done():
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "check timed out",
			Error:   checkCtx.Err().Error(),
		}
	}
	result.LastChecked = start
	result.Duration = time.Since(start)
	return result
}

// Results returns a copy of the last results.
func (c *Checker) Results() map[string]CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]CheckResult, len(c.results))
	for k, v := range c.results {
		results[k] = v
	}
	return results
}

// OverallStatus aggregates the last results.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false
	for name, result := range c.results {
		comp := c.components[name]
		switch result.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.Critical {
				hasUnknown = true
			}
		}
	}

	switch {
	case hasUnknown:
		return StatusUnknown
	case hasDegraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Report is a point-in-time view of every component.
type Report struct {
	Status     Status                 `json:"status"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Run runs every check and returns the aggregated report.
func (c *Checker) Run(ctx context.Context) Report {
	components := c.Check(ctx)
	return Report{
		Status:     c.OverallStatus(),
		Uptime:     time.Since(c.startTime).Round(time.Millisecond).String(),
		Components: components,
		Timestamp:  time.Now(),
	}
}

// Names returns the component names of r in sorted order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Components))
	for name := range r.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstanceCheck reports an instance as healthy while it is ready. An
// uninstantiated instance is degraded; one in the error state is
// unhealthy.
func InstanceCheck(d *drbg.DRBG) Check {
	return func(context.Context) CheckResult {
		s := d.Stats()
		details := map[string]any{
			"mechanism":           s.Mechanism,
			"counter":             s.Counter,
			"reseed_interval":     s.ReseedInterval,
			"propagation_counter": s.PropagationCounter,
		}
		switch d.State() {
		case drbg.StateReady:
			return CheckResult{Status: StatusHealthy, Message: "ready", Details: details}
		case drbg.StateUninitialised:
			return CheckResult{Status: StatusDegraded, Message: "not instantiated", Details: details}
		default:
			return CheckResult{Status: StatusUnhealthy, Message: "error state", Details: details}
		}
	}
}

// SourceCheck maps an entropy source's health test status onto a result.
func SourceCheck(src entropy.Source) Check {
	return func(context.Context) CheckResult {
		st := src.Stats()
		details := map[string]any{
			"bytes_generated": st.BytesGenerated,
			"errors":          st.Errors,
		}
		result := CheckResult{Details: details, Error: st.LastError}
		switch st.HealthStatus {
		case entropy.HealthHealthy.String(), "external":
			result.Status = StatusHealthy
		case entropy.HealthRecovering.String():
			result.Status = StatusDegraded
		case entropy.HealthFailed.String(), "unavailable":
			result.Status = StatusUnhealthy
		default:
			result.Status = StatusUnknown
		}
		result.Message = st.HealthStatus
		return result
	}
}

// ForHierarchy registers one critical check per instance of h and one
// non-critical check per source in col. col may be nil.
func ForHierarchy(h *drbg.Hierarchy, col *entropy.Collector) *Checker {
	c := NewChecker()
	for _, d := range []*drbg.DRBG{h.Master(), h.Public(), h.Private()} {
		c.RegisterFunc("drbg/"+d.Name(), true, InstanceCheck(d))
	}
	if col != nil {
		for _, src := range col.Sources() {
			c.RegisterFunc("entropy/"+src.Name(), false, SourceCheck(src))
		}
	}
	return c
}
