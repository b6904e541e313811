package entropy

import "sync"

// HealthStatus represents the health state of a noise source.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthFailed
	HealthRecovering // was failed, now passing
)

func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthFailed:
		return "failed"
	case HealthRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// HealthTest is a continuous test over raw noise samples.
type HealthTest interface {
	Name() string
	Feed(b byte)
	Status() HealthStatus
	Reset()
	FailureCount() uint64
}

// RepetitionCountTest implements NIST SP 800-90B Section 4.4.1.
// It detects a source stuck on one value.
type RepetitionCountTest struct {
	mu sync.Mutex

	cutoff int

	started     bool
	lastValue   byte
	repeatCount int
	failures    uint64
	status      HealthStatus
}

// NewRepetitionCountTest creates a repetition count test.
// The cutoff is 1 + ceil(-log2(alpha) / H); for alpha = 2^-20 and H = 1
// that is 21.
func NewRepetitionCountTest(cutoff int) *RepetitionCountTest {
	if cutoff <= 1 {
		cutoff = 21
	}
	return &RepetitionCountTest{cutoff: cutoff}
}

func (t *RepetitionCountTest) Name() string { return "repetition_count" }

func (t *RepetitionCountTest) Feed(b byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started && b == t.lastValue {
		t.repeatCount++
		if t.repeatCount >= t.cutoff {
			t.failures++
			t.status = HealthFailed
		}
		return
	}

	t.started = true
	t.lastValue = b
	t.repeatCount = 1
	switch t.status {
	case HealthFailed:
		t.status = HealthRecovering
	case HealthUnknown:
		t.status = HealthHealthy
	}
}

func (t *RepetitionCountTest) Status() HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *RepetitionCountTest) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	t.repeatCount = 0
	t.failures = 0
	t.status = HealthUnknown
}

func (t *RepetitionCountTest) FailureCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// AdaptiveProportionTest implements NIST SP 800-90B Section 4.4.2: the
// first sample of each window of W samples must not recur C or more times
// within that window.
type AdaptiveProportionTest struct {
	mu sync.Mutex

	windowSize int
	cutoff     int

	first    byte
	seen     int // samples of the current window consumed
	count    int
	failures uint64
	status   HealthStatus
}

// NewAdaptiveProportionTest creates an adaptive proportion test. For
// non-binary samples with H = 1 and alpha = 2^-20, Table 2 of SP 800-90B
// gives W = 512 and C = 410.
func NewAdaptiveProportionTest(windowSize, cutoff int) *AdaptiveProportionTest {
	if windowSize <= 0 {
		windowSize = 512
	}
	if cutoff <= 0 || cutoff > windowSize {
		cutoff = 410
		if cutoff > windowSize {
			cutoff = windowSize
		}
	}
	return &AdaptiveProportionTest{windowSize: windowSize, cutoff: cutoff}
}

func (t *AdaptiveProportionTest) Name() string { return "adaptive_proportion" }

func (t *AdaptiveProportionTest) Feed(b byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen == 0 {
		t.first = b
		t.count = 1
		t.seen = 1
		return
	}

	if b == t.first {
		t.count++
	}
	t.seen++
	if t.count >= t.cutoff {
		t.failures++
		t.status = HealthFailed
		t.seen = 0
		return
	}

	if t.seen == t.windowSize {
		t.seen = 0
		switch t.status {
		case HealthFailed:
			t.status = HealthRecovering
		case HealthUnknown:
			t.status = HealthHealthy
		}
	}
}

func (t *AdaptiveProportionTest) Status() HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *AdaptiveProportionTest) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = 0
	t.count = 0
	t.failures = 0
	t.status = HealthUnknown
}

func (t *AdaptiveProportionTest) FailureCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// HealthMonitor runs a set of health tests over the same sample stream.
type HealthMonitor struct {
	tests []HealthTest
}

// NewHealthMonitor returns a monitor with the SP 800-90B approved tests at
// their default cutoffs.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{tests: []HealthTest{
		NewRepetitionCountTest(0),
		NewAdaptiveProportionTest(0, 0),
	}}
}

// Feed feeds samples to every test.
func (m *HealthMonitor) Feed(samples []byte) {
	for _, b := range samples {
		for _, t := range m.tests {
			t.Feed(b)
		}
	}
}

// Status returns the worst status across the tests.
func (m *HealthMonitor) Status() HealthStatus {
	worst := HealthHealthy
	for _, t := range m.tests {
		switch s := t.Status(); s {
		case HealthFailed:
			return HealthFailed
		case HealthRecovering, HealthUnknown:
			if worst == HealthHealthy {
				worst = s
			}
		}
	}
	return worst
}

// Healthy reports whether no test is currently failing.
func (m *HealthMonitor) Healthy() bool {
	return m.Status() != HealthFailed
}

// Report maps each test name to its status.
func (m *HealthMonitor) Report() map[string]string {
	out := make(map[string]string, len(m.tests))
	for _, t := range m.tests {
		out[t.Name()] = t.Status().String()
	}
	return out
}

// Reset clears every test.
func (m *HealthMonitor) Reset() {
	for _, t := range m.tests {
		t.Reset()
	}
}
