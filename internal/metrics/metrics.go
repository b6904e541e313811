// Package metrics provides Prometheus-compatible metrics for drbgd.
//
// Metrics are identified by name plus labels, so one family (for example
// drbgd_reseeds_total) can carry a series per instance and reason. Output
// is sorted and each family's HELP and TYPE lines are written once.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// TypeCounter is a monotonically increasing counter.
	TypeCounter MetricType = iota
	// TypeGauge is a value that can go up and down.
	TypeGauge
	// TypeHistogram is a distribution of values.
	TypeHistogram
)

// String returns the Prometheus name of the metric type.
func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels represents metric labels.
type Labels map[string]string

// String renders labels in sorted Prometheus form, or "" if empty.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, escapeLabel(l[k])))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// with returns l plus one extra label, rendered for histogram buckets.
func (l Labels) with(key, value string) string {
	merged := make(Labels, len(l)+1)
	for k, v := range l {
		merged[k] = v
	}
	merged[key] = value
	return merged.String()
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return strings.ReplaceAll(v, "\n", `\n`)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels Labels
	value  atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds v to the counter.
func (c *Counter) Add(v uint64) { c.value.Add(v) }

// Value returns the current value.
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels Labels
	value  atomic.Int64
}

// Set sets the gauge.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Add adds v, which may be negative.
func (g *Gauge) Add(v int64) { g.value.Add(v) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  Labels
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, last entry is +Inf
	sum    float64
	count  uint64
}

// SizeBuckets are buckets for request sizes in bytes, up to the largest
// single generate request.
var SizeBuckets = []float64{16, 32, 64, 256, 1024, 4096, 16384, 65536}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Registry holds registered metrics.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	namespace string
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace and an underscore.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		namespace:  namespace,
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

func seriesKey(name string, labels Labels) string {
	return name + labels.String()
}

// Counter returns the counter for name and labels, creating it on first
// use.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	full := r.fullName(name)
	key := seriesKey(full, labels)

	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c = &Counter{name: full, help: help, labels: labels}
	r.counters[key] = c
	return c
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	full := r.fullName(name)
	key := seriesKey(full, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: full, help: help, labels: labels}
	r.gauges[key] = g
	return g
}

// Histogram returns the histogram for name and labels, creating it with
// buckets on first use.
func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	full := r.fullName(name)
	key := seriesKey(full, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	h := &Histogram{
		name:    full,
		help:    help,
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
	r.histograms[key] = h
	return h
}

// WritePrometheus writes all metrics in the Prometheus text format.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ew := &errWriter{w: w}
	family := ""
	header := func(name, help string, t MetricType) {
		if name == family {
			return
		}
		family = name
		ew.printf("# HELP %s %s\n", name, help)
		ew.printf("# TYPE %s %s\n", name, t)
	}

	for _, key := range sortedKeys(r.counters) {
		c := r.counters[key]
		header(c.name, c.help, TypeCounter)
		ew.printf("%s%s %d\n", c.name, c.labels.String(), c.Value())
	}
	for _, key := range sortedKeys(r.gauges) {
		g := r.gauges[key]
		header(g.name, g.help, TypeGauge)
		ew.printf("%s%s %d\n", g.name, g.labels.String(), g.Value())
	}
	for _, key := range sortedKeys(r.histograms) {
		h := r.histograms[key]
		header(h.name, h.help, TypeHistogram)

		h.mu.Lock()
		var cumulative uint64
		for i, b := range h.buckets {
			cumulative += h.counts[i]
			ew.printf("%s_bucket%s %d\n", h.name, h.labels.with("le", fmt.Sprint(b)), cumulative)
		}
		cumulative += h.counts[len(h.buckets)]
		ew.printf("%s_bucket%s %d\n", h.name, h.labels.with("le", "+Inf"), cumulative)
		ew.printf("%s_sum%s %g\n", h.name, h.labels.String(), h.sum)
		ew.printf("%s_count%s %d\n", h.name, h.labels.String(), h.count)
		h.mu.Unlock()
	}
	return ew.err
}

// WriteJSON writes a snapshot of all series as indented JSON.
func (r *Registry) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Snapshot())
}

// Snapshot maps every series key to its value. Histograms contribute
// _count and _sum entries.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]any, len(r.counters)+len(r.gauges)+2*len(r.histograms))
	for key, c := range r.counters {
		out[key] = c.Value()
	}
	for key, g := range r.gauges {
		out[key] = g.Value()
	}
	for _, h := range r.histograms {
		out[seriesKey(h.name+"_count", h.labels)] = h.Count()
		out[seriesKey(h.name+"_sum", h.labels)] = h.Sum()
	}
	return out
}

// Reset zeroes every metric.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.counters {
		c.value.Store(0)
	}
	for _, g := range r.gauges {
		g.value.Store(0)
	}
	for _, h := range r.histograms {
		h.mu.Lock()
		h.sum = 0
		h.count = 0
		clear(h.counts)
		h.mu.Unlock()
	}
}

var defaultRegistry atomic.Pointer[Registry]

func init() {
	defaultRegistry.Store(NewRegistry("drbgd"))
}

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry.Load() }

// SetDefault replaces the process-wide registry.
func SetDefault(r *Registry) { defaultRegistry.Store(r) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
