// Package trace is the diagnostic channel of the DRBG subsystem.
//
// Messages are tagged with a Category and handed to a Sink. A sink is a pure
// side effect: nothing in the generators depends on whether a message was
// written, dropped or failed.
package trace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Category tags a trace message.
type Category int

const (
	Any Category = iota
	Trace
	Init
	Rand
	DRBG
	Pool
	Entropy
	Conf

	numCategories
)

var categoryNames = [numCategories]string{
	Any:     "ANY",
	Trace:   "TRACE",
	Init:    "INIT",
	Rand:    "RAND",
	DRBG:    "DRBG",
	Pool:    "POOL",
	Entropy: "ENTROPY",
	Conf:    "CONF",
}

// CategoryName returns the upper-case name of c, or "" if c is unknown.
func CategoryName(c Category) string {
	if c < 0 || c >= numCategories {
		return ""
	}
	return categoryNames[c]
}

// CategoryNum looks up a category by name, ignoring case.
func CategoryNum(name string) (Category, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range categoryNames {
		if n == name {
			return Category(i), true
		}
	}
	return -1, false
}

// ParseCategories converts configured names into categories.
func ParseCategories(names []string) ([]Category, error) {
	out := make([]Category, 0, len(names))
	for _, n := range names {
		c, ok := CategoryNum(n)
		if !ok {
			return nil, fmt.Errorf("trace: unknown category %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

func (c Category) String() string {
	if n := CategoryName(c); n != "" {
		return n
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Sink receives trace messages.
type Sink interface {
	Emit(c Category, msg string)
}

// Enabler is implemented by sinks that can report whether a category is
// switched on, so callers can skip formatting.
type Enabler interface {
	Enabled(c Category) bool
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Category, string)  {}
func (Nop) Enabled(Category) bool { return false }

// Emitf formats and emits a message if s accepts category c.
func Emitf(s Sink, c Category, format string, args ...any) {
	if s == nil {
		return
	}
	if e, ok := s.(Enabler); ok && !e.Enabled(c) {
		return
	}
	s.Emit(c, fmt.Sprintf(format, args...))
}

// SlogSink writes enabled categories to a slog.Logger at debug level.
type SlogSink struct {
	logger *slog.Logger
	mask   atomic.Uint32
}

// NewSlogSink returns a sink that forwards the given categories. Enabling
// Any forwards every category.
func NewSlogSink(logger *slog.Logger, cats ...Category) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SlogSink{logger: logger.With("component", "trace")}
	for _, c := range cats {
		s.Enable(c)
	}
	return s
}

// Enable switches category c on.
func (s *SlogSink) Enable(c Category) {
	if c < 0 || c >= numCategories {
		return
	}
	for {
		old := s.mask.Load()
		if s.mask.CompareAndSwap(old, old|1<<uint(c)) {
			return
		}
	}
}

// Disable switches category c off.
func (s *SlogSink) Disable(c Category) {
	if c < 0 || c >= numCategories {
		return
	}
	for {
		old := s.mask.Load()
		if s.mask.CompareAndSwap(old, old&^(1<<uint(c))) {
			return
		}
	}
}

// Enabled reports whether messages in c are forwarded.
func (s *SlogSink) Enabled(c Category) bool {
	if c < 0 || c >= numCategories {
		return false
	}
	m := s.mask.Load()
	return m&(1<<uint(Any)) != 0 || m&(1<<uint(c)) != 0
}

// Emit implements Sink.
func (s *SlogSink) Emit(c Category, msg string) {
	if !s.Enabled(c) {
		return
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, slog.String("category", CategoryName(c)))
}
