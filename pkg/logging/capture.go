package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Record is a captured log record.
type Record struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Logger  string
	Attrs   map[string]any
}

// Filter selects records by the name of the logger that emitted them.
// Patterns are doublestar globs over slash separated logger names, for
// example "github.com/bstoi/apptest/**".
type Filter struct {
	Include []string
	Exclude []string
}

// Match reports whether a logger name passes the filter. A record without a
// logger name only passes a filter with no include patterns.
func (f Filter) Match(name string) bool {
	if len(f.Include) > 0 && !matchAny(f.Include, name) {
		return false
	}
	return !matchAny(f.Exclude, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

type recordStore struct {
	mu      sync.Mutex
	records []Record
}

// Recorder is a slog.Handler that keeps every record at or above its level
// whose logger passes its filter.
type Recorder struct {
	level  slog.Level
	filter Filter
	store  *recordStore
	logger string
	attrs  []slog.Attr
	groups []string
}

// NewRecorder creates a recorder for records at or above level.
func NewRecorder(level slog.Level, filter Filter) *Recorder {
	return &Recorder{level: level, filter: filter, store: &recordStore{}}
}

// Enabled implements slog.Handler.
func (r *Recorder) Enabled(_ context.Context, level slog.Level) bool {
	return level >= r.level
}

// Handle implements slog.Handler.
func (r *Recorder) Handle(_ context.Context, rec slog.Record) error {
	if rec.Level < r.level {
		return nil
	}

	attrs := make(map[string]any, len(r.attrs)+rec.NumAttrs())
	name := r.logger
	for _, a := range r.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	prefix := strings.Join(r.groups, ".")
	if prefix != "" {
		prefix += "."
	}
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == LoggerKey && prefix == "" {
			name = a.Value.String()
			return true
		}
		attrs[prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})

	if !r.filter.Match(name) {
		return nil
	}

	r.store.mu.Lock()
	r.store.records = append(r.store.records, Record{
		Time:    rec.Time,
		Level:   rec.Level,
		Message: rec.Message,
		Logger:  name,
		Attrs:   attrs,
	})
	r.store.mu.Unlock()
	return nil
}

// WithAttrs implements slog.Handler. A top level LoggerKey attribute names
// the logger of every record handled by the returned handler.
func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := r.clone()
	prefix := strings.Join(r.groups, ".")
	for _, a := range attrs {
		if a.Key == LoggerKey && prefix == "" {
			c.logger = a.Value.String()
			continue
		}
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return c
}

// WithGroup implements slog.Handler.
func (r *Recorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}
	c := r.clone()
	c.groups = append(c.groups, name)
	return c
}

func (r *Recorder) clone() *Recorder {
	c := *r
	c.attrs = append([]slog.Attr(nil), r.attrs...)
	c.groups = append([]string(nil), r.groups...)
	return &c
}

// Records returns a copy of the captured records in the order they were
// logged.
func (r *Recorder) Records() []Record {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]Record, len(r.store.records))
	copy(out, r.store.records)
	return out
}

// Reset discards the captured records.
func (r *Recorder) Reset() {
	r.store.mu.Lock()
	r.store.records = nil
	r.store.mu.Unlock()
}

// Capture is an installed recorder. The root handler and level in effect
// before StartCapture are restored by Release.
type Capture struct {
	recorder  *Recorder
	prevRoot  slog.Handler
	prevLevel slog.Level
	release   sync.Once
}

// StartCapture tees the root handler into a new recorder and lowers the root
// level to level when it is currently higher. Captures nest; they must be
// released in reverse order.
func StartCapture(level slog.Level, filter Filter) *Capture {
	rec := NewRecorder(level, filter)

	rootMu.Lock()
	prevRoot := rootHandler
	rootHandler = NewMultiHandler(prevRoot, rec)
	rootMu.Unlock()

	prevLevel := RootLevel()
	if prevLevel > level {
		SetRootLevel(level)
	}

	return &Capture{recorder: rec, prevRoot: prevRoot, prevLevel: prevLevel}
}

// Recorder returns the capture's recorder.
func (c *Capture) Recorder() *Recorder {
	return c.recorder
}

// Records returns the records captured so far.
func (c *Capture) Records() []Record {
	return c.recorder.Records()
}

// Release restores the root handler and level. It is safe to call more than
// once.
func (c *Capture) Release() {
	c.release.Do(func() {
		SetRoot(c.prevRoot)
		SetRootLevel(c.prevLevel)
	})
}

// WithCapture runs fn with a capture installed and returns what it recorded.
// The capture is released even when fn panics.
func WithCapture(level slog.Level, filter Filter, fn func() error) ([]Record, error) {
	c := StartCapture(level, filter)
	defer c.Release()
	err := fn()
	return c.Records(), err
}
