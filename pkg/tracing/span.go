// Package tracing times the stages of a unit of work as a tree of spans
// carried through a context. A span tree is tied to one trace id, usually
// the job id, and can be logged as structured records once it ends.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Observer receives the duration of every span that ends. The ingestion
// queue uses it to feed the processing-duration histogram.
type Observer func(name string, d time.Duration)

type Span struct {
	Name    string
	TraceID string

	mu       sync.Mutex
	start    time.Time
	duration time.Duration
	ended    bool
	children []*Span
	attrs    map[string]any
	observe  Observer
}

// StartSpan creates a root span and stores it in the returned context.
// observe may be nil.
func StartSpan(ctx context.Context, name, traceID string, observe Observer) (context.Context, *Span) {
	s := &Span{
		Name:    name,
		TraceID: traceID,
		start:   time.Now(),
		attrs:   make(map[string]any),
		observe: observe,
	}
	return context.WithValue(ctx, contextKey{}, s), s
}

// StartChildSpan creates a span under the one in ctx. Without a parent it
// behaves as a root span with no trace id and no observer.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := FromContext(ctx)
	if parent == nil {
		return StartSpan(ctx, name, "", nil)
	}
	child := &Span{
		Name:    name,
		TraceID: parent.TraceID,
		start:   time.Now(),
		attrs:   make(map[string]any),
		observe: parent.observe,
	}
	parent.mu.Lock()
	parent.children = append(parent.children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, contextKey{}, child), child
}

// End records the duration and notifies the observer. Only the first call
// counts.
func (s *Span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.duration = time.Since(s.start)
	d, observe := s.duration, s.observe
	s.mu.Unlock()
	if observe != nil {
		observe(s.Name, d)
	}
}

func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Children returns a snapshot of the direct child spans.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// FromContext returns the current span, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// Log writes one debug record per span, depth first.
func (s *Span) Log(log *slog.Logger) {
	s.log(log, 0)
}

func (s *Span) log(log *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.duration.Milliseconds(),
		"depth", depth,
	}
	for k, v := range s.attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	log.Debug("span", attrs...)
	for _, child := range children {
		child.log(log, depth+1)
	}
}
