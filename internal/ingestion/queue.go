// Package ingestion accepts uploaded documents and drives them through the
// processing state machine. A single background consumer drains a FIFO queue
// one document at a time: it converts the content, chunks the resulting text
// and persists the outcome through the cache-aside stores.
package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/chunking"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/conversion"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/metrics"
)

var (
	ErrAlreadyRunning = errors.New("ingestion queue already running")
	ErrNotRunning     = errors.New("ingestion queue not running")
)

// Converter turns raw content into text. *conversion.Registry satisfies it.
type Converter interface {
	Convert(ctx context.Context, content []byte, contentType, filenameHint string) (*conversion.Structured, error)
}

// Chunker splits text. *chunking.Engine satisfies it.
type Chunker interface {
	Chunk(text string, strategy chunking.Strategy) []model.Chunk
}

// EventPublisher receives lifecycle events. *kafka.Producer satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Deps are the collaborators the queue is built from. Events and Metrics
// are optional.
type Deps struct {
	Documents *storage.Store[model.Document]
	Jobs      *storage.Store[model.Job]
	Converter Converter
	Chunker   Chunker
	Events    EventPublisher
	Metrics   *metrics.Metrics
}

type Config struct {
	// StagingDir receives a temporary copy of each document while it is
	// converted. Empty means os.TempDir().
	StagingDir string
}

// item is one queued unit of work. The zero item is the stop sentinel.
type item struct {
	docID string
	jobID string
}

type Queue struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu    sync.Mutex
	cond  *sync.Cond
	items []item

	// stateMu serialises state transitions made by the consumer with those
	// requested by callers (reprocess, cancel).
	stateMu  sync.Mutex
	inFlight string

	running  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(q *Queue) { q.newID = newID }
}

func NewQueue(deps Deps, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		deps:   deps,
		cfg:    cfg,
		logger: slog.Default().With("component", "ingestion-queue"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the consumer. It returns ErrAlreadyRunning if a consumer is
// active. ctx bounds the storage and conversion calls the consumer makes.
func (q *Queue) Start(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	q.stopping.Store(false)
	q.done = make(chan struct{})
	go q.consume(ctx)
	q.logger.Info("ingestion queue started")
	return nil
}

// Stop asks the consumer to exit and waits until it has. The document being
// processed, if any, is finished first; queued items stay queued.
func (q *Queue) Stop() error {
	if !q.running.Load() {
		return ErrNotRunning
	}
	q.stopping.Store(true)
	q.push(item{})
	<-q.done
	q.running.Store(false)
	q.logger.Info("ingestion queue stopped")
	return nil
}

// Running reports whether the consumer is active.
func (q *Queue) Running() bool {
	return q.running.Load()
}

// Len is the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it != (item{}) {
			n++
		}
	}
	return n
}

func (q *Queue) push(it item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	depth := len(q.items)
	q.mu.Unlock()
	q.cond.Signal()
	q.recordDepth(depth)
}

// pop blocks until an item is available.
func (q *Queue) pop() item {
	q.mu.Lock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	it := q.items[0]
	q.items[0] = item{}
	q.items = q.items[1:]
	depth := len(q.items)
	q.mu.Unlock()
	q.recordDepth(depth)
	return it
}

func (q *Queue) recordDepth(depth int) {
	if q.deps.Metrics != nil {
		q.deps.Metrics.QueueDepth.Set(float64(depth))
	}
}

func (q *Queue) consume(ctx context.Context) {
	defer close(q.done)
	for {
		if q.stopping.Load() {
			q.dropSentinels()
			return
		}
		it := q.pop()
		if it == (item{}) {
			continue
		}
		q.process(ctx, it)
	}
}

func (q *Queue) dropSentinels() {
	q.mu.Lock()
	kept := q.items[:0]
	for _, it := range q.items {
		if it != (item{}) {
			kept = append(kept, it)
		}
	}
	q.items = kept
	depth := len(kept)
	q.mu.Unlock()
	q.recordDepth(depth)
}
