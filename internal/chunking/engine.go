// Package chunking splits normalized document text into ordered chunks
// under a selectable strategy, falling back to a single chunk when the
// chosen strategy cannot produce any.
package chunking

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/metrics"
)

// Config holds the engine's bounds. Sizes count characters.
type Config struct {
	ChunkSize       int
	ChunkOverlap    int
	DefaultStrategy Strategy
}

type Engine struct {
	cfg        Config
	segmenters map[Strategy]Segmenter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	newID      func() string
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSegmenter replaces the implementation behind a strategy.
func WithSegmenter(s Strategy, seg Segmenter) Option {
	return func(e *Engine) { e.segmenters[s] = seg }
}

// NewEngine validates cfg before any chunking can run.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.ChunkSize <= 0 {
		return nil, apperrors.Config("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 {
		return nil, apperrors.Config("chunk overlap must not be negative, got %d", cfg.ChunkOverlap)
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, apperrors.Config("chunk overlap %d must be smaller than chunk size %d", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = Hybrid
	}
	if _, err := ParseStrategy(string(cfg.DefaultStrategy)); err != nil {
		return nil, apperrors.Config("unknown default strategy %q", cfg.DefaultStrategy)
	}
	e := &Engine{
		cfg:        cfg,
		segmenters: defaultSegmenters(),
		logger:     slog.Default().With("component", "chunking"),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Chunk splits text with strategy, or the default strategy when empty.
// Blank text yields no chunks. A strategy that fails or yields nothing is
// replaced by a single fallback chunk; the error is logged, not returned.
func (e *Engine) Chunk(text string, strategy Strategy) []model.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if strategy == "" {
		strategy = e.cfg.DefaultStrategy
	}
	start := time.Now()

	used := strategy
	segments, err := e.segment(text, strategy)
	if err != nil || len(segments) == 0 {
		e.logger.Warn("strategy produced no chunks, falling back",
			"strategy", strategy,
			"error", err,
		)
		used = Fallback
		segments, _ = fallbackSegmenter{}.Segment(text, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
	}

	chunks := e.build(text, segments, used)
	if e.metrics != nil {
		status := "ok"
		if used == Fallback {
			status = "fallback"
		}
		e.metrics.ChunksTotal.WithLabelValues(string(used), status).Add(float64(len(chunks)))
		for _, c := range chunks {
			e.metrics.ChunkSize.WithLabelValues(string(used)).Observe(float64(utf8.RuneCountInString(c.Content)))
		}
		e.metrics.ChunkingDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
	}
	return chunks
}

func (e *Engine) segment(text string, strategy Strategy) ([]Segment, error) {
	seg, ok := e.segmenters[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: no segmenter for strategy %q", apperrors.ErrChunking, strategy)
	}
	segments, err := seg.Segment(text, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrChunking, strategy, err)
	}
	kept := segments[:0]
	for _, s := range segments {
		if strings.TrimSpace(s.Text) != "" {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

func (e *Engine) build(text string, segments []Segment, strategy Strategy) []model.Chunk {
	total := len(segments)
	chunks := make([]model.Chunk, total)
	for i, s := range segments {
		chunks[i] = model.Chunk{
			ID:       e.newID(),
			Content:  s.Text,
			Position: runePosition(text, s),
			Metadata: model.ChunkMetadata{
				Strategy:    string(strategy),
				ChunkNumber: i + 1,
				TotalChunks: total,
				Headings:    s.Headings,
				IsFallback:  strategy == Fallback,
			},
		}
	}
	return chunks
}

func runePosition(text string, s Segment) *model.Position {
	if s.Start < 0 || s.End < s.Start || s.End > len(text) {
		return nil
	}
	start := utf8.RuneCountInString(text[:s.Start])
	return &model.Position{
		Start: start,
		End:   start + utf8.RuneCountInString(text[s.Start:s.End]),
	}
}
