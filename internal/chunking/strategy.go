package chunking

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

// Strategy names a way of splitting text into chunks.
type Strategy string

const (
	Hybrid   Strategy = "hybrid"
	Markdown Strategy = "markdown"
	Sentence Strategy = "sentence"
	Fallback Strategy = "fallback"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{Hybrid, Markdown, Sentence, Fallback}

func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", apperrors.Validation("unknown chunking strategy %q", s)
}

// Segment is one piece of text produced by a Segmenter. Start and End are
// byte offsets into the segmented text; End is -1 when the segmenter could
// not attribute the piece to a single span.
type Segment struct {
	Text     string
	Headings []string
	Start    int
	End      int
}

// Segmenter splits text into pieces of at most size characters, where the
// input allows it, sharing up to overlap characters between neighbours.
type Segmenter interface {
	Segment(text string, size, overlap int) ([]Segment, error)
}

func defaultSegmenters() map[Strategy]Segmenter {
	return map[Strategy]Segmenter{
		Hybrid:   hybridSegmenter{},
		Markdown: markdownSegmenter{},
		Sentence: sentenceSegmenter{},
		Fallback: fallbackSegmenter{},
	}
}

type fallbackSegmenter struct{}

func (fallbackSegmenter) Segment(text string, _, _ int) ([]Segment, error) {
	return []Segment{{Text: text, Start: 0, End: len(text)}}, nil
}
