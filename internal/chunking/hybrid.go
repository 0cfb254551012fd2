package chunking

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
)

// hybridSegmenter delegates to a structure-aware markdown splitter that
// respects headings, lists, code blocks and tables before falling back to
// recursive character splitting.
type hybridSegmenter struct{}

func (hybridSegmenter) Segment(text string, size, overlap int) ([]Segment, error) {
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithCodeBlocks(true),
	)
	pieces, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("hybrid split: %w", err)
	}
	var stack headingStack
	segments := make([]Segment, 0, len(pieces))
	for _, p := range pieces {
		stack.observe(p)
		segments = append(segments, Segment{
			Text:     p,
			Headings: stack.snapshot(),
			Start:    -1,
			End:      -1,
		})
	}
	return segments, nil
}
