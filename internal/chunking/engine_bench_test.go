package chunking

import (
	"strings"
	"testing"
)

var benchTexts = map[string]string{
	"short":  "The quick brown fox jumps over the lazy dog.",
	"medium": sampleMarkdown,
	"long": strings.Repeat(`## Retrieval
Document pipelines convert uploads into normalized text before chunking. Each chunk
is embedded by a hosted provider and cached for a day. Similarity search reads the
vectors back through a cache keyed by a hash of the query parameters.

`, 40),
}

func BenchmarkChunk(b *testing.B) {
	e, err := NewEngine(Config{ChunkSize: 500, ChunkOverlap: 50})
	if err != nil {
		b.Fatal(err)
	}
	for _, st := range []Strategy{Hybrid, Markdown, Sentence} {
		for name, text := range benchTexts {
			b.Run(string(st)+"/"+name, func(b *testing.B) {
				b.ReportAllocs()
				b.SetBytes(int64(len(text)))
				for i := 0; i < b.N; i++ {
					_ = e.Chunk(text, st)
				}
			})
		}
	}
}
