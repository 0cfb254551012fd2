package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var sentenceBoundary = regexp.MustCompile(`[.!?]+["')\]]*\s+`)

type sentence struct {
	text       string
	start, end int
	runes      int
}

func splitSentences(text string) []sentence {
	var out []sentence
	add := func(from, to int) {
		raw := text[from:to]
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return
		}
		lead := strings.Index(raw, trimmed)
		s := from + lead
		out = append(out, sentence{
			text:  trimmed,
			start: s,
			end:   s + len(trimmed),
			runes: utf8.RuneCountInString(trimmed),
		})
	}
	prev := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		add(prev, loc[1])
		prev = loc[1]
	}
	add(prev, len(text))
	return out
}

type sentenceSegmenter struct{}

// Segment packs whole sentences into pieces of at most size characters. The
// trailing sentences of a piece, up to overlap characters, are repeated at the
// start of the next one when they fit.
func (sentenceSegmenter) Segment(text string, size, overlap int) ([]Segment, error) {
	sentences := splitSentences(text)
	var (
		segments []Segment
		cur      []sentence
		length   int
		carried  int
	)
	joinedLen := func(ss []sentence) int {
		n := 0
		for i, s := range ss {
			if i > 0 {
				n++
			}
			n += s.runes
		}
		return n
	}
	flush := func() {
		if len(cur) == carried {
			return
		}
		parts := make([]string, len(cur))
		for i, s := range cur {
			parts[i] = s.text
		}
		segments = append(segments, Segment{
			Text:  strings.Join(parts, " "),
			Start: cur[0].start,
			End:   cur[len(cur)-1].end,
		})
	}
	tail := func() []sentence {
		if overlap <= 0 {
			return nil
		}
		n := 0
		i := len(cur)
		for i > 0 {
			add := cur[i-1].runes
			if i < len(cur) {
				add++
			}
			if n+add > overlap {
				break
			}
			n += add
			i--
		}
		if i == 0 {
			// Never carry a whole piece; it would be emitted twice.
			i = 1
		}
		return append([]sentence(nil), cur[i:]...)
	}

	for _, s := range sentences {
		if len(cur) > 0 && length+1+s.runes > size {
			flush()
			cur = tail()
			carried = len(cur)
			length = joinedLen(cur)
			if len(cur) > 0 && length+1+s.runes > size {
				cur, carried, length = nil, 0, 0
			}
		}
		if len(cur) > 0 {
			length++
		}
		cur = append(cur, s)
		length += s.runes
	}
	if len(cur) > 0 {
		flush()
	}
	return segments, nil
}
