package chunking

import (
	"strings"
	"unicode/utf8"
)

type markdownSegmenter struct{}

// Segment starts a new piece at every heading and whenever the next line
// would push the current piece past size. Overlap is not applied.
func (markdownSegmenter) Segment(text string, size, _ int) ([]Segment, error) {
	var (
		segments []Segment
		stack    headingStack
		lines    []string
		length   int
		start    = -1
		end      int
	)
	flush := func() {
		if len(lines) == 0 {
			return
		}
		segments = append(segments, Segment{
			Text:     strings.Join(lines, "\n"),
			Headings: stack.snapshot(),
			Start:    start,
			End:      end,
		})
		lines, length, start = nil, 0, -1
	}

	offset := 0
	for _, raw := range strings.SplitAfter(text, "\n") {
		lineStart := offset
		offset += len(raw)
		line := strings.TrimRight(raw, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := utf8.RuneCountInString(line)
		if level, title, ok := parseHeading(line); ok {
			flush()
			stack.push(level, title)
		} else if len(lines) > 0 && length+1+n > size {
			flush()
		}
		if len(lines) > 0 {
			length++
		}
		if start < 0 {
			start = lineStart
		}
		lines = append(lines, line)
		length += n
		end = lineStart + len(line)
	}
	flush()
	return segments, nil
}

// parseHeading recognises ATX headings ("## Title").
func parseHeading(line string) (level int, title string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return 0, "", false
	}
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	title = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
	return level, title, true
}

// headingStack tracks the active heading path, one entry per level.
type headingStack struct {
	levels []int
	titles []string
}

func (h *headingStack) push(level int, title string) {
	for len(h.levels) > 0 && h.levels[len(h.levels)-1] >= level {
		h.levels = h.levels[:len(h.levels)-1]
		h.titles = h.titles[:len(h.titles)-1]
	}
	h.levels = append(h.levels, level)
	h.titles = append(h.titles, title)
}

func (h *headingStack) observe(text string) {
	for _, line := range strings.Split(text, "\n") {
		if level, title, ok := parseHeading(line); ok {
			h.push(level, title)
		}
	}
}

func (h *headingStack) snapshot() []string {
	if len(h.titles) == 0 {
		return nil
	}
	return append([]string(nil), h.titles...)
}
