package conversion

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextConverter passes plain text and markdown through, normalizing line
// endings.
type TextConverter struct{}

func (TextConverter) Convert(_ context.Context, content []byte, _ string) (*Structured, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		return nil, errors.New("content is not valid UTF-8")
	}
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	return &Structured{Text: text, Title: firstHeading(text)}, nil
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}
