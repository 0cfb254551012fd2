package conversion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// skipped elements contribute no text.
var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"svg":      true,
	"template": true,
}

var blockElements = map[string]bool{
	"p":          true,
	"div":        true,
	"ul":         true,
	"ol":         true,
	"tr":         true,
	"blockquote": true,
	"pre":        true,
	"table":      true,
	"section":    true,
	"article":    true,
}

// HTMLConverter strips markup and keeps headings and list items as markdown
// markers so that structure-aware chunking still sees them.
type HTMLConverter struct{}

func (HTMLConverter) Convert(_ context.Context, content []byte, _ string) (*Structured, error) {
	z := html.NewTokenizer(bytes.NewReader(content))
	var (
		body      strings.Builder
		title     strings.Builder
		skipDepth int
		inHead    bool
		inTitle   bool
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("tokenizing html: %w", err)
			}
			return &Structured{Title: collapse(title.String()), Text: tidy(body.String())}, nil

		case html.TextToken:
			switch {
			case inTitle:
				title.Write(z.Text())
			case skipDepth > 0 || inHead:
			default:
				body.Write(z.Text())
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case skipped[tag]:
				if tt == html.StartTagToken {
					skipDepth++
				}
			case tag == "head":
				inHead = tt == html.StartTagToken
			case tag == "title":
				inTitle = tt == html.StartTagToken
			case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
				body.WriteString("\n" + strings.Repeat("#", int(tag[1]-'0')) + " ")
			case tag == "li":
				body.WriteString("\n- ")
			case tag == "br" || tag == "hr" || blockElements[tag]:
				body.WriteString("\n")
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case skipped[tag]:
				if skipDepth > 0 {
					skipDepth--
				}
			case tag == "head":
				inHead = false
			case tag == "title":
				inTitle = false
			case tag == "li" || blockElements[tag] || (len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'):
				body.WriteString("\n")
			}
		}
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// tidy drops blank lines and markers left without text.
func tidy(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = collapse(line)
		if line == "" || line == "-" || strings.Trim(line, "#") == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
