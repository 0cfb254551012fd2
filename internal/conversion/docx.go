package conversion

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DOCXConverter reads WordprocessingML paragraphs. Paragraphs styled as
// Heading1..Heading6 (or Title) become markdown headings.
type DOCXConverter struct{}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Props struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

type docxCore struct {
	Title string `xml:"title"`
}

func (DOCXConverter) Convert(_ context.Context, content []byte, _ string) (*Structured, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("opening docx archive: %w", err)
	}
	body, err := readZipEntry(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}
	var doc docxDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing document.xml: %w", err)
	}

	var lines []string
	for _, p := range doc.Body.Paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				sb.WriteString(t.Content)
			}
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		if level := docxHeadingLevel(p.Props.Style.Val); level > 0 {
			text = strings.Repeat("#", level) + " " + text
		}
		lines = append(lines, text)
	}

	out := &Structured{Text: strings.Join(lines, "\n")}
	if core, err := readZipEntry(zr, "docProps/core.xml"); err == nil {
		var meta docxCore
		if xml.Unmarshal(core, &meta) == nil {
			out.Title = strings.TrimSpace(meta.Title)
		}
	}
	return out, nil
}

func docxHeadingLevel(style string) int {
	if style == "Title" {
		return 1
	}
	rest, ok := strings.CutPrefix(style, "Heading")
	if !ok || len(rest) != 1 || rest[0] < '1' || rest[0] > '6' {
		return 0
	}
	return int(rest[0] - '0')
}

var errEntryMissing = errors.New("archive entry missing")

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s: %w", name, errEntryMissing)
}
