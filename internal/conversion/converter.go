// Package conversion turns raw uploaded bytes into normalized, markdown-like
// text. Formats are resolved from the declared content type and filename,
// and each format is handled by a registered Converter.
package conversion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

// ErrUnsupportedFormat is returned for formats with no registered converter.
var ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", apperrors.ErrConversion)

// Structured is the output of a conversion.
type Structured struct {
	Format Format
	Title  string
	Text   string
}

type Converter interface {
	Convert(ctx context.Context, content []byte, filenameHint string) (*Structured, error)
}

// Registry dispatches conversions by format.
type Registry struct {
	converters map[Format]Converter
	logger     *slog.Logger
}

// NewRegistry returns a registry with the built-in converters for text,
// markdown, HTML, DOCX and XLSX. PDF, PPTX and images need an external
// converter registered with Register.
func NewRegistry() *Registry {
	r := &Registry{
		converters: make(map[Format]Converter),
		logger:     slog.Default().With("component", "conversion"),
	}
	r.Register(FormatMarkdown, TextConverter{})
	r.Register(FormatHTML, HTMLConverter{})
	r.Register(FormatDOCX, DOCXConverter{})
	r.Register(FormatXLSX, XLSXConverter{})
	return r
}

func (r *Registry) Register(f Format, c Converter) {
	r.converters[f] = c
}

func (r *Registry) Supports(f Format) bool {
	_, ok := r.converters[f]
	return ok
}

// Convert resolves the format and runs its converter. Every failure is an
// apperrors.ErrConversion.
func (r *Registry) Convert(ctx context.Context, content []byte, contentType, filenameHint string) (*Structured, error) {
	format, err := DetectFormat(contentType, filenameHint, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrConversion, err)
	}
	c, ok := r.converters[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	out, err := c.Convert(ctx, content, filenameHint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrConversion, format, err)
	}
	out.Format = format
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		return nil, apperrors.Conversion("no text extracted from %s", filepath.Base(filenameHint))
	}
	if out.Title == "" {
		out.Title = titleFromFilename(filenameHint)
	}
	r.logger.Debug("document converted", "format", format, "chars", len(out.Text))
	return out, nil
}

func titleFromFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.NewReplacer("_", " ", "-", " ").Replace(base)
}
