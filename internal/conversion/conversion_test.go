package conversion

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		filename    string
		want        Format
	}{
		{"pdf mime", "application/pdf", "x.bin", FormatPDF},
		{"plain text with charset", "text/plain; charset=utf-8", "", FormatMarkdown},
		{"markdown mime", "text/markdown", "notes", FormatMarkdown},
		{"docx mime", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "", FormatDOCX},
		{"mime wins over extension", "text/html", "page.md", FormatHTML},
		{"extension fallback", "application/octet-stream", "report.XLSX", FormatXLSX},
		{"htm extension", "", "index.htm", FormatHTML},
		{"tif image", "", "scan.tif", FormatImage},
		{"pptx extension", "", "deck.pptx", FormatPPTX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveFormat(tt.contentType, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFormatUnsupported(t *testing.T) {
	_, err := ResolveFormat("application/zip", "archive.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestDetectFormat(t *testing.T) {
	zipped := buildDOCX(t, `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body/></w:document>`, "")
	tests := []struct {
		name        string
		contentType string
		filename    string
		content     []byte
		want        Format
	}{
		{"declared type is not sniffed", "text/html", "page", []byte("%PDF-1.7"), FormatHTML},
		{"sniffed pdf beats extension", "", "scan.txt", []byte("%PDF-1.7\n"), FormatPDF},
		{"sniffed html without extension", "", "upload", []byte("<!DOCTYPE html><html></html>"), FormatHTML},
		{"sniffed png", "", "photo", []byte("\x89PNG\r\n\x1a\n0000"), FormatImage},
		{"plain text defers to extension", "", "page.html", []byte("just words"), FormatHTML},
		{"plain text without extension", "", "notes", []byte("just words"), FormatMarkdown},
		{"zip container defers to extension", "", "report.docx", zipped, FormatDOCX},
		{"no content uses extension", "", "index.htm", nil, FormatHTML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.contentType, tt.filename, tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectFormatUnsupported(t *testing.T) {
	_, err := DetectFormat("", "blob", []byte{0x00, 0x01, 0x02})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = DetectFormat("application/octet-stream", "blob.bin", []byte("plain words"))
	assert.True(t, errors.Is(err, apperrors.ErrValidation), "a declared type is never replaced by sniffing")
}

func TestConvertMarkdown(t *testing.T) {
	r := NewRegistry()
	out, err := r.Convert(context.Background(), []byte("\xEF\xBB\xBF# Title\r\n\r\nBody text."), "text/markdown", "doc.md")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, out.Format)
	assert.Equal(t, "Title", out.Title)
	assert.Equal(t, "# Title\n\nBody text.", out.Text)
}

func TestConvertPlainTextTitleFromFilename(t *testing.T) {
	out, err := NewRegistry().Convert(context.Background(), []byte("just words"), "text/plain", "/tmp/quarterly_report-final.txt")
	require.NoError(t, err)
	assert.Equal(t, "quarterly report final", out.Title)
}

func TestConvertRejectsInvalidUTF8(t *testing.T) {
	_, err := NewRegistry().Convert(context.Background(), []byte{0xff, 0xfe, 0xfd}, "text/plain", "bad.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConversion))
}

func TestConvertEmptyTextFails(t *testing.T) {
	_, err := NewRegistry().Convert(context.Background(), []byte("   \n\t "), "text/plain", "blank.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConversion))
}

func TestConvertUnregisteredFormat(t *testing.T) {
	_, err := NewRegistry().Convert(context.Background(), []byte("%PDF-1.4"), "application/pdf", "a.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	assert.True(t, errors.Is(err, apperrors.ErrConversion))
}

func TestConvertUnknownTypeIsConversionError(t *testing.T) {
	_, err := NewRegistry().Convert(context.Background(), []byte("x"), "application/zip", "a.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConversion))
}

type stubConverter struct{ text string }

func (s stubConverter) Convert(context.Context, []byte, string) (*Structured, error) {
	return &Structured{Text: s.text}, nil
}

func TestRegisterExternalConverter(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Supports(FormatPDF))
	r.Register(FormatPDF, stubConverter{text: "from pdf"})
	assert.True(t, r.Supports(FormatPDF))

	out, err := r.Convert(context.Background(), []byte("%PDF"), "application/pdf", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "from pdf", out.Text)
	assert.Equal(t, FormatPDF, out.Format)
}

func TestConvertHTML(t *testing.T) {
	page := `<html><head><title>Guide &amp; Notes</title><style>p{}</style></head>
<body><script>alert(1)</script><!-- hidden -->
<h1>Intro</h1><p>First   paragraph &lt;here&gt;.</p>
<h2>Steps</h2><ul><li>one</li><li>two</li></ul><br/>tail</body></html>`
	out, err := NewRegistry().Convert(context.Background(), []byte(page), "text/html", "guide.html")
	require.NoError(t, err)
	assert.Equal(t, "Guide & Notes", out.Title)
	assert.Equal(t, "# Intro\nFirst paragraph <here>.\n## Steps\n- one\n- two\ntail", out.Text)
}

func buildDOCX(t *testing.T, documentXML, coreXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	if coreXML != "" {
		w, err = zw.Create("docProps/core.xml")
		require.NoError(t, err)
		_, err = w.Write([]byte(coreXML))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestConvertDOCX(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Overview</w:t></w:r></w:p>
<w:p><w:r><w:t>Hello </w:t></w:r><w:r><w:t>world.</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Details</w:t></w:r></w:p>
</w:body></w:document>`
	core := `<?xml version="1.0"?><cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Design Notes</dc:title></cp:coreProperties>`

	out, err := NewRegistry().Convert(context.Background(), buildDOCX(t, doc, core),
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "notes.docx")
	require.NoError(t, err)
	assert.Equal(t, "# Overview\nHello world.\n## Details", out.Text)
	assert.Equal(t, "Design Notes", out.Title)
}

func TestConvertDOCXCorrupt(t *testing.T) {
	_, err := NewRegistry().Convert(context.Background(), []byte("not a zip"), "", "broken.docx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConversion))
}

func TestConvertDOCXMissingBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = NewRegistry().Convert(context.Background(), buf.Bytes(), "", "empty.docx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errEntryMissing))
}

func TestDocxHeadingLevel(t *testing.T) {
	assert.Equal(t, 1, docxHeadingLevel("Title"))
	assert.Equal(t, 3, docxHeadingLevel("Heading3"))
	assert.Equal(t, 0, docxHeadingLevel("Heading7"))
	assert.Equal(t, 0, docxHeadingLevel("Normal"))
	assert.Equal(t, 0, docxHeadingLevel("Heading12"))
}

func TestConvertXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "bolts"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 40))
	_, err := f.NewSheet("Empty")
	require.NoError(t, err)
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	out, err := NewRegistry().Convert(context.Background(), buf.Bytes(),
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "stock.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "## Sheet1\nname | qty\nbolts | 40", out.Text)
	assert.Equal(t, "stock", out.Title)
}
