package conversion

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

// Format is a document family the pipeline knows how to route.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatXLSX     Format = "xlsx"
	FormatPPTX     Format = "pptx"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatImage    Format = "image"
)

var mimeFormats = map[string]Format{
	"application/pdf":    FormatPDF,
	"application/msword": FormatDOCX,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatDOCX,
	"application/vnd.ms-excel":                                                  FormatXLSX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FormatXLSX,
	"application/vnd.ms-powerpoint":                                             FormatPPTX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPPTX,
	"text/plain":    FormatMarkdown,
	"text/markdown": FormatMarkdown,
	"text/html":     FormatHTML,
	"image/png":     FormatImage,
	"image/jpeg":    FormatImage,
	"image/tiff":    FormatImage,
}

var extFormats = map[string]Format{
	".pdf":  FormatPDF,
	".doc":  FormatDOCX,
	".docx": FormatDOCX,
	".xls":  FormatXLSX,
	".xlsx": FormatXLSX,
	".ppt":  FormatPPTX,
	".pptx": FormatPPTX,
	".txt":  FormatMarkdown,
	".md":   FormatMarkdown,
	".html": FormatHTML,
	".htm":  FormatHTML,
	".png":  FormatImage,
	".jpg":  FormatImage,
	".jpeg": FormatImage,
	".tiff": FormatImage,
	".tif":  FormatImage,
}

// ResolveFormat maps a declared content type, then the filename extension,
// to a Format. Parameters such as charset are ignored.
func ResolveFormat(contentType, filename string) (Format, error) {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if f, ok := mimeFormats[strings.ToLower(mediaType)]; ok {
			return f, nil
		}
	}
	if f, ok := extFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f, nil
	}
	return "", apperrors.Validation("unsupported document type %q for file %q", contentType, filename)
}

// genericTypes are sniffing results too vague to override the extension.
var genericTypes = map[string]bool{
	"text/plain":               true,
	"application/octet-stream": true,
}

// DetectFormat is ResolveFormat for callers holding the content. When no
// content type is declared one is sniffed from the leading bytes. A specific
// sniffed type wins over the extension; plain text only applies when the
// extension is unknown.
func DetectFormat(contentType, filename string, content []byte) (Format, error) {
	if strings.TrimSpace(contentType) != "" || len(content) == 0 {
		return ResolveFormat(contentType, filename)
	}
	sniffed, _, err := mime.ParseMediaType(http.DetectContentType(content))
	if err != nil {
		return ResolveFormat("", filename)
	}
	if f, ok := mimeFormats[sniffed]; ok && !genericTypes[sniffed] {
		return f, nil
	}
	if f, ok := extFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f, nil
	}
	if f, ok := mimeFormats[sniffed]; ok {
		return f, nil
	}
	return "", apperrors.Validation("unsupported document type %q for file %q", sniffed, filename)
}
