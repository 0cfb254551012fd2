package ingestion

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/chunking"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/conversion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

const maxFilenameLength = 255

// FieldErrors holds per-field validation failures for a submission.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = fmt.Sprintf("%s: %s", field, f[field])
	}
	return strings.Join(parts, "; ")
}

// validateSubmission checks the inputs of Submit and resolves the document
// format. Nothing is stored when it fails.
func validateSubmission(content []byte, filename, contentType string, o *submitOptions) (conversion.Format, error) {
	errs := FieldErrors{}
	if len(content) == 0 {
		errs["content"] = "content is required and must not be empty"
	}
	name := strings.TrimSpace(filename)
	if name == "" {
		errs["filename"] = "filename is required"
	} else if len(name) > maxFilenameLength {
		errs["filename"] = fmt.Sprintf("filename must be at most %d characters", maxFilenameLength)
	}
	if o.strategy != "" {
		if _, err := chunking.ParseStrategy(string(o.strategy)); err != nil {
			errs["strategy"] = fmt.Sprintf("unknown chunking strategy %q", o.strategy)
		}
	}

	var format conversion.Format
	if name != "" {
		f, err := conversion.DetectFormat(contentType, name, content)
		if err != nil {
			errs["content_type"] = fmt.Sprintf("unsupported document type %q", contentType)
		}
		format = f
	}
	if len(errs) > 0 {
		return "", apperrors.Validation("%s", errs.Error())
	}
	return format, nil
}
