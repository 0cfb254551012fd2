package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrConfig           = errors.New("invalid configuration")
	ErrConversion       = errors.New("conversion failed")
	ErrChunking         = errors.New("chunking failed")
	ErrEmbedding        = errors.New("embedding failed")
	ErrConcurrency      = errors.New("concurrent modification")
	ErrStorage          = errors.New("storage unavailable")
	ErrDocumentNotFound = errors.New("document not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Validation reports bad caller input. It is surfaced synchronously and never
// reaches the ingestion queue.
func Validation(format string, args ...any) *AppError {
	return Newf(ErrValidation, http.StatusBadRequest, format, args...)
}

func Concurrency(format string, args ...any) *AppError {
	return Newf(ErrConcurrency, http.StatusConflict, format, args...)
}

func Conversion(format string, args ...any) *AppError {
	return Newf(ErrConversion, http.StatusUnprocessableEntity, format, args...)
}

func Config(format string, args ...any) *AppError {
	return Newf(ErrConfig, http.StatusInternalServerError, format, args...)
}

// Storage wraps a backend failure so callers can match ErrStorage while the
// original cause stays reachable through errors.Unwrap chains.
func Storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// EmbeddingError is returned by provider calls. StatusCode is zero when the
// request never produced an HTTP response.
type EmbeddingError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *EmbeddingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding provider %s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() []error {
	return []error{ErrEmbedding, e.Err}
}

// IsDomain reports whether err belongs to the pipeline's own taxonomy, as
// opposed to an unexpected failure such as a nil dereference surfaced as an
// error or an unclassified library error.
func IsDomain(err error) bool {
	for _, sentinel := range []error{
		ErrValidation, ErrConfig, ErrConversion, ErrChunking, ErrEmbedding,
		ErrConcurrency, ErrStorage, ErrDocumentNotFound, ErrJobNotFound, ErrTimeout,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConcurrency):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConversion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, ErrStorage), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
