package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

const maxResponseBytes = 16 << 20

// Client performs provider HTTP calls. It does no retrying of its own.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// NewClient wraps httpClient, or a client with a 60s timeout when nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		http:   httpClient,
		logger: slog.Default().With("component", "embedding-client"),
	}
}

// Fetch posts text to p and returns the vector it answers with. Transport
// failures, non-2xx answers and unreadable bodies are *apperrors.EmbeddingError.
func (c *Client) Fetch(ctx context.Context, p Provider, text string) ([]float32, error) {
	payload, err := json.Marshal(p.Body(text))
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", p.Name(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range p.Headers() {
		req.Header[k] = vs
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &apperrors.EmbeddingError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &apperrors.EmbeddingError{Provider: p.Name(), StatusCode: resp.StatusCode, Err: err}
	}
	c.logger.Debug("provider responded",
		"provider", p.Name(),
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return nil, &apperrors.EmbeddingError{
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Err:        errors.New(snippet(raw)),
		}
	}
	vec, err := p.ParseVector(raw)
	if err != nil {
		return nil, &apperrors.EmbeddingError{Provider: p.Name(), StatusCode: resp.StatusCode, Err: err}
	}
	return vec, nil
}

func snippet(b []byte) string {
	const limit = 512
	s := string(bytes.TrimSpace(b))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
