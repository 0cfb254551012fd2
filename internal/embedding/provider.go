package embedding

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

// Provider describes one hosted embedding endpoint. Providers differ only in
// how the request is authenticated, how the body is shaped and where the
// vector sits in the response.
type Provider interface {
	Name() string
	Model() string
	Endpoint() string
	Headers() http.Header
	Body(text string) any
	ParseVector(body []byte) ([]float32, error)
}

var errEmptyVector = errors.New("response contained no embedding")

type endpoint struct {
	name   string
	url    string
	apiKey string
	model  string
}

func (e endpoint) Name() string     { return e.name }
func (e endpoint) Model() string    { return e.model }
func (e endpoint) Endpoint() string { return e.url }

// nomicProvider speaks the Nomic Atlas text embedding API.
type nomicProvider struct{ endpoint }

type nomicRequest struct {
	Texts    []string `json:"texts"`
	Model    string   `json:"model"`
	TaskType string   `json:"task_type"`
}

type nomicResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p nomicProvider) Headers() http.Header {
	h := http.Header{}
	if p.apiKey != "" {
		h.Set("Authorization", "Bearer "+p.apiKey)
	}
	return h
}

func (p nomicProvider) Body(text string) any {
	return nomicRequest{Texts: []string{text}, Model: p.model, TaskType: "search"}
}

func (p nomicProvider) ParseVector(body []byte) ([]float32, error) {
	var resp nomicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errEmptyVector
	}
	return resp.Embeddings[0], nil
}

// graniteProvider speaks the OpenAI-compatible /v1/embeddings shape served
// in front of IBM Granite models.
type graniteProvider struct{ endpoint }

type graniteRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format"`
}

type graniteResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p graniteProvider) Headers() http.Header {
	h := http.Header{}
	if p.apiKey != "" {
		h.Set("X-API-Key", p.apiKey)
	}
	return h
}

func (p graniteProvider) Body(text string) any {
	return graniteRequest{Input: text, Model: p.model, EncodingFormat: "float"}
}

func (p graniteProvider) ParseVector(body []byte) ([]float32, error) {
	var resp graniteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errEmptyVector
	}
	return resp.Data[0].Embedding, nil
}

var providerKinds = map[string]func(endpoint) Provider{
	"nomic":   func(e endpoint) Provider { return nomicProvider{e} },
	"granite": func(e endpoint) Provider { return graniteProvider{e} },
}

// NewProvider builds the provider registered under name.
func NewProvider(name string, cfg config.ProviderConfig) (Provider, error) {
	build, ok := providerKinds[name]
	if !ok {
		return nil, apperrors.Config("unknown embedding provider %q", name)
	}
	if cfg.URL == "" {
		return nil, apperrors.Config("embedding provider %q has no url", name)
	}
	return build(endpoint{name: name, url: cfg.URL, apiKey: cfg.APIKey, model: cfg.Model}), nil
}

// ProvidersFromConfig builds every configured provider.
func ProvidersFromConfig(cfgs map[string]config.ProviderConfig) (map[string]Provider, error) {
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	providers := make(map[string]Provider, len(cfgs))
	for _, name := range names {
		p, err := NewProvider(name, cfgs[name])
		if err != nil {
			return nil, err
		}
		providers[name] = p
	}
	return providers, nil
}
