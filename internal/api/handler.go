// Package api maps HTTP requests onto the ingestion queue, the embedding
// orchestrator and the search service. It holds no pipeline logic of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/chunking"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/logger"
)

const defaultMaxUploadBytes = 32 << 20

// Documents is the document lifecycle surface. *ingestion.Queue satisfies it.
type Documents interface {
	Submit(ctx context.Context, content []byte, filename, contentType string, opts ...ingestion.SubmitOption) (*model.Document, error)
	Get(ctx context.Context, docID string) (*model.Document, error)
	GetStatus(ctx context.Context, docID string) (model.DocumentStatus, bool, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	Reprocess(ctx context.Context, docID string) (*model.Document, error)
	Cancel(ctx context.Context, docID string) (*model.Document, error)
}

// Embedder generates chunk embeddings. *embedding.Orchestrator satisfies it.
type Embedder interface {
	Embed(ctx context.Context, chunks []model.Chunk, provider string, batchSize int) ([]model.DocumentEmbedding, error)
}

// Searcher answers similarity queries. *search.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
	Invalidate(ctx context.Context) (int, error)
	CacheStats() (hits, misses int64)
}

type Config struct {
	MaxUploadBytes   int64
	DefaultProvider  string
	DefaultBatchSize int
}

type Handler struct {
	docs     Documents
	embedder Embedder
	searcher Searcher
	cfg      Config
	logger   *slog.Logger
}

// New builds a Handler. embedder and searcher may be nil, in which case
// their routes answer 503.
func New(docs Documents, embedder Embedder, searcher Searcher, cfg Config) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		docs:     docs,
		embedder: embedder,
		searcher: searcher,
		cfg:      cfg,
		logger:   slog.Default().With("component", "api-handler"),
	}
}

// documentView is a Document without its raw bytes.
type documentView struct {
	model.Document
	Content []byte `json:"content,omitempty"`
}

func viewOf(doc *model.Document) documentView {
	return documentView{Document: *doc}
}

// SubmitDocument accepts a multipart upload in the "file" field. Optional
// form fields: strategy, priority.
func (h *Handler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			h.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(h.cfg.MaxUploadBytes, 10)+" bytes")
			return
		}
		h.writeError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "reading upload failed")
		return
	}

	var opts []ingestion.SubmitOption
	if s := strings.TrimSpace(r.FormValue("strategy")); s != "" {
		opts = append(opts, ingestion.WithStrategy(chunking.Strategy(s)))
	}
	if p := strings.TrimSpace(r.FormValue("priority")); p != "" {
		priority, err := strconv.Atoi(p)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
		opts = append(opts, ingestion.WithPriority(priority))
	}

	doc, err := h.docs.Submit(ctx, content, header.Filename, header.Header.Get("Content-Type"), opts...)
	if err != nil {
		h.writeAppError(ctx, w, "submit failed", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"doc_id": doc.ID,
		"job_id": doc.JobID(),
		"status": doc.Status,
	})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(r.Context(), w, "get document failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(doc))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, ok, err := h.docs.GetStatus(r.Context(), id)
	if err != nil {
		h.writeAppError(r.Context(), w, "get status failed", err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "document "+id+" not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"doc_id": id, "status": status})
}

func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Reprocess(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(r.Context(), w, "reprocess failed", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"doc_id": doc.ID,
		"job_id": doc.JobID(),
		"status": doc.Status,
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(r.Context(), w, "cancel failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"doc_id": doc.ID, "status": doc.Status})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.docs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(r.Context(), w, "get job failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// GenerateEmbeddings embeds the chunks of a COMPLETED document. Query
// parameters provider and batch_size override the configured defaults.
func (h *Handler) GenerateEmbeddings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.embedder == nil {
		h.writeError(w, http.StatusServiceUnavailable, "embedding is not configured")
		return
	}
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		provider = h.cfg.DefaultProvider
	}
	batchSize := h.cfg.DefaultBatchSize
	if raw := r.URL.Query().Get("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "batch_size must be a positive integer")
			return
		}
		batchSize = n
	}

	doc, err := h.docs.Get(ctx, r.PathValue("id"))
	if err != nil {
		h.writeAppError(ctx, w, "get document failed", err)
		return
	}
	if doc.Status != model.StatusCompleted {
		h.writeAppError(ctx, w, "embedding refused",
			apperrors.Concurrency("document %s is %s, embeddings need a completed document", doc.ID, doc.Status))
		return
	}
	ctx = logger.WithDocument(ctx, doc.ID, doc.JobID())
	embeddings, err := h.embedder.Embed(ctx, doc.Chunks, provider, batchSize)
	if err != nil {
		h.writeAppError(ctx, w, "embedding failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":     doc.ID,
		"provider":   provider,
		"chunks":     len(doc.Chunks),
		"generated":  len(embeddings),
		"embeddings": embeddings,
	})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	var q search.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.searcher.Search(r.Context(), q)
	if err != nil {
		h.writeAppError(r.Context(), w, "search failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	hits, misses := h.searcher.CacheStats()
	ratio := 0.0
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"hits": hits, "misses": misses, "hit_ratio": ratio})
}

func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	n, err := h.searcher.Invalidate(r.Context())
	if err != nil {
		h.writeAppError(r.Context(), w, "invalidate failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"keys_deleted": n})
}

// writeAppError maps err onto its HTTP status. Server-side failures are
// logged and their detail withheld from the client.
func (h *Handler) writeAppError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		log.Error(op, "error", err, "status_code", status, "unexpected", !apperrors.IsDomain(err))
		h.writeError(w, status, op)
		return
	}
	log.Info(op, "error", err, "status_code", status)
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
