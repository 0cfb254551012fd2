package ingestion

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/chunking"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/logger"
)

type submitOptions struct {
	strategy chunking.Strategy
	priority int
}

type SubmitOption func(*submitOptions)

// WithStrategy selects the chunking strategy for this document instead of
// the engine default.
func WithStrategy(s chunking.Strategy) SubmitOption {
	return func(o *submitOptions) { o.strategy = s }
}

// WithPriority is recorded on the job. The queue stays FIFO regardless.
func WithPriority(p int) SubmitOption {
	return func(o *submitOptions) { o.priority = p }
}

// Submit stores a PENDING document with a QUEUED job and enqueues them. It
// returns without waiting for processing. Invalid input fails before
// anything is stored.
func (q *Queue) Submit(ctx context.Context, content []byte, filename, contentType string, opts ...SubmitOption) (*model.Document, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}
	format, err := validateSubmission(content, filename, contentType, &o)
	if err != nil {
		return nil, err
	}

	now := q.now()
	doc := model.Document{
		ID:          q.newID(),
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
		Status:      model.StatusPending,
		Metadata: map[string]any{
			model.MetaFormat:    string(format),
			model.MetaSizeBytes: len(content),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if o.strategy != "" {
		doc.Metadata[model.MetaStrategy] = string(o.strategy)
	}
	job := q.newJob(doc.ID, o.priority, now)
	doc.Metadata[model.MetaJobID] = job.ID

	if err := q.deps.Jobs.Put(ctx, job); err != nil {
		return nil, err
	}
	if err := q.deps.Documents.Put(ctx, doc); err != nil {
		q.abandonSubmission(ctx, doc.ID, job, err)
		return nil, err
	}
	q.push(item{docID: doc.ID, jobID: job.ID})
	q.countDocument("submitted")

	logger.FromContext(logger.WithDocument(ctx, doc.ID, job.ID)).Info("document submitted",
		"filename", filename,
		"format", format,
		"size_bytes", len(content),
	)
	return &doc, nil
}

// abandonSubmission settles the records of a submission whose document write
// failed, since no queue item will ever pick them up. The job fails with the
// cause. The document may have reached the index before the cache write
// failed; it is cancelled so it never sits in PENDING.
func (q *Queue) abandonSubmission(ctx context.Context, docID string, job model.Job, cause error) {
	log := logger.FromContext(logger.WithDocument(ctx, docID, job.ID))
	job.Finish(model.JobFailed, 0, cause.Error(), q.now())
	if err := q.deps.Jobs.Put(ctx, job); err != nil {
		log.Error("marking abandoned job failed did not persist", "error", err)
	}
	err := q.deps.Documents.UpdateStatus(ctx, docID, string(model.StatusCancelled), "")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("cancelling abandoned document did not persist", "error", err)
	}
	log.Warn("submission abandoned", "error", cause)
}

func (q *Queue) newJob(docID string, priority int, now time.Time) model.Job {
	return model.Job{
		ID:        q.newID(),
		Type:      model.JobDocumentProcessing,
		Status:    model.JobQueued,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{"doc_id": docID},
	}
}

// Get returns the stored document, or an ErrDocumentNotFound error.
func (q *Queue) Get(ctx context.Context, docID string) (*model.Document, error) {
	doc, ok, err := q.deps.Documents.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, documentNotFound(docID)
	}
	return &doc, nil
}

// GetStatus reports the current status; ok is false for unknown documents.
func (q *Queue) GetStatus(ctx context.Context, docID string) (model.DocumentStatus, bool, error) {
	doc, ok, err := q.deps.Documents.Get(ctx, docID)
	if err != nil || !ok {
		return "", false, err
	}
	return doc.Status, true, nil
}

func (q *Queue) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, ok, err := q.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrJobNotFound, http.StatusNotFound, "job %s not found", jobID)
	}
	return &job, nil
}

// Reprocess clears the results of a previous run and enqueues the document
// again under a new job. A document that is being processed is rejected
// with a concurrency error and left untouched.
func (q *Queue) Reprocess(ctx context.Context, docID string) (*model.Document, error) {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()

	doc, err := q.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status == model.StatusProcessing || q.inFlight == docID {
		return nil, apperrors.Concurrency("document %s is already being processed", docID)
	}

	now := q.now()
	if err := q.supersedeJob(ctx, doc.JobID()); err != nil {
		return nil, err
	}
	job := q.newJob(doc.ID, 0, now)
	doc.ResetForReprocess(now)
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	doc.Metadata[model.MetaJobID] = job.ID
	doc.Metadata[model.MetaReprocessed] = intValue(doc.Metadata[model.MetaReprocessed]) + 1
	delete(doc.Metadata, model.MetaChunkCount)

	if err := q.deps.Documents.Put(ctx, *doc); err != nil {
		return nil, err
	}
	if err := q.deps.Jobs.Put(ctx, job); err != nil {
		return nil, err
	}
	q.push(item{docID: doc.ID, jobID: job.ID})
	q.countDocument("reprocessed")

	logger.FromContext(logger.WithDocument(ctx, doc.ID, job.ID)).Info("document queued for reprocessing")
	return doc, nil
}

// Cancel moves a PENDING document to CANCELLED. Its queued item is skipped
// when dequeued. There is no way to interrupt a document mid-processing, so
// that case is a concurrency error, as is cancelling a finished document.
func (q *Queue) Cancel(ctx context.Context, docID string) (*model.Document, error) {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()

	doc, err := q.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status == model.StatusProcessing || q.inFlight == docID {
		return nil, apperrors.Concurrency("document %s is being processed and cannot be cancelled", docID)
	}
	if !doc.Status.CanTransition(model.StatusCancelled) {
		return nil, apperrors.Concurrency("document %s is %s and cannot be cancelled", docID, doc.Status)
	}

	if err := q.deps.Documents.UpdateStatus(ctx, docID, string(model.StatusCancelled), ""); err != nil {
		return nil, err
	}
	if err := q.supersedeJob(ctx, doc.JobID()); err != nil {
		return nil, err
	}
	q.countDocument(string(model.StatusCancelled))
	doc.Status = model.StatusCancelled

	logger.FromContext(logger.WithDocument(ctx, doc.ID, doc.JobID())).Info("document cancelled")
	return doc, nil
}

// supersedeJob cancels a job that never reached a terminal state.
func (q *Queue) supersedeJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}
	job, ok, err := q.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok || job.Status.IsTerminal() {
		return nil
	}
	job.Finish(model.JobCancelled, job.TotalItems, "", q.now())
	return q.deps.Jobs.Put(ctx, job)
}

func (q *Queue) countDocument(status string) {
	if q.deps.Metrics != nil {
		q.deps.Metrics.DocumentsTotal.WithLabelValues(status).Inc()
	}
}

func documentNotFound(docID string) error {
	return apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %s not found", docID)
}

// intValue reads a counter back from metadata that may have been through a
// JSON round trip.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
