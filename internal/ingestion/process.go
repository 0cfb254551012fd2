package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/chunking"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/tracing"
)

// process runs one dequeued item to a terminal state. Every error is turned
// into a FAILED document and job; the consumer always moves on.
func (q *Queue) process(ctx context.Context, it item) {
	ctx = logger.WithDocument(ctx, it.docID, it.jobID)
	log := logger.FromContext(ctx)

	doc, job, claimed, err := q.claim(ctx, it)
	if claimed {
		defer q.release()
	}
	if err != nil {
		if !claimed {
			log.Error("claiming document failed, leaving it pending", "error", err)
			return
		}
		log.Error("starting document failed", "error", err)
		q.markFailed(ctx, it.docID, it.jobID, err)
		return
	}
	if !claimed {
		return
	}

	runCtx, span := tracing.StartSpan(ctx, "total", job.ID, q.observe)
	chunks, err := q.run(runCtx, doc)
	span.SetAttr("chunks", len(chunks))
	span.End()
	span.Log(log)
	if err != nil {
		if apperrors.IsDomain(err) {
			log.Warn("document processing failed", "error", err)
		} else {
			log.Error("document processing failed", "error", err, "unexpected", true)
		}
		q.markFailed(ctx, doc.ID, job.ID, err)
		return
	}
	q.complete(ctx, doc, job, chunks)
}

// claim moves a PENDING document whose current job matches the item to
// PROCESSING. Items for cancelled documents or superseded jobs are skipped.
// claimed is true once PROCESSING has been persisted, even if a later step
// of the claim failed.
func (q *Queue) claim(ctx context.Context, it item) (doc *model.Document, job *model.Job, claimed bool, err error) {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()

	d, found, err := q.deps.Documents.Get(ctx, it.docID)
	if err != nil {
		return nil, nil, false, err
	}
	if !found {
		logger.FromContext(ctx).Warn("skipping queued document that no longer exists")
		return nil, nil, false, nil
	}
	if d.Status != model.StatusPending || d.JobID() != it.jobID {
		logger.FromContext(ctx).Info("skipping stale queue item", "status", d.Status, "current_job", d.JobID())
		return nil, nil, false, nil
	}

	if err := q.deps.Documents.UpdateStatus(ctx, d.ID, string(model.StatusProcessing), ""); err != nil {
		return nil, nil, false, err
	}
	d.Status = model.StatusProcessing
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	q.inFlight = d.ID
	if q.deps.Metrics != nil {
		q.deps.Metrics.ActiveDocuments.Inc()
	}

	j, found, err := q.deps.Jobs.Get(ctx, it.jobID)
	if err == nil && !found {
		err = fmt.Errorf("%w: job %s", apperrors.ErrJobNotFound, it.jobID)
	}
	if err != nil {
		return &d, nil, true, err
	}
	j.Start(q.now())
	if err := q.deps.Jobs.Put(ctx, j); err != nil {
		return &d, &j, true, err
	}
	return &d, &j, true, nil
}

// settle writes the document's terminal state and, once it is stored, stops
// treating the document as in flight. Both happen under stateMu so callers
// never see a terminal status for a document still marked in flight.
func (q *Queue) settle(write func() error) error {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	if err := write(); err != nil {
		return err
	}
	q.inFlight = ""
	return nil
}

func (q *Queue) release() {
	q.stateMu.Lock()
	q.inFlight = ""
	q.stateMu.Unlock()
	if q.deps.Metrics != nil {
		q.deps.Metrics.ActiveDocuments.Dec()
	}
}

// run converts and chunks the document. The staged copy of the content is
// removed whatever the outcome.
func (q *Queue) run(ctx context.Context, doc *model.Document) ([]model.Chunk, error) {
	staged, cleanup, err := q.stage(doc)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	_, convSpan := tracing.StartChildSpan(ctx, "conversion")
	structured, err := q.deps.Converter.Convert(ctx, doc.Content, doc.ContentType, staged)
	convSpan.End()
	if err != nil {
		return nil, err
	}
	doc.Metadata[model.MetaFormat] = string(structured.Format)
	if structured.Title != "" {
		doc.Metadata[model.MetaTitle] = structured.Title
	}

	strategy, _ := doc.Metadata[model.MetaStrategy].(string)
	_, chunkSpan := tracing.StartChildSpan(ctx, "chunking")
	chunks := q.deps.Chunker.Chunk(structured.Text, chunking.Strategy(strategy))
	chunkSpan.SetAttr("strategy", strategy)
	chunkSpan.End()
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks produced", apperrors.ErrChunking)
	}
	return chunks, nil
}

// stage writes the content to a private directory under the staging dir,
// keeping the original base name so converters can rely on the extension.
func (q *Queue) stage(doc *model.Document) (string, func(), error) {
	dir, err := os.MkdirTemp(q.cfg.StagingDir, "ingest-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating staging dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			q.logger.Warn("removing staged content failed", "dir", dir, "error", err)
		}
	}
	name := filepath.Base(doc.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = doc.ID
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, doc.Content, 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("staging content: %w", err)
	}
	return path, cleanup, nil
}

func (q *Queue) complete(ctx context.Context, doc *model.Document, job *model.Job, chunks []model.Chunk) {
	now := q.now()
	doc.Chunks = chunks
	doc.Status = model.StatusCompleted
	doc.ErrorMessage = ""
	doc.Metadata[model.MetaChunkCount] = len(chunks)
	if len(chunks) > 0 {
		doc.Metadata[model.MetaStrategy] = chunks[0].Metadata.Strategy
	}
	if now.After(doc.UpdatedAt) {
		doc.UpdatedAt = now
	}
	if err := q.settle(func() error { return q.deps.Documents.Put(ctx, *doc) }); err != nil {
		logger.FromContext(ctx).Error("persisting completed document failed", "error", err)
		q.markFailed(ctx, doc.ID, job.ID, err)
		return
	}
	job.Finish(model.JobCompleted, len(chunks), "", now)
	if err := q.deps.Jobs.Put(ctx, *job); err != nil {
		logger.FromContext(ctx).Error("persisting completed job failed", "error", err)
	}
	q.countDocument(string(model.StatusCompleted))
	q.publish(ctx, model.DocumentEvent{
		DocID:      doc.ID,
		JobID:      job.ID,
		Status:     model.StatusCompleted,
		ChunkCount: len(chunks),
		OccurredAt: now,
	})
	logger.FromContext(ctx).Info("document processed", "chunks", len(chunks))
}

// markFailed records err on the document and its job. Storage failures here
// are logged; there is nowhere further to report them.
func (q *Queue) markFailed(ctx context.Context, docID, jobID string, cause error) {
	msg := cause.Error()
	log := logger.FromContext(ctx)
	if err := q.settle(func() error {
		return q.deps.Documents.UpdateStatus(ctx, docID, string(model.StatusFailed), msg)
	}); err != nil {
		log.Error("marking document failed did not persist", "error", err)
	}
	if job, ok, err := q.deps.Jobs.Get(ctx, jobID); err != nil {
		log.Error("loading job to mark failed", "error", err)
	} else if ok {
		job.Finish(model.JobFailed, job.TotalItems, msg, q.now())
		if err := q.deps.Jobs.Put(ctx, job); err != nil {
			log.Error("marking job failed did not persist", "error", err)
		}
	}
	q.countDocument(string(model.StatusFailed))
	q.publish(ctx, model.DocumentEvent{
		DocID:      docID,
		JobID:      jobID,
		Status:     model.StatusFailed,
		Error:      msg,
		OccurredAt: q.now(),
	})
}

func (q *Queue) publish(ctx context.Context, ev model.DocumentEvent) {
	if q.deps.Events == nil {
		return
	}
	if err := q.deps.Events.Publish(ctx, kafka.Event{Key: ev.DocID, Value: ev}); err != nil {
		logger.FromContext(ctx).Warn("publishing document event failed", "status", ev.Status, "error", err)
	}
}

// observe feeds stage spans into the processing-duration histogram.
func (q *Queue) observe(stage string, d time.Duration) {
	if q.deps.Metrics != nil {
		q.deps.Metrics.ProcessingDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}
