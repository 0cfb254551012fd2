package model

import "time"

type JobType string

const (
	JobDocumentProcessing  JobType = "document_processing"
	JobEmbeddingGeneration JobType = "embedding_generation"
	JobIndexUpdate         JobType = "index_update"
	JobBatchProcessing     JobType = "batch_processing"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job tracks one unit of queued work. A reprocessed document gets a new job.
type Job struct {
	ID             string         `json:"job_id"`
	Type           JobType        `json:"job_type"`
	Status         JobStatus      `json:"status"`
	Priority       int            `json:"priority"`
	Progress       float64        `json:"progress"`
	TotalItems     int            `json:"total_items"`
	ProcessedItems int            `json:"processed_items"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata"`
}

func (j Job) StorageKey() string { return j.ID }

// DocumentID returns the document this job processes.
func (j Job) DocumentID() string {
	id, _ := j.Metadata["doc_id"].(string)
	return id
}

// Start marks the job running.
func (j *Job) Start(now time.Time) {
	j.Status = JobRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Finish records the terminal status. Progress is reported against the
// number of chunks produced.
func (j *Job) Finish(status JobStatus, items int, errMsg string, now time.Time) {
	j.Status = status
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.ErrorMessage = errMsg
	j.TotalItems = items
	if status == JobCompleted {
		j.ProcessedItems = items
		j.Progress = 1
	}
}
