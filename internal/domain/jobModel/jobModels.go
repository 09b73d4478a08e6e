package jobModel

import (
	"context"
	"time"
)

type JobStatus string
type InternalStatus string

// An ingestion job moves QUEUED -> RUNNING -> COMPLETE | FAILED.
const (
	JobStatusQueued   JobStatus = "QUEUED"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusComplete JobStatus = "COMPLETE"
	JobStatusError    JobStatus = "FAILED"

	IngestInit       InternalStatus = "Queued"
	IngestExtracting InternalStatus = "Extracting"
	IngestChunking   InternalStatus = "Chunking"
	IngestEmbedding  InternalStatus = "Embedding"
	IngestStoring    InternalStatus = "Storing"
	IngestLinking    InternalStatus = "LinkingKnowledgeBase"
	Error            InternalStatus = "Error"
	Complete         InternalStatus = "Complete"
)

// Job tracks one uploaded file through ingestion. The payload names the owner the
// resulting document will belong to; only that owner may read the job.
type Job struct {
	Id          string         `json:"id"`
	TraceId     string         `json:"trace_id"`
	JobPayload  JobPayload     `json:"job_payload"`
	Error       JobError       `json:"error,omitempty"`
	CreatedTime time.Time      `json:"created_time"`
	EndTime     time.Time      `json:"end_time,omitempty"`
	Status      JobStatus      `json:"status"`
	CurrentStep InternalStatus `json:"current_step"`
}

func (j Job) OwnerId() string {
	return j.JobPayload.OwnerId
}

func (j Job) IsTerminal() bool {
	return j.Status == JobStatusComplete || j.Status == JobStatusError
}

// Fail marks the job failed at its current step.
func (j Job) Fail(jobErr JobError) Job {
	j.Status = JobStatusError
	j.CurrentStep = Error
	j.Error = jobErr
	return j
}

type JobError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

type JobPayload struct {
	Title           string `json:"title"`
	OwnerId         string `json:"owner_id"`
	KnowledgeBaseId string `json:"knowledge_base_id,omitempty"`
	FilePath        string `json:"file_path"`
	FileExt         string `json:"file_ext"`
	DocumentId      string `json:"document_id,omitempty"`
	ChunkCount      int    `json:"chunk_count,omitempty"`
}

type JobStore interface {
	GetJob(ctx context.Context, jobId string) (Job, bool)
	SaveJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, jobID string)
	// ListOwnerJobs returns the owner's newest jobs first, at most limit of them.
	ListOwnerJobs(ctx context.Context, ownerId string, limit int) ([]Job, error)
}
