package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/jobModel"
	"github.com/akolanti/kbchat/internal/metrics"
)

func executeJob(job jobModel.Job) {
	start := time.Now()
	if !job.CreatedTime.IsZero() {
		metrics.CaptureQueueWait(start.Sub(job.CreatedTime))
	}
	defer func() {
		metrics.CaptureJobMetrics(string(job.Status), time.Since(start))
	}()

	ctxTrace := context.WithValue(context.Background(), config.TRACE_ID_KEY, job.TraceId)
	ctx, cancel := context.WithTimeout(ctxTrace, jobTimeout)
	defer cancel()
	log := logger.WithTrace(ctx).With("jobId", job.Id, "owner", job.OwnerId())

	// a redelivered job that already finished keeps its outcome
	if job.IsTerminal() {
		log.Warn("Skipping finished job", "status", job.Status)
		return
	}

	job.Status = jobModel.JobStatusRunning
	job.CurrentStep = jobModel.IngestExtracting
	saveJobState(ctx, job)

	job = runProcessor(ctx, job)
	job.EndTime = time.Now()
	if job.Status == jobModel.JobStatusError {
		log.Info("Ingestion job failed", "step", job.CurrentStep, "code", job.Error.Code, "reason", job.Error.Message)
	} else {
		log.Info("Ingestion job complete", "documentId", job.JobPayload.DocumentId, "chunks", job.JobPayload.ChunkCount)
	}
	// the job record outlives a timed out ingestion
	saveJobState(context.WithoutCancel(ctx), job)
}

// runProcessor turns a panicking ingestion into a failed job so the worker survives.
func runProcessor(ctx context.Context, job jobModel.Job) (out jobModel.Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithTrace(ctx).Error("Ingestion panicked", "jobId", job.Id, "panic", fmt.Sprint(r))
			out = job.Fail(jobModel.JobError{
				Code:    http.StatusInternalServerError,
				Message: "Document processing failed",
				Retry:   true,
			})
		}
	}()
	return _processor.ProcessDocumentIngestion(ctx, job)
}

func removeWorker(reason string) {
	workerWaitGroup.Done()
	count := atomic.AddInt64(&currentWorkerCount, -1)
	logger.Info("Removed worker", "reason", reason, "workerCount", count)
	metrics.DecrementActiveWorkerCount()
}

func saveJobState(ctx context.Context, job jobModel.Job) {
	if err := _jobService.JobStore.SaveJob(ctx, job); err != nil {
		logger.WithTrace(ctx).Error("Failed to save job state", "jobId", job.Id, "err", err)
	}
}
