package job

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/jobModel"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

// Service is shared by the upload handler, which queues jobs, and the worker pool, which drains them.
type Service struct {
	JobChannel        chan jobModel.Job
	RequestCount      int64
	DispatcherChannel chan bool
	JobStore          jobModel.JobStore
	logger            *logger_i.Logger
}

type ServiceConfig struct {
	JobChannel        chan jobModel.Job
	RequestCount      int64
	DispatcherChannel chan bool
	JobStore          jobModel.JobStore
}

func InitJobService(cfg ServiceConfig) *Service {
	return &Service{
		JobChannel:        cfg.JobChannel,
		RequestCount:      cfg.RequestCount,
		DispatcherChannel: cfg.DispatcherChannel,
		JobStore:          cfg.JobStore,
		logger:            logger_i.NewLogger("JobService"),
	}
}

// Enqueue records the job as queued and hands it to the worker pool.
// The send blocks once the buffer is full, which keeps the queue bounded.
func (s *Service) Enqueue(ctx context.Context, id string, traceId string, payload jobModel.JobPayload) jobModel.Job {
	log := s.log().WithTrace(ctx).With("jobId", id)
	queued := jobModel.Job{
		Id:          id,
		TraceId:     traceId,
		JobPayload:  payload,
		CreatedTime: time.Now(),
		Status:      jobModel.JobStatusQueued,
		CurrentStep: jobModel.IngestInit,
	}
	if err := s.JobStore.SaveJob(ctx, queued); err != nil {
		log.Error("Could not save queued job", "err", err)
	}

	metrics.IncrementJobsInQueue()
	s.JobChannel <- queued

	// a backlog means every worker is busy; idle workers retire on their own
	count := atomic.AddInt64(&s.RequestCount, 1)
	if len(s.JobChannel) > 0 || count%config.RequestsPerNewWorkerCount == 0 {
		select {
		case s.DispatcherChannel <- true:
			metrics.StartDispatcherSignalCount()
			log.Debug("Signalled dispatcher", "requestCount", count)
		default:
		}
	}
	log.Info("Queued ingestion job", "title", payload.Title, "owner", payload.OwnerId)
	return queued
}

// OwnedJob returns the job only when it belongs to ownerId.
// A foreign job is reported as missing so ids do not leak.
func (s *Service) OwnedJob(ctx context.Context, id string, ownerId string) (jobModel.Job, bool) {
	found, ok := s.JobStore.GetJob(ctx, id)
	if !ok || ownerId == "" || found.OwnerId() != ownerId {
		return jobModel.Job{}, false
	}
	return found, true
}

func (s *Service) OwnerJobs(ctx context.Context, ownerId string, limit int) ([]jobModel.Job, error) {
	if limit <= 0 || limit > config.MaxJobListSize {
		limit = config.MaxJobListSize
	}
	return s.JobStore.ListOwnerJobs(ctx, ownerId, limit)
}

func (s *Service) log() *logger_i.Logger {
	if s.logger == nil {
		s.logger = logger_i.NewLogger("JobService")
	}
	return s.logger
}
