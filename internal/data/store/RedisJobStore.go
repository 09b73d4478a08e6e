package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/data/redisStore"
	"github.com/akolanti/kbchat/internal/domain/jobModel"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

const (
	jobKeyPrefix       = "job:"
	ownerJobsKeyPrefix = "jobs:owner:"
)

// RedisJobStore keeps each job under job:<id> and indexes it in a per-owner
// sorted set scored by creation time. Both expire after RedisJobStoreTTL.
type RedisJobStore struct {
	store  *redisStore.Store
	logger *logger_i.Logger
}

// GetRedisJobStore returns nil when redis is offline so the caller can fall back to memory.
func GetRedisJobStore(ctx context.Context, settings *config.Settings) *RedisJobStore {
	s := redisStore.GetRedisStore(ctx, settings, config.RedisJobStore)
	if s == nil {
		return nil
	}
	return newRedisJobStore(s)
}

func newRedisJobStore(s *redisStore.Store) *RedisJobStore {
	return &RedisJobStore{store: s, logger: logger_i.NewLogger("JobStore")}
}

func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *RedisJobStore) SaveJob(ctx context.Context, job jobModel.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.Id, err)
	}

	if owner := job.OwnerId(); owner != "" {
		err = s.store.SetIndexed(ctx, jobKeyPrefix+job.Id, data, config.RedisJobStoreTTL,
			ownerJobsKeyPrefix+owner, job.Id, float64(job.CreatedTime.UnixNano()))
	} else {
		err = s.store.Set(ctx, jobKeyPrefix+job.Id, data, config.RedisJobStoreTTL)
	}
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.Id, err)
	}
	s.logger.WithTrace(ctx).Debug("Saved job", "jobId", job.Id, "status", job.Status, "step", job.CurrentStep)
	return nil
}

func (s *RedisJobStore) GetJob(ctx context.Context, jobId string) (jobModel.Job, bool) {
	var job jobModel.Job
	log := s.logger.WithTrace(ctx).With("jobId", jobId)
	val, err := s.store.Get(ctx, jobKeyPrefix+jobId)
	if s.store.IsNil(err) {
		return job, false
	} else if err != nil {
		log.Error("Error reading job", "error", err)
		return job, false
	}

	if err = json.Unmarshal([]byte(val), &job); err != nil {
		log.Error("Corrupt job record", "error", err)
		return job, false
	}
	return job, true
}

func (s *RedisJobStore) ListOwnerJobs(ctx context.Context, ownerId string, limit int) ([]jobModel.Job, error) {
	index := ownerJobsKeyPrefix + ownerId
	ids, err := s.store.IndexNewest(ctx, index, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", ownerId, err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKeyPrefix + id
	}
	values, err := s.store.GetMany(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("load jobs for %s: %w", ownerId, err)
	}

	jobs := make([]jobModel.Job, 0, len(values))
	var expired []string
	for i, val := range values {
		if val == "" {
			expired = append(expired, ids[i])
			continue
		}
		var job jobModel.Job
		if err := json.Unmarshal([]byte(val), &job); err != nil {
			s.logger.WithTrace(ctx).Error("Corrupt job record", "jobId", ids[i], "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	// the index outlives individual job keys
	if err := s.store.IndexRemove(ctx, index, expired...); err != nil {
		s.logger.WithTrace(ctx).Warn("Could not prune job index", "owner", ownerId, "error", err)
	}
	return jobs, nil
}

func (s *RedisJobStore) DeleteJob(ctx context.Context, jobID string) {
	if job, found := s.GetJob(ctx, jobID); found && job.OwnerId() != "" {
		if err := s.store.IndexRemove(ctx, ownerJobsKeyPrefix+job.OwnerId(), jobID); err != nil {
			s.logger.Warn("Could not unindex job", "jobId", jobID, "error", err)
		}
	}
	if err := s.store.Del(ctx, jobKeyPrefix+jobID); err != nil {
		s.logger.Error("Error deleting job from Redis", "jobId", jobID, "error", err)
		return
	}
	s.logger.Debug("Job deleted from Redis", "jobId", jobID)
}

func TestJobStore(store *redisStore.Store) *RedisJobStore {
	return newRedisJobStore(store)
}
