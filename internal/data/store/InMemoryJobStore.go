package store

import (
	"context"
	"sort"
	"sync"

	"github.com/akolanti/kbchat/internal/domain/jobModel"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

var inMemLogger = logger_i.NewLogger("InMem Store")

// InMemoryJobStore is the fallback when redis is offline. Jobs never expire.
type InMemoryJobStore struct {
	mu     sync.RWMutex
	jobs   map[string]jobModel.Job
	owners map[string]map[string]struct{}
}

func InitInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{
		jobs:   make(map[string]jobModel.Job),
		owners: make(map[string]map[string]struct{}),
	}
}

func (store *InMemoryJobStore) SaveJob(ctx context.Context, job jobModel.Job) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.jobs[job.Id] = job
	if owner := job.OwnerId(); owner != "" {
		if store.owners[owner] == nil {
			store.owners[owner] = make(map[string]struct{})
		}
		store.owners[owner][job.Id] = struct{}{}
	}
	inMemLogger.Debug("Saved job to store", "jobId", job.Id, "status", job.Status)
	return nil
}

func (store *InMemoryJobStore) GetJob(ctx context.Context, jobId string) (jobModel.Job, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	result, found := store.jobs[jobId]
	return result, found
}

func (store *InMemoryJobStore) ListOwnerJobs(ctx context.Context, ownerId string, limit int) ([]jobModel.Job, error) {
	store.mu.RLock()
	out := make([]jobModel.Job, 0, len(store.owners[ownerId]))
	for id := range store.owners[ownerId] {
		out = append(out, store.jobs[id])
	}
	store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTime.After(out[j].CreatedTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (store *InMemoryJobStore) DeleteJob(ctx context.Context, jobID string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if job, ok := store.jobs[jobID]; ok {
		delete(store.owners[job.OwnerId()], jobID)
	}
	delete(store.jobs, jobID)
}
