package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akolanti/kbchat/internal/domain/jobModel"
	"github.com/akolanti/kbchat/internal/job"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

type MockProcessor struct {
	ProcessedCount int32
	OnProcess      func(ctx context.Context, j jobModel.Job) jobModel.Job
}

func (m *MockProcessor) ProcessDocumentIngestion(ctx context.Context, j jobModel.Job) jobModel.Job {
	atomic.AddInt32(&m.ProcessedCount, 1)
	if m.OnProcess != nil {
		return m.OnProcess(ctx, j)
	}
	j.Status = jobModel.JobStatusComplete
	j.CurrentStep = jobModel.Complete
	return j
}

type MockJobStore struct {
	mu    sync.Mutex
	saved []jobModel.Job
}

func (m *MockJobStore) GetJob(ctx context.Context, jobId string) (jobModel.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].Id == jobId {
			return m.saved[i], true
		}
	}
	return jobModel.Job{}, false
}

func (m *MockJobStore) DeleteJob(ctx context.Context, jobID string) {}

func (m *MockJobStore) ListOwnerJobs(ctx context.Context, ownerId string, limit int) ([]jobModel.Job, error) {
	return nil, nil
}

func (m *MockJobStore) SaveJob(ctx context.Context, j jobModel.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, j)
	return nil
}

func (m *MockJobStore) statuses(jobId string) []jobModel.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []jobModel.JobStatus
	for _, j := range m.saved {
		if j.Id == jobId {
			out = append(out, j.Status)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorkerPool_Flow(t *testing.T) {
	store := &MockJobStore{}
	jobSvc := &job.Service{
		JobChannel:        make(chan jobModel.Job, 10),
		DispatcherChannel: make(chan bool, 10),
		JobStore:          store,
	}
	processor := &MockProcessor{}
	stopChan := make(chan bool)
	wg := &sync.WaitGroup{}

	atomic.StoreInt64(&currentWorkerCount, 0)
	InitServices(jobSvc, processor)
	InitWorkerPool(stopChan, wg)

	t.Run("Dispatcher creates worker on signal", func(t *testing.T) {
		jobSvc.DispatcherChannel <- true
		waitFor(t, func() bool { return atomic.LoadInt64(&currentWorkerCount) >= 2 })
	})

	t.Run("Worker processes a job and records each status", func(t *testing.T) {
		jobSvc.JobChannel <- jobModel.Job{Id: "test-1", Status: jobModel.JobStatusQueued}
		waitFor(t, func() bool { return len(store.statuses("test-1")) == 2 })

		got := store.statuses("test-1")
		if got[0] != jobModel.JobStatusRunning || got[1] != jobModel.JobStatusComplete {
			t.Errorf("unexpected status sequence %v", got)
		}
		final, _ := store.GetJob(context.Background(), "test-1")
		if final.EndTime.IsZero() {
			t.Error("end time not recorded")
		}
	})

	t.Run("Stop signal retires workers", func(t *testing.T) {
		close(stopChan)

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Workers did not stop within timeout")
		}
	})
}

func TestWorker_FailedJobKeepsError(t *testing.T) {
	store := &MockJobStore{}
	logger = logger_i.NewLogger("TestWorkerPool")
	InitServices(&job.Service{JobStore: store}, &MockProcessor{OnProcess: func(ctx context.Context, j jobModel.Job) jobModel.Job {
		j.Status = jobModel.JobStatusError
		j.Error = jobModel.JobError{Code: 409, Message: "duplicate"}
		return j
	}})

	executeJob(jobModel.Job{Id: "dup"})

	final, found := store.GetJob(context.Background(), "dup")
	if !found || final.Status != jobModel.JobStatusError || final.Error.Code != 409 {
		t.Errorf("unexpected final job %+v", final)
	}
}

func TestWorker_IdleTimeout(t *testing.T) {
	atomic.StoreInt64(&currentWorkerCount, 0)
	atomic.StoreInt64(&minWorkerCount, 0)
	idleWorkerTimeout = 20 * time.Millisecond
	logger = logger_i.NewLogger("TestWorkerPool")
	InitServices(&job.Service{JobChannel: make(chan jobModel.Job)}, &MockProcessor{})

	workerWaitGroup = &sync.WaitGroup{}
	stopWorkerChannel = make(chan bool)

	createWorker()
	waitFor(t, func() bool { return atomic.LoadInt64(&currentWorkerCount) == 0 })
}

func TestWorker_PanicFailsJob(t *testing.T) {
	store := &MockJobStore{}
	logger = logger_i.NewLogger("TestWorkerPool")
	InitServices(&job.Service{JobStore: store}, &MockProcessor{OnProcess: func(ctx context.Context, j jobModel.Job) jobModel.Job {
		panic("corrupt pdf")
	}})

	executeJob(jobModel.Job{Id: "boom", Status: jobModel.JobStatusQueued})

	final, found := store.GetJob(context.Background(), "boom")
	if !found || final.Status != jobModel.JobStatusError || final.CurrentStep != jobModel.Error {
		t.Fatalf("unexpected final job %+v", final)
	}
	if final.Error.Code != 500 || !final.Error.Retry {
		t.Errorf("unexpected job error %+v", final.Error)
	}
}

func TestWorker_SkipsFinishedJob(t *testing.T) {
	store := &MockJobStore{}
	processor := &MockProcessor{}
	logger = logger_i.NewLogger("TestWorkerPool")
	InitServices(&job.Service{JobStore: store}, processor)

	executeJob(jobModel.Job{Id: "done", Status: jobModel.JobStatusComplete})

	if atomic.LoadInt32(&processor.ProcessedCount) != 0 {
		t.Error("finished job was processed again")
	}
	if len(store.statuses("done")) != 0 {
		t.Error("finished job state was rewritten")
	}
}
