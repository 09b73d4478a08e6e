package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/akolanti/kbchat/internal/adapter"
	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/api"
	"github.com/akolanti/kbchat/internal/domain/jobModel"
	"github.com/akolanti/kbchat/internal/job"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

var (
	handlerInstance *JobHandler //private singleton
	once            sync.Once
	logJH           *logger_i.Logger
)

type JobHandler struct {
	service *job.Service
}

func InitJobHandler(jobService *job.Service) {
	once.Do(func() {
		handlerInstance = &JobHandler{service: jobService}
		logJH = logger_i.NewLogger("JobHandler")
		logJH.Info("Starting job handler")
	})
}

// queueIngestion hands an uploaded file to the worker pool under the request's trace id.
func queueIngestion(ctx context.Context, payload jobModel.JobPayload) jobModel.Job {
	trace := utils.TraceFrom(ctx)
	if trace == "" {
		trace = utils.GetNewUUID()
	}
	return handlerInstance.service.Enqueue(ctx, utils.GetNewUUID(), trace, payload)
}

func ownedJob(ctx context.Context, id string, ownerId string) (jobModel.Job, bool) {
	if handlerInstance == nil || id == "" {
		return jobModel.Job{}, false
	}
	return handlerInstance.service.OwnedJob(ctx, id, ownerId)
}

// GetStatusHandler godoc
// @Summary      Get ingestion job status
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  api.JobResponse
// @Failure      404  {object}  api.ErrorResponse
// @Router       /status/{id} [get]
func GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id := utils.GetChiURLParam(r, "id")
	result, found := ownedJob(r.Context(), id, caller.UserId)
	if !found {
		logJH.WithTrace(r.Context()).Debug("Job not visible to caller", "jobId", id)
		WriteErrorResponse(w, http.StatusNotFound, id, "Job not found")
		return
	}
	writeJsonResponse(w, http.StatusOK, adapter.ToAPIResponse(result))
}

// ListJobsHandler godoc
// @Summary      List the caller's ingestion jobs, newest first
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Maximum number of jobs"
// @Success      200    {object}  api.JobListResponse
// @Router       /jobs [get]
func ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := handlerInstance.service.OwnerJobs(r.Context(), caller.UserId, limit)
	if err != nil {
		writeDomainError(w, r, "", err)
		return
	}
	out := api.JobListResponse{Jobs: make([]api.JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, adapter.ToAPIResponse(j))
	}
	writeJsonResponse(w, http.StatusOK, out)
}
