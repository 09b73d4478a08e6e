package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "Total number of requests labelled by path and status",
}, []string{"path", "status"})

var countJobsInQueue = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "count_jobs_in_queue",
	Help: "Number of ingestion jobs in queue",
})

var dispatcherSignalCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "dispatcher_signal_count",
	Help: "How often the dispatcher has signaled to start worker",
})

var activeWorkerCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "active_worker_count",
	Help: "Number of active workers",
})

var toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agent_tool_invocations_total",
	Help: "Tool calls executed by the agent, labelled by tool",
}, []string{"tool"})

var creditsDebited = promauto.NewCounter(prometheus.CounterOpts{
	Name: "credits_debited_total",
	Help: "Credits debited for tool use",
})

var accessDenials = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "access_denials_total",
	Help: "Access gate denials labelled by reason",
}, []string{"reason"})

var turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agent_turns_total",
	Help: "Completed chat turns labelled by mode and outcome",
}, []string{"mode", "outcome"})

// HttpStatusRecorder remembers the status written by the wrapped handler.
type HttpStatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *HttpStatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the connection behind the recorder.
func (r *HttpStatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush keeps streaming responses working through the recorder.
func (r *HttpStatusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func IncrementJobsInQueue() {
	countJobsInQueue.Inc()
}

func DecrementJobsInQueue() {
	countJobsInQueue.Dec()
}

func StartDispatcherSignalCount() {
	dispatcherSignalCount.Inc()
}

func IncrementActiveWorkerCount() {
	activeWorkerCount.Inc()
}

func DecrementActiveWorkerCount() {
	activeWorkerCount.Dec()
}

func CaptureToolInvocation(tool string) {
	toolInvocations.WithLabelValues(tool).Inc()
}

func CaptureCreditsDebited(n int) {
	creditsDebited.Add(float64(n))
}

func CaptureAccessDenial(reason string) {
	accessDenials.WithLabelValues(reason).Inc()
}

func CaptureTurn(mode string, outcome string) {
	turnsTotal.WithLabelValues(mode, outcome).Inc()
}

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ingestion_job_duration_seconds",
	Help:    "Total time spent on an ingestion job.",
	Buckets: []float64{.5, 1, 2, 5, 10, 30, 60, 300},
}, []string{"status"})

var dependencyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dependency_latency_seconds",
	Help:    "Latency of external service calls.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
}, []string{"service"})

func CaptureExecutionMetrics(label string, timeElapsed time.Duration) {
	dependencyLatency.WithLabelValues(label).Observe(timeElapsed.Seconds())
}

func CaptureJobMetrics(label string, timeElapsed time.Duration) {
	requestDuration.WithLabelValues(label).Observe(timeElapsed.Seconds())
}

var queueWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ingestion_job_queue_wait_seconds",
	Help:    "Time an ingestion job waited in the queue before a worker picked it up.",
	Buckets: []float64{.01, .1, .5, 1, 5, 30, 120},
})

func CaptureQueueWait(waited time.Duration) {
	queueWait.Observe(waited.Seconds())
}
