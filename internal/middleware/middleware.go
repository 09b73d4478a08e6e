package middleware

import (
	"net/http"
	"strconv"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"github.com/go-chi/chi/v5"
)

type requestResponseStruct struct {
	writer     http.ResponseWriter
	req        *http.Request
	badRequest failureStruct
	logger     *logger_i.Logger
}

type failureStruct struct {
	isBadRequest bool
	httpCode     int
	errorMessage string
	id           string
}

type stage func(re requestResponseStruct) requestResponseStruct

var (
	authToken  string
	adminToken string
)

// InitMiddleware loads the shared tokens. An empty token rejects every request it guards.
func InitMiddleware(settings *config.Settings) {
	authToken = settings.AuthToken
	adminToken = settings.AdminToken
}

// Wrap guards the authenticated API: trace, bearer token, then the caller identity headers.
func Wrap(next http.HandlerFunc) http.HandlerFunc {
	return chain(next, injectTrace, authenticate, attachCaller)
}

// WrapEmbed guards the public widget endpoint. Callers stay anonymous and are rate limited per IP.
func WrapEmbed(next http.HandlerFunc) http.HandlerFunc {
	return chain(next, injectTrace, rateLimiter)
}

// WrapAdmin guards billing hooks with the admin token.
func WrapAdmin(next http.HandlerFunc) http.HandlerFunc {
	return chain(next, injectTrace, authenticateAdmin)
}

// WrapHandler is Wrap for plain http.Handlers such as the MCP endpoint.
func WrapHandler(next http.Handler) http.HandlerFunc {
	return Wrap(next.ServeHTTP)
}

func chain(next http.HandlerFunc, stages ...stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &metrics.HttpStatusRecorder{ResponseWriter: w, Status: http.StatusOK} //metrics
		re := processRequest(requestResponseStruct{req: r, writer: rec}, stages)

		if !handleBadRequest(re) {
			metrics.HttpRequestsTotal.WithLabelValues(routeLabel(r), strconv.Itoa(re.badRequest.httpCode)).Inc()
			return
		}
		next(rec, re.req)

		metrics.HttpRequestsTotal.WithLabelValues(routeLabel(re.req), strconv.Itoa(rec.Status)).Inc() //metrics
	}
}

func processRequest(re requestResponseStruct, stages []stage) requestResponseStruct {
	re.logger = logger_i.NewLogger("middleware")
	if re.req == nil {
		re.badRequest = failureStruct{isBadRequest: true, httpCode: http.StatusBadRequest, errorMessage: "request is empty"}
		return re
	}
	re.logger.Debug("New request received", "path", re.req.URL.Path)
	for _, s := range stages {
		re = s(re)
		if re.badRequest.isBadRequest {
			return re
		}
	}
	return re
}

// routeLabel keeps metric cardinality bounded by using the route pattern rather than the raw path.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
