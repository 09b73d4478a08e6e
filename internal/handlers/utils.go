package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/akolanti/kbchat/internal/adapter"
	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

const maxJSONBody = 1 << 20

// extendDeadlines lets one request read and write for longer than the server timeouts allow.
func extendDeadlines(w http.ResponseWriter, d time.Duration) error {
	rc := http.NewResponseController(w)
	deadline := time.Now().Add(d)
	if err := rc.SetReadDeadline(deadline); err != nil {
		return err
	}
	return rc.SetWriteDeadline(deadline)
}

func writeJsonResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers are already out, nothing left but logging
		logRH.Error("Error encoding response", "err", err)
	}
}

func WriteErrorResponse(w http.ResponseWriter, httpCode int, id string, error string) {
	writeJsonResponse(w, httpCode, adapter.BadRequest(id, error, httpCode))
}

// statusFor maps the error taxonomy onto HTTP. Anything unknown is a generic 500.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, commonModels.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType, "Unsupported file type"
	case errors.Is(err, commonModels.ErrExtractionFailed):
		return http.StatusUnprocessableEntity, "Could not read text from the file"
	case errors.Is(err, commonModels.ErrDuplicateTitle):
		return http.StatusConflict, "A document with this title already exists"
	case errors.Is(err, commonModels.ErrKnowledgeBaseNotFound):
		return http.StatusNotFound, "Knowledge base not found"
	case errors.Is(err, commonModels.ErrDocumentNotFound):
		return http.StatusNotFound, "Document not found"
	case errors.Is(err, commonModels.ErrChatNotFound):
		return http.StatusNotFound, "Chat not found"
	case errors.Is(err, commonModels.ErrEmbeddingNotAllowed):
		return http.StatusForbidden, "Embedding is not allowed for this knowledge base"
	case errors.Is(err, commonModels.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, commonModels.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, commonModels.ErrEmbeddingService):
		return http.StatusBadGateway, "Upstream service error"
	default:
		return http.StatusInternalServerError, "Something went wrong"
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, id string, err error) {
	code, message := statusFor(err)
	log := requestLogger(r)
	if code >= http.StatusInternalServerError {
		log.Error("Request failed", "path", r.URL.Path, "err", err)
	} else {
		log.Info("Request rejected", "path", r.URL.Path, "code", code, "err", err)
	}
	WriteErrorResponse(w, code, id, message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(into); err != nil {
		requestLogger(r).Warn("Bad request body", "err", err)
		WriteErrorResponse(w, http.StatusBadRequest, "", "Bad Request")
		return false
	}
	return true
}

func requestLogger(r *http.Request) *logger_i.Logger {
	return logRH.WithTrace(r.Context())
}

func validateContext(ctx context.Context) bool {
	if ctx.Err() != nil {
		logRH.WithTrace(ctx).Warn("context error", "err", ctx.Err())
		return false
	}
	return true
}

// requireCaller writes 401 and returns false for anonymous requests.
func requireCaller(w http.ResponseWriter, r *http.Request) (commonModels.Caller, bool) {
	caller := utils.CallerFrom(r.Context())
	if caller.IsAnonymous() {
		WriteErrorResponse(w, http.StatusUnauthorized, "", "Unauthorized")
		return caller, false
	}
	return caller, true
}

func getTargetDirectory() (string, string) {
	targetDir := deps.UploadDir
	if !filepath.IsAbs(targetDir) {
		root, err := os.Getwd()
		if err != nil {
			return "", "Storage Error"
		}
		targetDir = filepath.Join(root, targetDir)
	}
	if err := os.MkdirAll(targetDir, 0750); err != nil {
		return "", "Storage Error"
	}
	return targetDir, ""
}
