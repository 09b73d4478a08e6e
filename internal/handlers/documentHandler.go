package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akolanti/kbchat/internal/adapter"
	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/api"
	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/domain/jobModel"
	"github.com/akolanti/kbchat/internal/rag/ingest"
	"github.com/akolanti/kbchat/internal/sequence"
)

// PostDocumentHandler godoc
// @Summary      Upload a document for ingestion
// @Description  Stores the file, checks type and title, and queues an ingestion job.
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        title              formData  string  true   "Document title, unique per owner while active"
// @Param        knowledge_base_id  formData  string  false  "Knowledge base to add the document to"
// @Param        document           formData  file    true   "PDF, DOC, DOCX, RTF, ODT, TXT, CSV or XLSX file"
// @Success      202  {object}  api.InitJobResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      409  {object}  api.ErrorResponse "Duplicate title"
// @Failure      415  {object}  api.ErrorResponse "Unsupported file type"
// @Router       /documents [post]
func PostDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	log := requestLogger(r)

	// the server-wide deadlines are sized for small JSON bodies
	if err := extendDeadlines(w, config.UploadTimeout); err != nil {
		log.Debug("Upload keeps the server deadlines", "err", err)
	}
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxUploadSize)
	if err := r.ParseMultipartForm(config.MaxUploadSize); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", "File too large or bad request")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		WriteErrorResponse(w, http.StatusBadRequest, "", "title is required")
		return
	}

	fileReader, fileMetadata, err := r.FormFile("document")
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, title, "Could not retrieve file")
		return
	}
	defer fileReader.Close()

	ext := strings.ToLower(filepath.Ext(fileMetadata.Filename))
	if ingest.DocTypeFor(fileMetadata.Filename) == commonModels.ERR {
		writeDomainError(w, r, title, commonModels.ErrUnsupportedFileType)
		return
	}

	kbId := strings.TrimSpace(r.FormValue("knowledge_base_id"))
	if kbId != "" {
		if _, err := deps.Gate.RequireOwner(r.Context(), caller, kbId); err != nil {
			writeDomainError(w, r, title, err)
			return
		}
	}

	exists, err := deps.Documents.TitleExists(r.Context(), caller.UserId, title)
	if err != nil {
		writeDomainError(w, r, title, err)
		return
	}
	if exists {
		writeDomainError(w, r, title, commonModels.ErrDuplicateTitle)
		return
	}

	targetDir, errString := getTargetDirectory()
	if errString != "" {
		log.Error("Couldn't get target directory", "err", errString)
		WriteErrorResponse(w, http.StatusInternalServerError, title, errString)
		return
	}

	filename := fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(fileMetadata.Filename))
	storedPath := filepath.Join(targetDir, filename)
	destinationFileWriter, err := os.Create(storedPath)
	if err != nil {
		WriteErrorResponse(w, http.StatusInternalServerError, title, "Storage error")
		return
	}
	defer destinationFileWriter.Close()

	if _, err := io.Copy(destinationFileWriter, fileReader); err != nil {
		_ = os.Remove(storedPath)
		WriteErrorResponse(w, http.StatusInternalServerError, title, "Write error")
		return
	}

	queued := queueIngestion(r.Context(), jobModel.JobPayload{
		Title:           title,
		OwnerId:         caller.UserId,
		KnowledgeBaseId: kbId,
		FilePath:        storedPath,
		FileExt:         ext,
	})
	writeJsonResponse(w, http.StatusAccepted, adapter.ToInitJobResponse(queued.Id))
}

// ListDocumentsHandler godoc
// @Summary      List the caller's documents
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  commonModels.Document
// @Router       /documents [get]
func ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	docs, err := deps.Documents.ListOwnerDocuments(r.Context(), caller.UserId)
	if err != nil {
		writeDomainError(w, r, "", err)
		return
	}
	if docs == nil {
		docs = []commonModels.Document{}
	}
	writeJsonResponse(w, http.StatusOK, docs)
}

// DeleteDocumentHandler godoc
// @Summary      Delete a document
// @Description  Soft-deletes by default. With cascade=true the row and its vectors are removed for good.
// @Tags         Documents
// @Security     BearerAuth
// @Param        id       path   string  true   "Document ID"
// @Param        cascade  query  bool    false  "Physically delete"
// @Success      204
// @Failure      404  {object}  api.ErrorResponse
// @Router       /documents/{id} [delete]
func DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := ownedDocument(w, r)
	if !ok {
		return
	}

	var steps []sequence.Step
	if r.URL.Query().Get("cascade") == "true" {
		steps = []sequence.Step{
			{Name: "delete_vectors", Do: func(ctx context.Context) error { return deps.Index.DeleteDocument(ctx, doc.Id) }},
			{Name: "delete_document", Do: func(ctx context.Context) error { return deps.Documents.DeleteDocumentCascade(ctx, doc.Id) }},
		}
	} else {
		steps = deactivateSteps(doc.Id, false)
	}
	if _, err := sequence.New(requestLogger(r), steps...).Run(r.Context()); err != nil {
		writeDomainError(w, r, doc.Id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDocumentActiveHandler godoc
// @Summary      Activate or deactivate a document
// @Tags         Documents
// @Accept       json
// @Security     BearerAuth
// @Param        id       path  string           true  "Document ID"
// @Param        request  body  api.FlagRequest  true  "Desired active flag"
// @Success      204
// @Failure      409  {object}  api.ErrorResponse "An active document already has this title"
// @Router       /documents/{id}/active [put]
func SetDocumentActiveHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := ownedDocument(w, r)
	if !ok {
		return
	}
	var req api.FlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := sequence.New(requestLogger(r), deactivateSteps(doc.Id, req.Value)...).Run(r.Context()); err != nil {
		writeDomainError(w, r, doc.Id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deactivateSteps flips the row first so retrieval stops at once, then the chunk payloads.
func deactivateSteps(id string, active bool) []sequence.Step {
	return []sequence.Step{
		{
			Name:       "document_active",
			Do:         func(ctx context.Context) error { return deps.Documents.SetDocumentActive(ctx, id, active) },
			Compensate: func(ctx context.Context) error { return deps.Documents.SetDocumentActive(ctx, id, !active) },
		},
		{
			Name: "chunks_active",
			Do:   func(ctx context.Context) error { return deps.Index.SetDocumentActive(ctx, id, active) },
		},
	}
}

func ownedDocument(w http.ResponseWriter, r *http.Request) (commonModels.Document, bool) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return commonModels.Document{}, false
	}
	id := utils.GetChiURLParam(r, "id")
	doc, err := deps.Documents.GetDocument(r.Context(), id)
	if err == nil && doc.OwnerId != caller.UserId {
		err = commonModels.ErrDocumentNotFound
	}
	if err != nil {
		writeDomainError(w, r, id, err)
		return commonModels.Document{}, false
	}
	return doc, true
}
