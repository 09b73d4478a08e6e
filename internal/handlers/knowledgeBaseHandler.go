package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/api"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/sequence"
)

const defaultActivityLimit = 50

// CreateKnowledgeBaseHandler godoc
// @Summary      Create a knowledge base
// @Tags         KnowledgeBases
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      api.KnowledgeBaseRequest  true  "Knowledge base settings"
// @Success      201      {object}  commonModels.KnowledgeBase
// @Failure      400      {object}  api.ErrorResponse
// @Router       /knowledge-bases [post]
func CreateKnowledgeBaseHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req api.KnowledgeBaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteErrorResponse(w, http.StatusBadRequest, "", "name is required")
		return
	}

	kb := commonModels.KnowledgeBase{
		Id:             utils.GetNewUUID(),
		OwnerId:        caller.UserId,
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		IsPublic:       req.IsPublic,
		AllowEmbedding: req.AllowEmbedding,
		Instruction:    req.Instruction,
		DocumentIds:    []string{},
		CreatedAt:      time.Now().UTC(),
	}
	if err := deps.KnowledgeBases.CreateKnowledgeBase(r.Context(), kb); err != nil {
		writeDomainError(w, r, "", err)
		return
	}
	requestLogger(r).Info("Knowledge base created", "knowledgeBaseId", kb.Id)
	writeJsonResponse(w, http.StatusCreated, kb)
}

// ListKnowledgeBasesHandler godoc
// @Summary      List the caller's knowledge bases, pinned first
// @Tags         KnowledgeBases
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  commonModels.KnowledgeBase
// @Router       /knowledge-bases [get]
func ListKnowledgeBasesHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	kbs, err := deps.KnowledgeBases.ListKnowledgeBases(r.Context(), caller.UserId)
	if err != nil {
		writeDomainError(w, r, "", err)
		return
	}
	if kbs == nil {
		kbs = []commonModels.KnowledgeBase{}
	}
	writeJsonResponse(w, http.StatusOK, kbs)
}

// GetKnowledgeBaseHandler godoc
// @Summary      Get a knowledge base with its document list
// @Tags         KnowledgeBases
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Knowledge base ID"
// @Success      200  {object}  commonModels.KnowledgeBase
// @Failure      403  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Router       /knowledge-bases/{id} [get]
func GetKnowledgeBaseHandler(w http.ResponseWriter, r *http.Request) {
	kb, _, ok := ownedKnowledgeBase(w, r)
	if !ok {
		return
	}
	writeJsonResponse(w, http.StatusOK, kb)
}

// UpdateKnowledgeBaseHandler godoc
// @Summary      Update knowledge base settings
// @Tags         KnowledgeBases
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                    true  "Knowledge base ID"
// @Param        request  body      api.KnowledgeBaseRequest  true  "New settings"
// @Success      200      {object}  commonModels.KnowledgeBase
// @Router       /knowledge-bases/{id} [put]
func UpdateKnowledgeBaseHandler(w http.ResponseWriter, r *http.Request) {
	kb, _, ok := ownedKnowledgeBase(w, r)
	if !ok {
		return
	}
	var req api.KnowledgeBaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		kb.Name = name
	}
	kb.Description = req.Description
	kb.IsPublic = req.IsPublic
	kb.AllowEmbedding = req.AllowEmbedding
	kb.Instruction = req.Instruction

	if err := deps.KnowledgeBases.UpdateKnowledgeBase(r.Context(), kb); err != nil {
		writeDomainError(w, r, kb.Id, err)
		return
	}
	writeJsonResponse(w, http.StatusOK, kb)
}

// AddKnowledgeBaseDocumentHandler godoc
// @Summary      Add one of the caller's documents to a knowledge base
// @Tags         KnowledgeBases
// @Accept       json
// @Security     BearerAuth
// @Param        id       path  string                  true  "Knowledge base ID"
// @Param        request  body  api.DocumentRefRequest  true  "Document to add"
// @Success      204
// @Failure      404  {object}  api.ErrorResponse
// @Router       /knowledge-bases/{id}/documents [post]
func AddKnowledgeBaseDocumentHandler(w http.ResponseWriter, r *http.Request) {
	kb, caller, ok := ownedKnowledgeBase(w, r)
	if !ok {
		return
	}
	var req api.DocumentRefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := deps.Documents.GetDocument(r.Context(), req.DocumentId)
	if err == nil && doc.OwnerId != caller.UserId {
		err = commonModels.ErrDocumentNotFound
	}
	if err == nil {
		_, err = sequence.New(requestLogger(r), membershipSteps(doc, kb.Id)...).Run(r.Context())
	}
	if err != nil {
		writeDomainError(w, r, req.DocumentId, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveKnowledgeBaseDocumentHandler godoc
// @Summary      Remove a document from a knowledge base
// @Tags         KnowledgeBases
// @Security     BearerAuth
// @Param        id     path  string  true  "Knowledge base ID"
// @Param        docId  path  string  true  "Document ID"
// @Success      204
// @Router       /knowledge-bases/{id}/documents/{docId} [delete]
func RemoveKnowledgeBaseDocumentHandler(w http.ResponseWriter, r *http.Request) {
	kb, _, ok := ownedKnowledgeBase(w, r)
	if !ok {
		return
	}
	docId := utils.GetChiURLParam(r, "docId")
	doc, err := deps.Documents.GetDocument(r.Context(), docId)
	if errors.Is(err, commonModels.ErrDocumentNotFound) || (err == nil && doc.KnowledgeBaseId != kb.Id) {
		// not a member: nothing to remove
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err == nil {
		_, err = sequence.New(requestLogger(r), membershipSteps(doc, "")...).Run(r.Context())
	}
	if err != nil {
		writeDomainError(w, r, docId, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// membershipSteps moves doc into knowledgeBaseId, or out of its knowledge base when knowledgeBaseId is empty.
// The row changes first so access scopes follow at once, then the chunk payloads.
func membershipSteps(doc commonModels.Document, knowledgeBaseId string) []sequence.Step {
	previous := doc.KnowledgeBaseId
	move := func(ctx context.Context, from string, to string) error {
		if to == "" {
			return deps.KnowledgeBases.RemoveDocumentFromKnowledgeBase(ctx, from, doc.Id)
		}
		return deps.KnowledgeBases.AddDocumentToKnowledgeBase(ctx, to, doc.Id)
	}
	return []sequence.Step{
		{
			Name:       "knowledge_base_membership",
			Do:         func(ctx context.Context) error { return move(ctx, previous, knowledgeBaseId) },
			Compensate: func(ctx context.Context) error { return move(ctx, knowledgeBaseId, previous) },
		},
		{
			Name: "chunks_knowledge_base",
			Do: func(ctx context.Context) error {
				return deps.Index.SetDocumentKnowledgeBase(ctx, doc.Id, knowledgeBaseId != "")
			},
		},
	}
}

// ShareKnowledgeBaseHandler godoc
// @Summary      Share a knowledge base with an email address
// @Tags         KnowledgeBases
// @Accept       json
// @Security     BearerAuth
// @Param        id       path  string            true  "Knowledge base ID"
// @Param        request  body  api.ShareRequest  true  "Email to share with"
// @Success      204
// @Router       /knowledge-bases/{id}/shares [post]
func ShareKnowledgeBaseHandler(w http.ResponseWriter, r *http.Request) {
	kb, _, ok := ownedKnowledgeBase(w, r)
	if !ok {
		return
	}
	var req api.ShareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !strings.Contains(req.Email, "@") {
		WriteErrorResponse(w, http.StatusBadRequest, kb.Id, "a valid email is required")
		return
	}
	if err := deps.KnowledgeBases.GrantShare(r.Context(), kb.Id, req.Email); err != nil {
		writeDomainError(w, r, kb.Id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeShareHandler godoc
// @Summary      Revoke a knowledge base share
// @Tags         KnowledgeBases
// @Security     BearerAuth
// @Param        id     path  string  true  "Knowledge base ID"
// @Param        email  path  string  true  "Shared email"
// @Success      204
// @Router       /knowledge-bases/{id}/shares/{email} [delete]
func RevokeShareHandler(w http.ResponseWriter, r *http.Request) {
	kb, _, ok := ownedKnowledgeBase(w, r)
	if !ok {
		return
	}
	if err := deps.KnowledgeBases.RevokeShare(r.Context(), kb.Id, utils.GetChiURLParam(r, "email")); err != nil {
		writeDomainError(w, r, kb.Id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSharesHandler godoc
// @Summary      List who a knowledge base is shared with
// @Tags         KnowledgeBases
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string  true  "Knowledge base ID"
// @Success      200  {array}  commonModels.KnowledgeBaseShare
// @Router       /knowledge-bases/{id}/shares [get]
func ListSharesHandler(w http.ResponseWriter, r *http.Request) {
	kb, _, ok := ownedKnowledgeBase(w, r)
	if !ok {
		return
	}
	shares, err := deps.KnowledgeBases.ListShares(r.Context(), kb.Id)
	if err != nil {
		writeDomainError(w, r, kb.Id, err)
		return
	}
	if shares == nil {
		shares = []commonModels.KnowledgeBaseShare{}
	}
	writeJsonResponse(w, http.StatusOK, shares)
}

// PinKnowledgeBaseHandler godoc
// @Summary      Pin or unpin a knowledge base
// @Tags         KnowledgeBases
// @Accept       json
// @Security     BearerAuth
// @Param        id       path  string           true  "Knowledge base ID"
// @Param        request  body  api.FlagRequest  true  "Pinned flag"
// @Success      204
// @Router       /knowledge-bases/{id}/pin [put]
func PinKnowledgeBaseHandler(w http.ResponseWriter, r *http.Request) {
	kb, _, ok := ownedKnowledgeBase(w, r)
	if !ok {
		return
	}
	var req api.FlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := deps.KnowledgeBases.SetPinned(r.Context(), kb.Id, req.Value); err != nil {
		writeDomainError(w, r, kb.Id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivityHandler godoc
// @Summary      Recent embedded conversations on a knowledge base
// @Tags         KnowledgeBases
// @Produce      json
// @Security     BearerAuth
// @Param        id     path     string  true   "Knowledge base ID"
// @Param        limit  query    int     false  "Maximum entries, newest first"
// @Success      200    {array}  chatModel.ActivityEntry
// @Router       /knowledge-bases/{id}/activity [get]
func ActivityHandler(w http.ResponseWriter, r *http.Request) {
	kb, _, ok := ownedKnowledgeBase(w, r)
	if !ok {
		return
	}
	limit := int64(defaultActivityLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := deps.Chats.ListActivity(r.Context(), kb.Id, limit)
	if err != nil {
		writeDomainError(w, r, kb.Id, err)
		return
	}
	if entries == nil {
		entries = []chatModel.ActivityEntry{}
	}
	writeJsonResponse(w, http.StatusOK, entries)
}

func ownedKnowledgeBase(w http.ResponseWriter, r *http.Request) (commonModels.KnowledgeBase, commonModels.Caller, bool) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return commonModels.KnowledgeBase{}, caller, false
	}
	id := utils.GetChiURLParam(r, "id")
	kb, err := deps.Gate.RequireOwner(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, id, err)
		return commonModels.KnowledgeBase{}, caller, false
	}
	return kb, caller, true
}
