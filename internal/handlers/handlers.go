package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/akolanti/kbchat/internal/agent"
	"github.com/akolanti/kbchat/internal/api"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/rag/vectorDB"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

type DocumentStore interface {
	TitleExists(ctx context.Context, ownerId string, title string) (bool, error)
	GetDocument(ctx context.Context, id string) (commonModels.Document, error)
	ListOwnerDocuments(ctx context.Context, ownerId string) ([]commonModels.Document, error)
	SetDocumentActive(ctx context.Context, id string, active bool) error
	DeleteDocumentCascade(ctx context.Context, id string) error
}

type KnowledgeBaseStore interface {
	CreateKnowledgeBase(ctx context.Context, kb commonModels.KnowledgeBase) error
	UpdateKnowledgeBase(ctx context.Context, kb commonModels.KnowledgeBase) error
	ListKnowledgeBases(ctx context.Context, ownerId string) ([]commonModels.KnowledgeBase, error)
	AddDocumentToKnowledgeBase(ctx context.Context, knowledgeBaseId string, documentId string) error
	RemoveDocumentFromKnowledgeBase(ctx context.Context, knowledgeBaseId string, documentId string) error
	GrantShare(ctx context.Context, knowledgeBaseId string, email string) error
	RevokeShare(ctx context.Context, knowledgeBaseId string, email string) error
	ListShares(ctx context.Context, knowledgeBaseId string) ([]commonModels.KnowledgeBaseShare, error)
	SetPinned(ctx context.Context, knowledgeBaseId string, pinned bool) error
}

type OwnerGate interface {
	RequireOwner(ctx context.Context, caller commonModels.Caller, knowledgeBaseId string) (commonModels.KnowledgeBase, error)
}

type CreditService interface {
	Balance(ctx context.Context, ownerId string) (int, error)
	Grant(ctx context.Context, ownerId string, n int) (int, error)
}

type TurnHandler interface {
	HandleTurn(ctx context.Context, caller commonModels.Caller, req chatModel.TurnRequest, sink chatModel.EventSink) (agent.TurnResult, error)
}

// Dependencies are the collaborators the HTTP handlers call into.
type Dependencies struct {
	Documents      DocumentStore
	KnowledgeBases KnowledgeBaseStore
	Index          vectorDB.ChunkIndex
	Gate           OwnerGate
	Credits        CreditService
	Turns          TurnHandler
	Chats          chatModel.ChatStore
	UploadDir      string
	// HealthChecks run on /health, keyed by the dependency name reported back.
	HealthChecks map[string]func(ctx context.Context) error
}

const healthTimeout = 2 * time.Second

var (
	deps  Dependencies
	logRH *logger_i.Logger
)

func InitHandlers(d Dependencies) {
	deps = d
	logRH = logger_i.NewLogger("RequestHandler")
}

// GetHandler godoc
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200  {object}  api.HealthResponse
// @Failure      503  {object}  api.HealthResponse
// @Router       /health [get]
func GetHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	out := api.HealthResponse{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK
	for name, check := range deps.HealthChecks {
		if err := check(ctx); err != nil {
			logRH.WithTrace(r.Context()).Warn("Health check failed", "dependency", name, "error", err)
			out.Checks[name] = "unavailable"
			out.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		out.Checks[name] = "ok"
	}
	writeJsonResponse(w, code, out)
}
