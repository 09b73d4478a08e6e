// Package mcpServer exposes knowledge-base search to MCP clients. Every call goes through the access gate.
package mcpServer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/akolanti/kbchat/internal/access"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/internal/rag"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverVersion = "v1.0.0"

type AccessResolver interface {
	ResolveAccess(ctx context.Context, caller commonModels.Caller, knowledgeBaseId string, mode chatModel.RequestMode) (access.Decision, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, question string, scope []string, language string) (rag.ContextBundle, error)
}

type searchInput struct {
	Query           string `json:"query" jsonschema:"The question to search for"`
	KnowledgeBaseId string `json:"knowledge_base_id,omitempty" jsonschema:"Knowledge base to search. Empty searches your own documents"`
	Language        string `json:"language,omitempty" jsonschema:"Language code for the no-results message"`
}

type searchOutput struct {
	Context    string   `json:"context"`
	References []string `json:"references"`
	NoRelevant bool     `json:"no_relevant"`
}

type Tools struct {
	gate      AccessResolver
	retriever Retriever
	logger    *logger_i.Logger
}

func NewTools(gate AccessResolver, retriever Retriever) *Tools {
	return &Tools{gate: gate, retriever: retriever, logger: logger_i.NewLogger("mcp")}
}

// NewServer builds an MCP server bound to one caller.
func (t *Tools) NewServer(caller commonModels.Caller) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "kbchat", Version: serverVersion}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        string(chatModel.ToolSearchKnowledgeBase),
		Description: "Search a knowledge base you can access, or your own documents, and return cited passages.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, searchOutput, error) {
		return t.search(ctx, caller, in)
	})
	return server
}

func (t *Tools) search(ctx context.Context, caller commonModels.Caller, in searchInput) (*mcp.CallToolResult, searchOutput, error) {
	log := t.logger.WithTrace(ctx).With("kb", in.KnowledgeBaseId)
	if strings.TrimSpace(in.Query) == "" {
		return nil, searchOutput{}, fmt.Errorf("query is required")
	}

	mode := chatModel.ModeChat
	if in.KnowledgeBaseId != "" {
		mode = chatModel.ModeKnowledgeBase
	}
	decision, err := t.gate.ResolveAccess(ctx, caller, in.KnowledgeBaseId, mode)
	if err != nil {
		log.Info("mcp search denied", "error", err)
		return nil, searchOutput{}, err
	}
	if !decision.Allowed {
		return nil, searchOutput{}, commonModels.ErrForbidden
	}

	bundle, err := t.retriever.Retrieve(ctx, in.Query, decision.DocumentIds, in.Language)
	if err != nil {
		log.Error("mcp search failed", "stage", "retrieval", "error", err)
		return nil, searchOutput{}, fmt.Errorf("search failed")
	}
	metrics.CaptureToolInvocation("mcp_" + string(chatModel.ToolSearchKnowledgeBase))

	out := searchOutput{Context: bundle.ContextText, References: bundle.References, NoRelevant: bundle.NoRelevant}
	if out.References == nil {
		out.References = []string{}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: bundle.ContextText}}}, out, nil
}

// Handler serves MCP over streamable HTTP. callerFrom reads the identity the auth middleware attached.
func (t *Tools) Handler(callerFrom func(r *http.Request) commonModels.Caller) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return t.NewServer(callerFrom(r))
	}, &mcp.StreamableHTTPOptions{Stateless: true, JSONResponse: true})
}
