package mcpServer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/akolanti/kbchat/internal/access"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/rag"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type mockGate struct {
	resolve func(caller commonModels.Caller, kbId string, mode chatModel.RequestMode) (access.Decision, error)
}

func (m *mockGate) ResolveAccess(ctx context.Context, caller commonModels.Caller, kbId string, mode chatModel.RequestMode) (access.Decision, error) {
	return m.resolve(caller, kbId, mode)
}

type mockRetriever struct {
	scopes [][]string
}

func (m *mockRetriever) Retrieve(ctx context.Context, question string, scope []string, language string) (rag.ContextBundle, error) {
	m.scopes = append(m.scopes, scope)
	return rag.ContextBundle{ContextText: "## Handbook\nVacation is 25 days.", References: []string{"Handbook"}}, nil
}

func connect(t *testing.T, tools *Tools, caller commonModels.Caller) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	if _, err := tools.NewServer(caller).Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestSearchKnowledgeBase(t *testing.T) {
	gate := &mockGate{resolve: func(caller commonModels.Caller, kbId string, mode chatModel.RequestMode) (access.Decision, error) {
		if kbId == "private" && caller.UserId != "alice" {
			return access.Decision{Allowed: true, DocumentIds: nil}, nil
		}
		if mode != chatModel.ModeKnowledgeBase {
			t.Errorf("expected knowledge base mode, got %s", mode)
		}
		return access.Decision{Allowed: true, DocumentIds: []string{"d1"}}, nil
	}}
	retriever := &mockRetriever{}
	session := connect(t, NewTools(gate, retriever), commonModels.Caller{UserId: "alice"})

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      string(chatModel.ToolSearchKnowledgeBase),
		Arguments: map[string]any{"query": "vacation days", "knowledge_base_id": "private"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool returned an error: %+v", res.Content)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if !strings.Contains(text, "25 days") {
		t.Errorf("unexpected content %q", text)
	}
	if len(retriever.scopes) != 1 || retriever.scopes[0][0] != "d1" {
		t.Errorf("retriever scope = %v", retriever.scopes)
	}
}

func TestSearchKnowledgeBase_DeniedIsToolError(t *testing.T) {
	gate := &mockGate{resolve: func(commonModels.Caller, string, chatModel.RequestMode) (access.Decision, error) {
		return access.Decision{Reason: access.ReasonUnauthenticated}, commonModels.ErrUnauthorized
	}}
	retriever := &mockRetriever{}
	session := connect(t, NewTools(gate, retriever), commonModels.Caller{})

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      string(chatModel.ToolSearchKnowledgeBase),
		Arguments: map[string]any{"query": "anything"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if !res.IsError {
		t.Error("expected a tool error for an unauthenticated caller")
	}
	if len(retriever.scopes) != 0 {
		t.Error("retrieval must not run after a denial")
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	tools := NewTools(&mockGate{}, &mockRetriever{})
	if _, _, err := tools.search(context.Background(), commonModels.Caller{UserId: "a"}, searchInput{}); err == nil || errors.Is(err, commonModels.ErrForbidden) {
		t.Errorf("expected a validation error, got %v", err)
	}
}
