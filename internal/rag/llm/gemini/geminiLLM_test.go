package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/rag/llm"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"google.golang.org/genai"
)

type mockGenerator struct {
	generate func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.generate(ctx, model, contents, config)
}

func init() {
	logger = logger_i.NewLogger("llm_gemini_test")
}

func responseWith(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}}},
	}
}

func TestComplete_MapsToolCalls(t *testing.T) {
	var gotConfig *genai.GenerateContentConfig
	var gotContents []*genai.Content
	c := &llmClient{modelName: "test-model", models: &mockGenerator{
		generate: func(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotConfig = config
			gotContents = contents
			return responseWith(&genai.Part{FunctionCall: &genai.FunctionCall{
				Name: string(chatModel.ToolSearchDocuments),
				Args: map[string]any{"query": "refund policy"},
			}}), nil
		},
	}}

	resp, err := c.Complete(context.Background(), llm.Request{
		SystemPrompt: "be brief",
		Messages: []chatModel.Message{
			{Role: chatModel.RoleUser, Content: "what is the refund policy?"},
			{Role: chatModel.RoleAssistant, ToolCalls: []chatModel.ToolCall{{Id: "1", Name: chatModel.ToolSearchDocuments, Args: map[string]any{"query": "refund"}}}},
			{Role: chatModel.RoleTool, ToolResults: []chatModel.ToolResult{{CallId: "1", Name: chatModel.ToolSearchDocuments, Content: "nothing"}}},
		},
		Tools: []llm.ToolSpec{{
			Name:        chatModel.ToolSearchDocuments,
			Description: "search",
			Parameters:  map[string]llm.ParamSpec{"query": {Description: "q", Required: true}},
		}},
		ToolChoice: chatModel.ToolChoiceRequired,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != chatModel.ToolSearchDocuments {
		t.Fatalf("expected one search call, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Id == "" {
		t.Error("expected a generated call id")
	}
	if resp.ToolCalls[0].Args["query"] != "refund policy" {
		t.Errorf("args not carried over: %+v", resp.ToolCalls[0].Args)
	}

	if gotConfig.ToolConfig.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeAny {
		t.Errorf("expected ANY mode, got %v", gotConfig.ToolConfig.FunctionCallingConfig.Mode)
	}
	if gotConfig.SystemInstruction == nil {
		t.Error("expected system instruction")
	}
	decl := gotConfig.Tools[0].FunctionDeclarations[0]
	if decl.Parameters.Required[0] != "query" {
		t.Errorf("expected query to be required, got %v", decl.Parameters.Required)
	}

	if len(gotContents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(gotContents))
	}
	if gotContents[1].Role != genai.RoleModel || gotContents[1].Parts[0].FunctionCall == nil {
		t.Error("assistant tool call should map to a model function call")
	}
	if gotContents[2].Role != genai.RoleUser || gotContents[2].Parts[0].FunctionResponse == nil {
		t.Error("tool result should map to a user function response")
	}
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name     string
		messages []chatModel.Message
		resp     *genai.GenerateContentResponse
		err      error
	}{
		{name: "upstream error", err: errors.New("boom")},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}},
		{name: "unknown role", messages: []chatModel.Message{{Role: "system", Content: "x"}}, resp: responseWith(genai.NewPartFromText("hi"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &llmClient{models: &mockGenerator{
				generate: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
					return tt.resp, tt.err
				},
			}}
			if _, err := c.Complete(context.Background(), llm.Request{Messages: tt.messages}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestToMode(t *testing.T) {
	cases := map[chatModel.ToolChoice]genai.FunctionCallingConfigMode{
		chatModel.ToolChoiceAuto:     genai.FunctionCallingConfigModeAuto,
		chatModel.ToolChoiceRequired: genai.FunctionCallingConfigModeAny,
		chatModel.ToolChoiceNone:     genai.FunctionCallingConfigModeNone,
	}
	for choice, want := range cases {
		if got := toMode(choice); got != want {
			t.Errorf("%s: got %v want %v", choice, got, want)
		}
	}
}
