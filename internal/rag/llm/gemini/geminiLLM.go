package gemini

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/customHttpClient"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/internal/rag/llm"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"google.golang.org/genai"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type llmClient struct {
	models    contentGenerator
	modelName string
}

var logger *logger_i.Logger
var geminiClient *llmClient
var once sync.Once

// GetGeminiClient returns nil when the client could not be built.
func GetGeminiClient(ctx context.Context, settings *config.Settings) llm.Provider {
	once.Do(func() {
		logger = logger_i.NewLogger("llm_gemini")
		newGeminiClient(ctx, settings)
	})

	if geminiClient == nil {
		return nil
	}
	return &llmClient{models: geminiClient.models, modelName: geminiClient.modelName}
}

func newGeminiClient(ctx context.Context, settings *config.Settings) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     settings.GoogleAPIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: customHttpClient.GetClient(),
	})
	if err != nil {
		logger.Error("Error creating Gemini client", "error", err)
		return
	}
	geminiClient = &llmClient{models: c.Models, modelName: settings.CompletionModel}
	logger.Info("Gemini client created", "model", settings.CompletionModel)
}

func (c *llmClient) Complete(ctx context.Context, request llm.Request) (llm.Response, error) {
	log := logger.WithTrace(ctx)
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("completion", time.Since(start)) }()

	contents, err := toContents(request.Messages)
	if err != nil {
		return llm.Response{}, err
	}

	contentConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(config.ModelTemperature),
	}
	if request.SystemPrompt != "" {
		contentConfig.SystemInstruction = genai.NewContentFromText(request.SystemPrompt, genai.RoleUser)
	}
	if len(request.Tools) > 0 {
		contentConfig.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(request.Tools)}}
		contentConfig.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: toMode(request.ToolChoice)},
		}
	}

	result, err := c.models.GenerateContent(ctx, c.modelName, contents, contentConfig)
	if err != nil {
		log.Error("Gemini generate failed", "error", err)
		return llm.Response{}, fmt.Errorf("completion: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.Response{}, fmt.Errorf("completion: empty response")
	}

	response := llm.Response{Text: result.Text()}
	for _, call := range result.FunctionCalls() {
		id := call.ID
		if id == "" {
			id = utils.GetNewUUID()
		}
		response.ToolCalls = append(response.ToolCalls, chatModel.ToolCall{
			Id:   id,
			Name: chatModel.ToolName(call.Name),
			Args: call.Args,
		})
	}
	log.Debug("Gemini step done", "toolCalls", len(response.ToolCalls), "textLen", len(response.Text))
	return response, nil
}

func toMode(choice chatModel.ToolChoice) genai.FunctionCallingConfigMode {
	switch choice {
	case chatModel.ToolChoiceRequired:
		return genai.FunctionCallingConfigModeAny
	case chatModel.ToolChoiceNone:
		return genai.FunctionCallingConfigModeNone
	default:
		return genai.FunctionCallingConfigModeAuto
	}
}

func toDeclarations(tools []llm.ToolSpec) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		names := make([]string, 0, len(tool.Parameters))
		for name := range tool.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			param := tool.Parameters[name]
			schema.Properties[name] = &genai.Schema{Type: genai.TypeString, Description: param.Description}
			if param.Required {
				schema.Required = append(schema.Required, name)
			}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        string(tool.Name),
			Description: tool.Description,
			Parameters:  schema,
		})
	}
	return declarations
}

// toContents maps the transcript onto gemini turns. Tool results go back as function responses.
func toContents(messages []chatModel.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case chatModel.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case chatModel.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, call := range m.ToolCalls {
				parts = append(parts, genai.NewPartFromFunctionCall(string(call.Name), call.Args))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case chatModel.RoleTool:
			parts := make([]*genai.Part, 0, len(m.ToolResults))
			for _, r := range m.ToolResults {
				parts = append(parts, genai.NewPartFromFunctionResponse(string(r.Name), map[string]any{"output": r.Content}))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}
	return contents, nil
}
