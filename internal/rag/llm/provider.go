package llm

import (
	"context"

	"github.com/akolanti/kbchat/internal/domain/chatModel"
)

// ParamSpec describes one string-typed tool argument.
type ParamSpec struct {
	Description string
	Required    bool
}

type ToolSpec struct {
	Name        chatModel.ToolName
	Description string
	Parameters  map[string]ParamSpec
}

// Request is one completion step. Messages carry earlier tool calls and their results.
type Request struct {
	SystemPrompt string
	Messages     []chatModel.Message
	Tools        []ToolSpec
	ToolChoice   chatModel.ToolChoice
}

type Response struct {
	Text      string
	ToolCalls []chatModel.ToolCall
}

type Provider interface {
	Complete(ctx context.Context, request Request) (Response, error)
}
