package chatModel

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type RequestMode int

const (
	ModeChat RequestMode = iota
	ModeKnowledgeBase
	ModeEmbed
)

func (m RequestMode) String() string {
	switch m {
	case ModeKnowledgeBase:
		return "knowledge_base"
	case ModeEmbed:
		return "embed"
	default:
		return "chat"
	}
}

func ParseRequestMode(s string) (RequestMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chat":
		return ModeChat, nil
	case "knowledge_base", "kb":
		return ModeKnowledgeBase, nil
	case "embed":
		return ModeEmbed, nil
	default:
		return ModeChat, fmt.Errorf("unknown request mode %q", s)
	}
}

// ActiveTool is the capability selector sent by the embed widget.
type ActiveTool int

const (
	ActiveToolAuto ActiveTool = iota
	ActiveToolKnowledgeBase
	ActiveToolCurrentPage
	ActiveToolContext
)

func (a ActiveTool) String() string {
	switch a {
	case ActiveToolKnowledgeBase:
		return "knowledge-base"
	case ActiveToolCurrentPage:
		return "current-page"
	case ActiveToolContext:
		return "context"
	default:
		return "auto"
	}
}

func ParseActiveTool(s string) (ActiveTool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ActiveToolAuto, nil
	case "knowledge-base", "knowledge_base", "kb":
		return ActiveToolKnowledgeBase, nil
	case "current-page", "current_page", "page":
		return ActiveToolCurrentPage, nil
	case "context":
		return ActiveToolContext, nil
	default:
		return ActiveToolAuto, fmt.Errorf("unknown active tool %q", s)
	}
}

type ToolName string

const (
	ToolSearchDocuments     ToolName = "search_documents"
	ToolSearchKnowledgeBase ToolName = "search_knowledge_base"
	ToolReadCurrentPage     ToolName = "read_current_page"
	ToolUseContext          ToolName = "use_provided_context"
	ToolFinish              ToolName = "finish"
)

type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	Id   string         `json:"id,omitempty"`
	Name ToolName       `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	CallId   string   `json:"call_id,omitempty"`
	Name     ToolName `json:"name"`
	Content  string   `json:"content"`
	Terminal bool     `json:"terminal,omitempty"`
}

type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	References  []string     `json:"references,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Chat struct {
	Id              string    `json:"id"`
	OwnerId         string    `json:"owner_id,omitempty"`
	KnowledgeBaseId string    `json:"knowledge_base_id,omitempty"`
	IsEmbed         bool      `json:"is_embed"`
	Shared          bool      `json:"shared"`
	AccessToken     string    `json:"access_token,omitempty"`
	Messages        []Message `json:"messages"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ActivityEntry is appended for every completed embedded turn.
type ActivityEntry struct {
	ChatId          string    `json:"chat_id"`
	KnowledgeBaseId string    `json:"knowledge_base_id"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	ToolCalls       int       `json:"tool_calls"`
	At              time.Time `json:"at"`
}

type TurnRequest struct {
	ChatId            string
	ChatToken         string
	Messages          []Message
	KnowledgeBaseId   string
	Mode              RequestMode
	ActiveTool        ActiveTool
	PageContent       string
	ContextText       string
	AlwaysUseDocument bool
	Language          string
}

// Question is the latest user message of the turn.
func (r TurnRequest) Question() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

type EventType string

const (
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventWarning    EventType = "warning"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

type Event struct {
	Type       EventType `json:"type"`
	Text       string    `json:"text,omitempty"`
	Tool       ToolName  `json:"tool,omitempty"`
	References []string  `json:"references,omitempty"`
	ChatId     string    `json:"chat_id,omitempty"`
	ChatToken  string    `json:"chat_token,omitempty"`
}

// EventSink receives streamed turn events. Implementations must be safe to call from one goroutine at a time.
type EventSink interface {
	Send(event Event)
}

type ChatStore interface {
	UpsertChat(ctx context.Context, chat Chat) error
	GetChat(ctx context.Context, chatId string) (Chat, bool, error)
	ShareChat(ctx context.Context, chatId string, shared bool) error
	AppendActivity(ctx context.Context, entry ActivityEntry) error
	ListActivity(ctx context.Context, knowledgeBaseId string, limit int64) ([]ActivityEntry, error)
}
