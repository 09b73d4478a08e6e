// Package agent drives one conversational turn: access, tool selection, the bounded tool loop,
// credit debits and transcript persistence.
package agent

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akolanti/kbchat/internal/access"
	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/internal/rag"
	"github.com/akolanti/kbchat/internal/rag/embedding"
	"github.com/akolanti/kbchat/internal/rag/llm"
	"github.com/akolanti/kbchat/internal/sequence"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

// ErrTurnCancelled is returned when the caller stopped the turn. Late results are discarded.
var ErrTurnCancelled = errors.New("turn cancelled")

const genericFailureText = "Something went wrong while answering. Please try again."

type AccessResolver interface {
	ResolveAccess(ctx context.Context, caller commonModels.Caller, knowledgeBaseId string, mode chatModel.RequestMode) (access.Decision, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, question string, scope []string, language string) (rag.ContextBundle, error)
	BuildBundle(passages []rag.Passage, language string) rag.ContextBundle
}

type CreditMeter interface {
	HasCredit(ctx context.Context, ownerId string) (bool, error)
	Debit(ctx context.Context, ownerId string, n int) (int, error)
}

type Options struct {
	MaxSteps    int
	Threshold   float32
	MaxResults  int
	TurnTimeout time.Duration
}

type Orchestrator struct {
	gate      AccessResolver
	retriever Retriever
	provider  llm.Provider
	credits   CreditMeter
	chats     chatModel.ChatStore
	pages     *pageReader
	options   Options
	logger    *logger_i.Logger
}

// TurnResult summarises a finished turn for the caller and for tests.
type TurnResult struct {
	ChatId     string
	ChatToken  string
	Answer     string
	References []string
	ToolChoice chatModel.ToolChoice
	ToolCalls  int
	Steps      int
	Warnings   []string
}

func NewOrchestrator(gate AccessResolver, retriever Retriever, provider llm.Provider, credits CreditMeter,
	chats chatModel.ChatStore, embedder embedding.Embedder, options Options) *Orchestrator {
	if options.MaxSteps <= 0 {
		options.MaxSteps = config.DefaultMaxStepsPerTurn
	}
	if options.Threshold < 0 || options.Threshold > 1 {
		options.Threshold = config.DefaultSimilarityThreshold
	}
	if options.MaxResults <= 0 {
		options.MaxResults = config.DefaultMaxResults
	}
	if options.TurnTimeout <= 0 {
		options.TurnTimeout = config.TurnTimeout
	}
	return &Orchestrator{
		gate:      gate,
		retriever: retriever,
		provider:  provider,
		credits:   credits,
		chats:     chats,
		pages:     &pageReader{embedder: embedder, threshold: options.Threshold, maxResults: options.MaxResults},
		options:   options,
		logger:    logger_i.NewLogger("agent"),
	}
}

// turn is the mutable state of one HandleTurn call.
type turn struct {
	caller     commonModels.Caller
	req        chatModel.TurnRequest
	decision   access.Decision
	tools      []chatModel.ToolName
	choice     chatModel.ToolChoice
	messages   []chatModel.Message
	references []string
	memo       map[string]chatModel.ToolResult
	toolCalls  int
	finished   bool
	answer     string
	shared     bool
	chatToken  string
}

// HandleTurn runs one turn and streams its events to sink. A failed turn persists nothing.
// Cancelling ctx stops the loop; calls already in flight finish but their results are dropped.
func (o *Orchestrator) HandleTurn(ctx context.Context, caller commonModels.Caller, req chatModel.TurnRequest, sink chatModel.EventSink) (TurnResult, error) {
	log := o.logger.WithTrace(ctx).With("mode", req.Mode.String(), "activeTool", req.ActiveTool.String())
	start := time.Now()

	result, err := o.handleTurn(ctx, caller, req, sink, log)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrTurnCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	metrics.CaptureTurn(req.Mode.String(), outcome)
	metrics.CaptureExecutionMetrics("turn", time.Since(start))
	return result, err
}

func (o *Orchestrator) handleTurn(ctx context.Context, caller commonModels.Caller, req chatModel.TurnRequest, sink chatModel.EventSink, log *logger_i.Logger) (TurnResult, error) {
	if strings.TrimSpace(req.Question()) == "" {
		return TurnResult{}, fmt.Errorf("a user message is required")
	}

	// upstream calls outlive a stop signal so they are not torn down mid-flight
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.options.TurnTimeout)
	defer cancel()

	decision, err := o.gate.ResolveAccess(callCtx, caller, req.KnowledgeBaseId, req.Mode)
	if err != nil {
		log.Info("turn rejected", "stage", "access", "error", err)
		return TurnResult{}, err
	}
	if !decision.Allowed {
		return TurnResult{}, commonModels.ErrForbidden
	}

	var existing chatModel.Chat
	if req.ChatId != "" {
		if existing, err = o.checkChatOwner(callCtx, caller, req); err != nil {
			return TurnResult{}, err
		}
	} else {
		req.ChatId = utils.GetNewUUID()
	}

	t := &turn{
		caller:    caller,
		req:       req,
		decision:  decision,
		tools:     toolSet(req.Mode, req.ActiveTool),
		messages:  append([]chatModel.Message(nil), req.Messages...),
		memo:      map[string]chatModel.ToolResult{},
		shared:    existing.Shared,
		chatToken: existing.AccessToken,
	}
	// anonymous widget chats are continued by token instead of by owner
	if req.Mode == chatModel.ModeEmbed && caller.IsAnonymous() && t.chatToken == "" {
		t.chatToken = utils.GetNewUUID()
	}

	hasCredit := true
	if req.Mode != chatModel.ModeEmbed {
		hasCredit, err = o.credits.HasCredit(callCtx, caller.UserId)
		if err != nil {
			log.Error("turn failed", "stage", "credit", "error", err)
			return TurnResult{}, err
		}
	}
	sources := hasSources(t.tools, decision.DocumentIds, req)
	t.choice = chooseTools(req.AlwaysUseDocument, hasCredit, sources)
	insufficientCredit := !hasCredit && sources
	if insufficientCredit {
		sink.Send(chatModel.Event{Type: chatModel.EventWarning, Text: localized(insufficientCreditText, req.Language)})
	}

	prompt := systemPrompt(promptInput{
		mode:               req.Mode,
		active:             req.ActiveTool,
		knowledgeBase:      decision.KnowledgeBase,
		language:           req.Language,
		insufficientCredit: insufficientCredit,
		noSources:          !sources,
	})
	log.Debug("turn started", "chatId", req.ChatId, "toolChoice", t.choice, "documents", len(decision.DocumentIds))

	steps := 0
	for steps < o.options.MaxSteps && !t.finished {
		if ctx.Err() != nil {
			return TurnResult{}, ErrTurnCancelled
		}
		steps++

		choice := t.choice
		// forcing a tool is for the first step only, afterwards the model must be free to answer
		if choice == chatModel.ToolChoiceRequired && steps > 1 {
			choice = chatModel.ToolChoiceAuto
		}
		resp, err := o.provider.Complete(callCtx, llm.Request{
			SystemPrompt: prompt,
			Messages:     t.messages,
			Tools:        specsFor(t.tools),
			ToolChoice:   choice,
		})
		if ctx.Err() != nil {
			return TurnResult{}, ErrTurnCancelled
		}
		if err != nil {
			log.Error("turn failed", "stage", "completion", "step", steps, "error", err)
			return TurnResult{}, err
		}

		if err := o.runStep(callCtx, ctx, t, resp, sink, log); err != nil {
			return TurnResult{}, err
		}
		if ctx.Err() != nil {
			return TurnResult{}, ErrTurnCancelled
		}
	}

	if !t.finished {
		log.Warn("step limit reached", "steps", steps)
		if t.answer == "" {
			t.answer = stepLimitText
			sink.Send(chatModel.Event{Type: chatModel.EventText, Text: t.answer})
		}
	}
	if insufficientCredit {
		notice := localized(insufficientCreditText, req.Language)
		if !strings.Contains(t.answer, notice) {
			t.answer = strings.TrimSpace(notice + "\n\n" + t.answer)
		}
	}

	final := t.answer
	if len(t.references) > 0 {
		final += "\n\nReferences:\n- " + strings.Join(t.references, "\n- ")
	}
	t.messages = append(t.messages, chatModel.Message{
		Role:       chatModel.RoleAssistant,
		Content:    final,
		References: t.references,
		CreatedAt:  time.Now().UTC(),
	})

	result := TurnResult{
		ChatId:     req.ChatId,
		ChatToken:  t.chatToken,
		Answer:     final,
		References: t.references,
		ToolChoice: t.choice,
		ToolCalls:  t.toolCalls,
		Steps:      steps,
	}
	result.Warnings = o.persist(callCtx, t, log)
	for _, w := range result.Warnings {
		sink.Send(chatModel.Event{Type: chatModel.EventWarning, Text: w})
	}
	sink.Send(chatModel.Event{Type: chatModel.EventDone, ChatId: req.ChatId, ChatToken: t.chatToken, References: t.references})
	return result, nil
}

// runStep applies one model response: stream its text, execute its tool calls, debit for them.
func (o *Orchestrator) runStep(ctx, stop context.Context, t *turn, resp llm.Response, sink chatModel.EventSink, log *logger_i.Logger) error {
	text := strings.TrimSpace(resp.Text)
	if text != "" {
		t.answer = text
		sink.Send(chatModel.Event{Type: chatModel.EventText, Text: text})
	}
	if len(resp.ToolCalls) == 0 {
		t.finished = true
		return nil
	}

	t.messages = append(t.messages, chatModel.Message{
		Role:      chatModel.RoleAssistant,
		Content:   text,
		ToolCalls: resp.ToolCalls,
		CreatedAt: time.Now().UTC(),
	})

	results := make([]chatModel.ToolResult, 0, len(resp.ToolCalls))
	executed := 0
	for _, call := range resp.ToolCalls {
		sink.Send(chatModel.Event{Type: chatModel.EventToolCall, Tool: call.Name})
		res, counted, err := o.invoke(ctx, t, call)
		if err != nil {
			log.Error("turn failed", "stage", "retrieval", "tool", call.Name, "error", err)
			return err
		}
		if counted {
			executed++
			metrics.CaptureToolInvocation(string(call.Name))
		}
		results = append(results, res)
		sink.Send(chatModel.Event{Type: chatModel.EventToolResult, Tool: call.Name, Text: res.Content})

		if call.Name == chatModel.ToolFinish {
			t.finished = true
			if answer, ok := call.Args["answer"].(string); ok && strings.TrimSpace(answer) != "" && answer != t.answer {
				t.answer = strings.TrimSpace(answer)
				sink.Send(chatModel.Event{Type: chatModel.EventText, Text: t.answer})
			}
		}
	}
	t.toolCalls += executed
	t.messages = append(t.messages, chatModel.Message{
		Role:        chatModel.RoleTool,
		ToolResults: results,
		CreatedAt:   time.Now().UTC(),
	})

	// debits follow the step's results and are not undone if persistence later fails.
	// A stopped turn is not charged.
	if stop.Err() != nil {
		return nil
	}
	if executed > 0 && t.req.Mode != chatModel.ModeEmbed {
		if _, err := o.credits.Debit(ctx, t.caller.UserId, executed); err != nil {
			log.Warn("credit debit failed", "error", err)
		}
	}
	return nil
}

// invoke runs one tool call. counted is false for calls that did no work: unknown tools,
// finish, and repeats answered from the memo.
func (o *Orchestrator) invoke(ctx context.Context, t *turn, call chatModel.ToolCall) (chatModel.ToolResult, bool, error) {
	result := chatModel.ToolResult{CallId: call.Id, Name: call.Name}

	if !contains(t.tools, call.Name) {
		result.Content = fmt.Sprintf("The tool %s is not available for this request.", call.Name)
		return result, false, nil
	}
	if call.Name == chatModel.ToolFinish {
		result.Content = "ok"
		result.Terminal = true
		return result, false, nil
	}

	key := memoKey(call)
	if prev, ok := t.memo[key]; ok && prev.Terminal {
		prev.CallId = call.Id
		return prev, false, nil
	}

	query := argString(call.Args, "query")
	if query == "" {
		query = t.req.Question()
	}

	var bundle rag.ContextBundle
	switch call.Name {
	case chatModel.ToolSearchDocuments, chatModel.ToolSearchKnowledgeBase:
		b, err := o.retriever.Retrieve(ctx, query, t.decision.DocumentIds, t.req.Language)
		if err != nil {
			return result, false, err
		}
		bundle = b
	case chatModel.ToolReadCurrentPage:
		passages, err := o.pages.passages(ctx, t.req.PageContent, query)
		if err != nil {
			return result, false, err
		}
		bundle = o.retriever.BuildBundle(passages, t.req.Language)
	case chatModel.ToolUseContext:
		var passages []rag.Passage
		if text := strings.TrimSpace(t.req.ContextText); text != "" {
			passages = []rag.Passage{{Title: "Provided context", Text: text, Kind: rag.KindContext}}
		}
		bundle = o.retriever.BuildBundle(passages, t.req.Language)
	}

	result.Content = bundle.ContextText
	result.Terminal = bundle.NoRelevant
	if !bundle.NoRelevant {
		t.references = utils.Dedupe(append(t.references, bundle.References...))
	}
	t.memo[key] = result
	return result, true, nil
}

// checkChatOwner returns the stored chat the turn continues, or a zero Chat for a new id.
func (o *Orchestrator) checkChatOwner(ctx context.Context, caller commonModels.Caller, req chatModel.TurnRequest) (chatModel.Chat, error) {
	chat, found, err := o.chats.GetChat(ctx, req.ChatId)
	if err != nil {
		return chatModel.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	if !found {
		return chatModel.Chat{}, nil
	}
	embed := req.Mode == chatModel.ModeEmbed
	if chat.OwnerId != caller.UserId || chat.IsEmbed != embed || (embed && chat.KnowledgeBaseId != req.KnowledgeBaseId) {
		return chatModel.Chat{}, commonModels.ErrForbidden
	}
	if caller.IsAnonymous() && !tokenMatches(chat.AccessToken, req.ChatToken) {
		return chatModel.Chat{}, commonModels.ErrForbidden
	}
	return chat, nil
}

func tokenMatches(stored, presented string) bool {
	return stored != "" && subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// persist writes the transcript and, for embedded chats, the activity entry. Failures become warnings.
func (o *Orchestrator) persist(ctx context.Context, t *turn, log *logger_i.Logger) []string {
	embed := t.req.Mode == chatModel.ModeEmbed
	chat := chatModel.Chat{
		Id:              t.req.ChatId,
		OwnerId:         t.caller.UserId,
		KnowledgeBaseId: t.req.KnowledgeBaseId,
		IsEmbed:         embed,
		Shared:          t.shared,
		AccessToken:     t.chatToken,
		Messages:        t.messages,
		UpdatedAt:       time.Now().UTC(),
	}
	steps := []sequence.Step{{
		Name:     "upsert_transcript",
		Do:       func(ctx context.Context) error { return o.chats.UpsertChat(ctx, chat) },
		Optional: true,
	}}
	if embed {
		entry := chatModel.ActivityEntry{
			ChatId:          chat.Id,
			KnowledgeBaseId: t.req.KnowledgeBaseId,
			Question:        t.req.Question(),
			Answer:          t.answer,
			ToolCalls:       t.toolCalls,
			At:              chat.UpdatedAt,
		}
		steps = append(steps, sequence.Step{
			Name:     "append_activity",
			Do:       func(ctx context.Context) error { return o.chats.AppendActivity(ctx, entry) },
			Optional: true,
		})
	}

	report, err := sequence.New(log, steps...).Run(ctx)
	if err != nil {
		log.Error("turn failed", "stage", "persistence", "error", err)
		return []string{"The conversation could not be saved."}
	}
	var warnings []string
	for _, w := range report.Warnings {
		log.Error("persistence step failed", "stage", "persistence", "step", w.Step, "error", w.Err)
		warnings = append(warnings, "The conversation could not be saved.")
	}
	return utils.Dedupe(warnings)
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// memoKey identifies a call by tool and arguments. json.Marshal sorts map keys.
func memoKey(call chatModel.ToolCall) string {
	b, _ := json.Marshal(call.Args)
	return string(call.Name) + ":" + strings.ToLower(string(b))
}

// FailureText is what callers see when a turn fails.
func FailureText() string {
	return genericFailureText
}
