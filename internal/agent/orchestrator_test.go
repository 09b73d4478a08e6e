package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/akolanti/kbchat/internal/access"
	"github.com/akolanti/kbchat/internal/data/store"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/rag"
	"github.com/akolanti/kbchat/internal/rag/llm"
)

type mockGate struct {
	resolve func(caller commonModels.Caller, kbId string, mode chatModel.RequestMode) (access.Decision, error)
}

func (m *mockGate) ResolveAccess(ctx context.Context, caller commonModels.Caller, kbId string, mode chatModel.RequestMode) (access.Decision, error) {
	return m.resolve(caller, kbId, mode)
}

func allow(docs ...string) *mockGate {
	return &mockGate{resolve: func(commonModels.Caller, string, chatModel.RequestMode) (access.Decision, error) {
		return access.Decision{Allowed: true, DocumentIds: docs}, nil
	}}
}

type mockRetriever struct {
	engine   *rag.Engine
	retrieve func(question string, scope []string) (rag.ContextBundle, error)
	calls    int
}

func (m *mockRetriever) Retrieve(ctx context.Context, question string, scope []string, language string) (rag.ContextBundle, error) {
	m.calls++
	return m.retrieve(question, scope)
}

func (m *mockRetriever) BuildBundle(passages []rag.Passage, language string) rag.ContextBundle {
	return m.engine.BuildBundle(passages, language)
}

func newRetriever(retrieve func(string, []string) (rag.ContextBundle, error)) *mockRetriever {
	return &mockRetriever{engine: rag.NewEngine(nil, nil, nil, rag.Options{}), retrieve: retrieve}
}

type mockProvider struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(step int, req llm.Request) (llm.Response, error)
}

func (m *mockProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	step := len(m.requests)
	m.mu.Unlock()
	return m.respond(step, req)
}

type mockCredits struct {
	balance int
	debits  []int
}

func (m *mockCredits) HasCredit(ctx context.Context, ownerId string) (bool, error) {
	return m.balance > 0, nil
}

func (m *mockCredits) Debit(ctx context.Context, ownerId string, n int) (int, error) {
	m.debits = append(m.debits, n)
	m.balance -= n
	if m.balance < 0 {
		m.balance = 0
	}
	return m.balance, nil
}

type recordingSink struct {
	events []chatModel.Event
}

func (s *recordingSink) Send(e chatModel.Event) {
	s.events = append(s.events, e)
}

func (s *recordingSink) count(t chatModel.EventType) int {
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type failingChatStore struct {
	*store.InMemoryChatStore
}

func (f failingChatStore) UpsertChat(ctx context.Context, chat chatModel.Chat) error {
	return errors.New("store down")
}

var owner = commonModels.Caller{UserId: "alice", Email: "alice@example.com"}

func question(q string) []chatModel.Message {
	return []chatModel.Message{{Role: chatModel.RoleUser, Content: q}}
}

func searchCall(query string) llm.Response {
	return llm.Response{ToolCalls: []chatModel.ToolCall{{Id: query, Name: chatModel.ToolSearchDocuments, Args: map[string]any{"query": query}}}}
}

func policyBundle(string, []string) (rag.ContextBundle, error) {
	return rag.ContextBundle{ContextText: "## Policy\nRefunds within 30 days.", References: []string{"Policy"}}, nil
}

func TestToolSet_EveryModeHasASet(t *testing.T) {
	tests := []struct {
		mode   chatModel.RequestMode
		active chatModel.ActiveTool
		want   []chatModel.ToolName
	}{
		{chatModel.ModeChat, chatModel.ActiveToolAuto, []chatModel.ToolName{chatModel.ToolSearchDocuments}},
		{chatModel.ModeKnowledgeBase, chatModel.ActiveToolContext, []chatModel.ToolName{chatModel.ToolSearchKnowledgeBase}},
		{chatModel.ModeEmbed, chatModel.ActiveToolAuto, []chatModel.ToolName{chatModel.ToolSearchKnowledgeBase, chatModel.ToolReadCurrentPage, chatModel.ToolFinish}},
		{chatModel.ModeEmbed, chatModel.ActiveToolKnowledgeBase, []chatModel.ToolName{chatModel.ToolSearchKnowledgeBase, chatModel.ToolFinish}},
		{chatModel.ModeEmbed, chatModel.ActiveToolCurrentPage, []chatModel.ToolName{chatModel.ToolReadCurrentPage, chatModel.ToolFinish}},
		{chatModel.ModeEmbed, chatModel.ActiveToolContext, []chatModel.ToolName{chatModel.ToolUseContext, chatModel.ToolFinish}},
	}
	for _, tt := range tests {
		got := toolSet(tt.mode, tt.active)
		if strings.Join(toStrings(got), ",") != strings.Join(toStrings(tt.want), ",") {
			t.Errorf("%s/%s: got %v want %v", tt.mode, tt.active, got, tt.want)
		}
		if tt.mode == chatModel.ModeEmbed && !contains(got, chatModel.ToolFinish) {
			t.Errorf("%s/%s: embed sets must include finish", tt.mode, tt.active)
		}
	}
}

func toStrings(names []chatModel.ToolName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

func TestChooseTools(t *testing.T) {
	tests := []struct {
		name       string
		always     bool
		hasCredit  bool
		hasSources bool
		want       chatModel.ToolChoice
	}{
		{"always with credit and docs", true, true, true, chatModel.ToolChoiceRequired},
		{"optional", false, true, true, chatModel.ToolChoiceAuto},
		{"no credit", true, false, true, chatModel.ToolChoiceNone},
		{"no documents", true, true, false, chatModel.ToolChoiceNone},
	}
	for _, tt := range tests {
		if got := chooseTools(tt.always, tt.hasCredit, tt.hasSources); got != tt.want {
			t.Errorf("%s: got %s want %s", tt.name, got, tt.want)
		}
	}
}

func TestHandleTurn_ZeroCreditStatesInsufficientCredit(t *testing.T) {
	credits := &mockCredits{balance: 0}
	provider := &mockProvider{respond: func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "Sorry, I can't look that up."}, nil
	}}
	retriever := newRetriever(policyBundle)
	o := NewOrchestrator(allow("doc-1"), retriever, provider, credits, store.InitInMemoryChatStore(), nil, Options{})
	sink := &recordingSink{}

	res, err := o.HandleTurn(context.Background(), owner, chatModel.TurnRequest{
		Messages:          question("What is the refund policy?"),
		AlwaysUseDocument: true,
	}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.ToolChoice != chatModel.ToolChoiceNone {
		t.Errorf("tool choice = %s, want none", res.ToolChoice)
	}
	if provider.requests[0].ToolChoice != chatModel.ToolChoiceNone {
		t.Errorf("provider saw %s", provider.requests[0].ToolChoice)
	}
	if !strings.Contains(provider.requests[0].SystemPrompt, insufficientCreditRule) {
		t.Error("system prompt is missing the insufficient credit rule")
	}
	if !strings.Contains(res.Answer, localized(insufficientCreditText, "en")) {
		t.Errorf("answer does not state insufficient credit: %q", res.Answer)
	}
	if retriever.calls != 0 || len(credits.debits) != 0 {
		t.Errorf("no retrieval or debit expected, got %d retrievals %v debits", retriever.calls, credits.debits)
	}
}

func TestHandleTurn_ToolStepDebitsAndCites(t *testing.T) {
	credits := &mockCredits{balance: 10}
	chats := store.InitInMemoryChatStore()
	provider := &mockProvider{respond: func(step int, req llm.Request) (llm.Response, error) {
		if step == 1 {
			return searchCall("refund policy"), nil
		}
		return llm.Response{Text: "Refunds are accepted within 30 days."}, nil
	}}
	o := NewOrchestrator(allow("doc-1"), newRetriever(policyBundle), provider, credits, chats, nil, Options{})
	sink := &recordingSink{}

	res, err := o.HandleTurn(context.Background(), owner, chatModel.TurnRequest{
		Messages:          question("What is the refund policy?"),
		AlwaysUseDocument: true,
	}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider.requests[0].ToolChoice != chatModel.ToolChoiceRequired {
		t.Errorf("first step should force a tool, got %s", provider.requests[0].ToolChoice)
	}
	if len(credits.debits) != 1 || credits.debits[0] != 1 {
		t.Errorf("expected a single debit of 1, got %v", credits.debits)
	}
	if !strings.Contains(res.Answer, "References:\n- Policy") {
		t.Errorf("answer missing references: %q", res.Answer)
	}
	if sink.count(chatModel.EventToolCall) != 1 || sink.count(chatModel.EventDone) != 1 {
		t.Errorf("unexpected events: %+v", sink.events)
	}

	chat, found, _ := chats.GetChat(context.Background(), res.ChatId)
	if !found || chat.OwnerId != "alice" {
		t.Fatalf("transcript not persisted: %+v", chat)
	}
	last := chat.Messages[len(chat.Messages)-1]
	if last.Role != chatModel.RoleAssistant || len(last.References) != 1 {
		t.Errorf("last message = %+v", last)
	}
}

func TestHandleTurn_StepBound(t *testing.T) {
	credits := &mockCredits{balance: 100}
	provider := &mockProvider{respond: func(step int, req llm.Request) (llm.Response, error) {
		return searchCall(strings.Repeat("q", step)), nil
	}}
	o := NewOrchestrator(allow("doc-1"), newRetriever(policyBundle), provider, credits, store.InitInMemoryChatStore(), nil, Options{MaxSteps: 3})

	res, err := o.HandleTurn(context.Background(), owner, chatModel.TurnRequest{Messages: question("loop forever")}, &recordingSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.requests) != 3 || res.Steps != 3 {
		t.Errorf("expected 3 steps, got %d requests and %d steps", len(provider.requests), res.Steps)
	}
	if !strings.HasPrefix(res.Answer, stepLimitText) {
		t.Errorf("expected step limit answer, got %q", res.Answer)
	}
	if len(credits.debits) != 3 {
		t.Errorf("expected a debit per step, got %v", credits.debits)
	}
}

func TestHandleTurn_NoRelevantIsTerminalForSameArgs(t *testing.T) {
	credits := &mockCredits{balance: 10}
	provider := &mockProvider{respond: func(step int, req llm.Request) (llm.Response, error) {
		if step <= 2 {
			return searchCall("warranty"), nil
		}
		return llm.Response{Text: "Nothing relevant was found."}, nil
	}}
	retriever := newRetriever(func(string, []string) (rag.ContextBundle, error) {
		return rag.NoRelevantBundle("en"), nil
	})
	o := NewOrchestrator(allow("doc-1"), retriever, provider, credits, store.InitInMemoryChatStore(), nil, Options{})

	res, err := o.HandleTurn(context.Background(), owner, chatModel.TurnRequest{Messages: question("warranty?")}, &recordingSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retriever.calls != 1 {
		t.Errorf("repeat call should be answered from the memo, retriever ran %d times", retriever.calls)
	}
	if len(credits.debits) != 1 {
		t.Errorf("memo hits are not debited, got %v", credits.debits)
	}
	if strings.Contains(res.Answer, "References") || len(res.References) != 0 {
		t.Errorf("no references expected, got %q", res.Answer)
	}
}

func TestHandleTurn_EmbedIsUnmeteredAndLogsActivity(t *testing.T) {
	credits := &mockCredits{balance: 0}
	chats := store.InitInMemoryChatStore()
	provider := &mockProvider{respond: func(step int, req llm.Request) (llm.Response, error) {
		if step == 1 {
			return llm.Response{ToolCalls: []chatModel.ToolCall{{Id: "1", Name: chatModel.ToolSearchKnowledgeBase, Args: map[string]any{"query": "hours"}}}}, nil
		}
		return llm.Response{ToolCalls: []chatModel.ToolCall{{Id: "2", Name: chatModel.ToolFinish, Args: map[string]any{"answer": "We open at nine."}}}}, nil
	}}
	o := NewOrchestrator(allow("kb-doc"), newRetriever(policyBundle), provider, credits, chats, nil, Options{})

	res, err := o.HandleTurn(context.Background(), commonModels.Caller{}, chatModel.TurnRequest{
		Messages:        question("When do you open?"),
		Mode:            chatModel.ModeEmbed,
		KnowledgeBaseId: "kb-1",
	}, &recordingSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(credits.debits) != 0 {
		t.Errorf("embed turns must not debit, got %v", credits.debits)
	}
	if !strings.HasPrefix(res.Answer, "We open at nine.") {
		t.Errorf("finish answer not used: %q", res.Answer)
	}
	activity, _ := chats.ListActivity(context.Background(), "kb-1", 10)
	if len(activity) != 1 || activity[0].ToolCalls != 1 {
		t.Errorf("expected one activity entry with one tool call, got %+v", activity)
	}
}

func TestHandleTurn_AccessDeniedNeverReachesModel(t *testing.T) {
	provider := &mockProvider{respond: func(int, llm.Request) (llm.Response, error) {
		t.Fatal("model must not be called")
		return llm.Response{}, nil
	}}
	gate := &mockGate{resolve: func(commonModels.Caller, string, chatModel.RequestMode) (access.Decision, error) {
		return access.Decision{Reason: access.ReasonEmbeddingNotAllowed}, commonModels.ErrEmbeddingNotAllowed
	}}
	retriever := newRetriever(policyBundle)
	o := NewOrchestrator(gate, retriever, provider, &mockCredits{}, store.InitInMemoryChatStore(), nil, Options{})

	_, err := o.HandleTurn(context.Background(), commonModels.Caller{}, chatModel.TurnRequest{
		Messages: question("hi"), Mode: chatModel.ModeEmbed, KnowledgeBaseId: "private",
	}, &recordingSink{})
	if !errors.Is(err, commonModels.ErrEmbeddingNotAllowed) {
		t.Fatalf("expected ErrEmbeddingNotAllowed, got %v", err)
	}
	if retriever.calls != 0 {
		t.Error("retrieval attempted after denial")
	}
}

func TestHandleTurn_FailuresPersistNothing(t *testing.T) {
	chats := store.InitInMemoryChatStore()
	provider := &mockProvider{respond: func(int, llm.Request) (llm.Response, error) {
		return llm.Response{}, errors.New("upstream down")
	}}
	o := NewOrchestrator(allow("doc-1"), newRetriever(policyBundle), provider, &mockCredits{balance: 1}, chats, nil, Options{})

	_, err := o.HandleTurn(context.Background(), owner, chatModel.TurnRequest{ChatId: "c-1", Messages: question("hi")}, &recordingSink{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, found, _ := chats.GetChat(context.Background(), "c-1"); found {
		t.Error("failed turn must not persist a transcript")
	}
}

func TestHandleTurn_CancelledDiscardsLateResults(t *testing.T) {
	tests := []struct {
		name     string
		response llm.Response
		// cancelOn is where the stop signal lands: "completion" or "retrieval"
		cancelOn string
	}{
		{"stopped during completion", llm.Response{Text: "late answer"}, "completion"},
		{"stopped during a tool call", searchCall("refunds"), "retrieval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chats := store.InitInMemoryChatStore()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			provider := &mockProvider{respond: func(int, llm.Request) (llm.Response, error) {
				if tt.cancelOn == "completion" {
					cancel()
				}
				return tt.response, nil
			}}
			retriever := newRetriever(func(q string, scope []string) (rag.ContextBundle, error) {
				if tt.cancelOn == "retrieval" {
					cancel()
				}
				return policyBundle(q, scope)
			})
			credits := &mockCredits{balance: 2}
			o := NewOrchestrator(allow("doc-1"), retriever, provider, credits, chats, nil, Options{})

			_, err := o.HandleTurn(ctx, owner, chatModel.TurnRequest{ChatId: "c-2", Messages: question("hi")}, &recordingSink{})
			if !errors.Is(err, ErrTurnCancelled) {
				t.Fatalf("expected ErrTurnCancelled, got %v", err)
			}
			if _, found, _ := chats.GetChat(context.Background(), "c-2"); found {
				t.Error("cancelled turn must not persist")
			}
			if len(credits.debits) != 0 || credits.balance != 2 {
				t.Errorf("cancelled turn was charged: debits=%v balance=%d", credits.debits, credits.balance)
			}
		})
	}
}

func TestHandleTurn_ContinuationKeepsSharing(t *testing.T) {
	ctx := context.Background()
	chats := store.InitInMemoryChatStore()
	provider := &mockProvider{respond: func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "hello"}, nil
	}}
	o := NewOrchestrator(allow(), newRetriever(policyBundle), provider, &mockCredits{}, chats, nil, Options{})

	if _, err := o.HandleTurn(ctx, owner, chatModel.TurnRequest{ChatId: "c-share", Messages: question("hi")}, &recordingSink{}); err != nil {
		t.Fatal(err)
	}
	if err := chats.ShareChat(ctx, "c-share", true); err != nil {
		t.Fatal(err)
	}
	if _, err := o.HandleTurn(ctx, owner, chatModel.TurnRequest{ChatId: "c-share", Messages: question("again")}, &recordingSink{}); err != nil {
		t.Fatal(err)
	}
	chat, _, _ := chats.GetChat(ctx, "c-share")
	if !chat.Shared {
		t.Error("a new turn unshared the chat")
	}
}

func TestHandleTurn_AnonymousEmbedChatNeedsItsToken(t *testing.T) {
	ctx := context.Background()
	chats := store.InitInMemoryChatStore()
	provider := &mockProvider{respond: func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "hello"}, nil
	}}
	o := NewOrchestrator(allow("kb-doc"), newRetriever(policyBundle), provider, &mockCredits{}, chats, nil, Options{})
	embedTurn := func(chatId, token string) chatModel.TurnRequest {
		return chatModel.TurnRequest{ChatId: chatId, ChatToken: token, Messages: question("hi"), Mode: chatModel.ModeEmbed, KnowledgeBaseId: "kb-1"}
	}

	sink := &recordingSink{}
	first, err := o.HandleTurn(ctx, commonModels.Caller{}, embedTurn("", ""), sink)
	if err != nil {
		t.Fatal(err)
	}
	if first.ChatToken == "" {
		t.Fatal("anonymous embed chat got no token")
	}
	if done := sink.events[len(sink.events)-1]; done.Type != chatModel.EventDone || done.ChatToken != first.ChatToken {
		t.Errorf("done event does not carry the token: %+v", done)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"no token", "", commonModels.ErrForbidden},
		{"wrong token", "guess", commonModels.ErrForbidden},
		{"issued token", first.ChatToken, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := o.HandleTurn(ctx, commonModels.Caller{}, embedTurn(first.ChatId, tt.token), &recordingSink{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && res.ChatToken != first.ChatToken {
				t.Errorf("token rotated: %q", res.ChatToken)
			}
		})
	}

	if chat, _, _ := chats.GetChat(ctx, first.ChatId); chat.AccessToken != first.ChatToken {
		t.Errorf("stored token = %q, want %q", chat.AccessToken, first.ChatToken)
	}
}

func TestHandleTurn_PersistenceFailureIsAWarning(t *testing.T) {
	provider := &mockProvider{respond: func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "hello"}, nil
	}}
	chats := failingChatStore{store.InitInMemoryChatStore()}
	o := NewOrchestrator(allow(), newRetriever(policyBundle), provider, &mockCredits{}, chats, nil, Options{})
	sink := &recordingSink{}

	res, err := o.HandleTurn(context.Background(), owner, chatModel.TurnRequest{Messages: question("hi")}, sink)
	if err != nil {
		t.Fatalf("persistence failure must not fail the turn: %v", err)
	}
	if res.Answer != "hello" || len(res.Warnings) != 1 || sink.count(chatModel.EventWarning) != 1 {
		t.Errorf("unexpected result %+v events %+v", res, sink.events)
	}
}

func TestHandleTurn_ForeignChatIsForbidden(t *testing.T) {
	chats := store.InitInMemoryChatStore()
	_ = chats.UpsertChat(context.Background(), chatModel.Chat{Id: "bob-chat", OwnerId: "bob"})
	provider := &mockProvider{respond: func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "x"}, nil
	}}
	o := NewOrchestrator(allow(), newRetriever(policyBundle), provider, &mockCredits{}, chats, nil, Options{})

	_, err := o.HandleTurn(context.Background(), owner, chatModel.TurnRequest{ChatId: "bob-chat", Messages: question("hi")}, &recordingSink{})
	if !errors.Is(err, commonModels.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPageText_StripsMarkup(t *testing.T) {
	html := `<html><head><style>p{}</style><script>var x=1;</script></head>
<body><nav>Menu</nav><main><h1>Opening hours</h1><p>We open at nine.</p><p>We close at five.</p></main></body></html>`

	text, err := PageText(html)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(text, "var x") || strings.Contains(text, "Menu") {
		t.Errorf("markup leaked: %q", text)
	}
	if !strings.Contains(text, "We open at nine.") || !strings.Contains(text, "Opening hours") {
		t.Errorf("content missing: %q", text)
	}
}

func TestReadCurrentPage_ContextNotCited(t *testing.T) {
	provider := &mockProvider{respond: func(step int, req llm.Request) (llm.Response, error) {
		if step == 1 {
			return llm.Response{ToolCalls: []chatModel.ToolCall{{Id: "1", Name: chatModel.ToolReadCurrentPage}}}, nil
		}
		return llm.Response{Text: "The page says we open at nine."}, nil
	}}
	o := NewOrchestrator(allow(), newRetriever(policyBundle), provider, &mockCredits{}, store.InitInMemoryChatStore(), nil, Options{})
	sink := &recordingSink{}

	res, err := o.HandleTurn(context.Background(), commonModels.Caller{}, chatModel.TurnRequest{
		Messages:    question("When do you open?"),
		Mode:        chatModel.ModeEmbed,
		ActiveTool:  chatModel.ActiveToolCurrentPage,
		PageContent: "<p>We open at nine.</p>",
	}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.References) != 0 {
		t.Errorf("page passages must not be cited, got %v", res.References)
	}
	var toolText string
	for _, e := range sink.events {
		if e.Type == chatModel.EventToolResult {
			toolText = e.Text
		}
	}
	if !strings.Contains(toolText, "We open at nine.") {
		t.Errorf("page text not returned to the model: %q", toolText)
	}
}
