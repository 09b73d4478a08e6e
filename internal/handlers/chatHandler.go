package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/akolanti/kbchat/internal/adapter"
	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/agent"
	"github.com/akolanti/kbchat/internal/api"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
)

// sseSink streams turn events as server-sent events. Headers go out with the first event so a
// turn that fails early can still answer with a plain JSON error.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	flusher, _ := w.(http.Flusher)
	return &sseSink{w: w, flusher: flusher}
}

func (s *sseSink) Send(event chatModel.Event) {
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logRH.Error("Error encoding event", "type", event.Type, "err", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		// client went away, the turn notices through its context
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// discardSink is used for JSON responses where only the final result matters.
type discardSink struct{}

func (discardSink) Send(chatModel.Event) {}

// ChatHandler godoc
// @Summary      Ask a question over the caller's documents or a knowledge base
// @Description  Streams server-sent events (text, tool_call, tool_result, warning, done, error) unless Accept is application/json.
// @Tags         Chat
// @Accept       json
// @Produce      text/event-stream
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      api.ChatRequest  true  "Chat turn"
// @Success      200      {object}  api.ChatTurnResponse
// @Failure      400      {object}  api.ErrorResponse
// @Failure      401      {object}  api.ErrorResponse
// @Failure      403      {object}  api.ErrorResponse
// @Router       /chat [post]
func ChatHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req api.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode, err := chatModel.ParseRequestMode(req.Mode)
	if err != nil || mode == chatModel.ModeEmbed {
		WriteErrorResponse(w, http.StatusBadRequest, req.ChatID, "unsupported mode")
		return
	}

	messages, err := adapter.ToMessages(req.Messages, req.Message)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, req.ChatID, err.Error())
		return
	}
	if len(req.Messages) == 0 && req.ChatID != "" {
		stored, err := storedHistory(r, caller, req.ChatID)
		if err != nil {
			writeDomainError(w, r, req.ChatID, err)
			return
		}
		messages = append(stored, messages...)
	}

	runTurn(w, r, caller, chatModel.TurnRequest{
		ChatId:            req.ChatID,
		Messages:          messages,
		KnowledgeBaseId:   strings.TrimSpace(req.KnowledgeBaseId),
		Mode:              mode,
		AlwaysUseDocument: req.AlwaysUseDocument,
		Language:          req.Language,
	})
}

// EmbedChatHandler godoc
// @Summary      Chat endpoint for the embeddable widget
// @Description  Unmetered. The knowledge base must be public or allow embedding.
// @Tags         Chat
// @Accept       json
// @Produce      text/event-stream
// @Produce      json
// @Param        request  body      api.EmbedChatRequest  true  "Widget chat turn"
// @Success      200      {object}  api.ChatTurnResponse
// @Failure      403      {object}  api.ErrorResponse
// @Failure      404      {object}  api.ErrorResponse
// @Router       /embed/chat [post]
func EmbedChatHandler(w http.ResponseWriter, r *http.Request) {
	var req api.EmbedChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	activeTool, err := chatModel.ParseActiveTool(req.ActiveTool)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, req.ChatID, "unsupported active_tool")
		return
	}
	messages, err := adapter.ToMessages(req.Messages, req.Message)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, req.ChatID, err.Error())
		return
	}

	runTurn(w, r, utils.CallerFrom(r.Context()), chatModel.TurnRequest{
		ChatId:          req.ChatID,
		ChatToken:       req.ChatToken,
		Messages:        messages,
		KnowledgeBaseId: strings.TrimSpace(req.KnowledgeBaseId),
		Mode:            chatModel.ModeEmbed,
		ActiveTool:      activeTool,
		PageContent:     req.PageContent,
		ContextText:     req.ContextText,
		Language:        req.Language,
	})
}

func runTurn(w http.ResponseWriter, r *http.Request, caller commonModels.Caller, turn chatModel.TurnRequest) {
	log := requestLogger(r)

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		result, err := deps.Turns.HandleTurn(r.Context(), caller, turn, discardSink{})
		if err != nil {
			writeDomainError(w, r, turn.ChatId, err)
			return
		}
		writeJsonResponse(w, http.StatusOK, adapter.ToChatTurnResponse(result.ChatId, result.ChatToken, result.Answer, result.References, result.Warnings))
		return
	}

	sink := newSSESink(w)
	if _, err := deps.Turns.HandleTurn(r.Context(), caller, turn, sink); err != nil {
		if !sink.started {
			writeDomainError(w, r, turn.ChatId, err)
			return
		}
		log.Error("Turn failed mid-stream", "err", err)
		text := agent.FailureText()
		if code, message := statusFor(err); code < http.StatusInternalServerError {
			text = message
		}
		sink.Send(chatModel.Event{Type: chatModel.EventError, Text: text})
	}
}

// storedHistory returns the user and assistant turns of a chat the caller owns.
func storedHistory(r *http.Request, caller commonModels.Caller, chatId string) ([]chatModel.Message, error) {
	chat, found, err := deps.Chats.GetChat(r.Context(), chatId)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if chat.OwnerId != caller.UserId || chat.IsEmbed {
		return nil, commonModels.ErrForbidden
	}
	history := make([]chatModel.Message, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		if m.Role == chatModel.RoleTool || strings.TrimSpace(m.Content) == "" {
			continue
		}
		history = append(history, chatModel.Message{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	return history, nil
}

// GetChatHandler godoc
// @Summary      Get a stored chat transcript
// @Description  Visible to the owner, or to any signed-in user once the owner shares it.
// @Tags         Chat
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Chat ID"
// @Success      200  {object}  chatModel.Chat
// @Failure      404  {object}  api.ErrorResponse
// @Router       /chats/{id} [get]
func GetChatHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id := utils.GetChiURLParam(r, "id")
	chat, found, err := deps.Chats.GetChat(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, id, err)
		return
	}
	if !found || (chat.OwnerId != caller.UserId && !chat.Shared) {
		writeDomainError(w, r, id, commonModels.ErrChatNotFound)
		return
	}
	chat.AccessToken = ""
	writeJsonResponse(w, http.StatusOK, chat)
}

// ShareChatHandler godoc
// @Summary      Share or unshare a chat transcript
// @Tags         Chat
// @Accept       json
// @Security     BearerAuth
// @Param        id       path  string           true  "Chat ID"
// @Param        request  body  api.FlagRequest  true  "Shared flag"
// @Success      204
// @Failure      404  {object}  api.ErrorResponse
// @Router       /chats/{id}/share [put]
func ShareChatHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id := utils.GetChiURLParam(r, "id")
	var req api.FlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	chat, found, err := deps.Chats.GetChat(r.Context(), id)
	if err == nil && (!found || chat.OwnerId != caller.UserId) {
		err = commonModels.ErrChatNotFound
	}
	if err == nil {
		err = deps.Chats.ShareChat(r.Context(), id, req.Value)
	}
	if err != nil {
		writeDomainError(w, r, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
