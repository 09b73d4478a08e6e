package adapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/akolanti/kbchat/internal/api"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/jobModel"
)

func ToInitJobResponse(id string) api.InitJobResponse {
	return api.InitJobResponse{
		Id:        id,
		StatusURL: fmt.Sprintf("status/%s", id),
	}
}

func ToAPIResponse(job jobModel.Job) api.JobResponse {
	var errorPtr *api.JobOutgoingError
	if job.Error.Message != "" || job.Error.Code != 0 {
		errorPtr = &api.JobOutgoingError{
			Code:    job.Error.Code,
			Message: job.Error.Message,
			Retry:   job.Error.Retry,
		}
	}

	return api.JobResponse{
		Id:         job.Id,
		Status:     string(job.Status),
		Step:       string(job.CurrentStep),
		DocumentId: job.JobPayload.DocumentId,
		ChunkCount: job.JobPayload.ChunkCount,
		Error:      errorPtr,
		StartTime:  job.CreatedTime,
		EndTime:    job.EndTime,
	}
}

func BadRequest(id string, error string, code int) api.ErrorResponse {
	return api.ErrorResponse{
		Id: id,
		Error: api.JobOutgoingError{
			Code:    code,
			Message: error,
			Retry:   false,
		},
	}
}

// ToMessages converts client history into transcript messages. Only user and assistant turns are accepted.
func ToMessages(history []api.ChatMessage, latest string) ([]chatModel.Message, error) {
	now := time.Now().UTC()
	messages := make([]chatModel.Message, 0, len(history)+1)
	for _, m := range history {
		role := chatModel.Role(strings.ToLower(strings.TrimSpace(m.Role)))
		if role != chatModel.RoleUser && role != chatModel.RoleAssistant {
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
		messages = append(messages, chatModel.Message{Role: role, Content: m.Content, CreatedAt: now})
	}
	if latest = strings.TrimSpace(latest); latest != "" {
		messages = append(messages, chatModel.Message{Role: chatModel.RoleUser, Content: latest, CreatedAt: now})
	}
	return messages, nil
}

func ToChatTurnResponse(chatId, chatToken, answer string, references []string, warnings []string) api.ChatTurnResponse {
	if references == nil {
		references = []string{}
	}
	return api.ChatTurnResponse{ChatId: chatId, ChatToken: chatToken, Answer: answer, References: references, Warnings: warnings}
}
