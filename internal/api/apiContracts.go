package api

import "time"

type JobResponse struct {
	Id         string            `json:"id" example:"job_cz109"`
	Status     string            `json:"status" example:"COMPLETE"`
	Step       string            `json:"step" example:"Embedding"`
	DocumentId string            `json:"document_id,omitempty" example:"8c5d0f6e-..."`
	ChunkCount int               `json:"chunk_count,omitempty" example:"3"`
	Error      *JobOutgoingError `json:"error,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time,omitempty"`
}

type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type JobOutgoingError struct {
	Code    int    `json:"code" example:"400"`
	Message string `json:"message" example:"Job not found"`
	Retry   bool   `json:"can_retry" example:"false"`
}

type ErrorResponse struct {
	Id    string           `json:"id,omitempty"`
	Error JobOutgoingError `json:"error"`
}

type InitJobResponse struct {
	Id        string `json:"id"`
	StatusURL string `json:"status_url"`
}

// requests---------------------

type ChatMessage struct {
	Role    string `json:"role" example:"user"`
	Content string `json:"content" example:"What is the refund policy?"`
}

type ChatRequest struct {
	ChatID            string        `json:"chat_id,omitempty"`
	Message           string        `json:"message,omitempty"`
	Messages          []ChatMessage `json:"messages,omitempty"`
	KnowledgeBaseId   string        `json:"knowledge_base_id,omitempty"`
	Mode              string        `json:"mode,omitempty" example:"chat"`
	AlwaysUseDocument bool          `json:"always_use_document,omitempty"`
	Language          string        `json:"language,omitempty" example:"en"`
}

type EmbedChatRequest struct {
	ChatID          string        `json:"chat_id,omitempty"`
	ChatToken       string        `json:"chat_token,omitempty"`
	Message         string        `json:"message,omitempty"`
	Messages        []ChatMessage `json:"messages,omitempty"`
	KnowledgeBaseId string        `json:"knowledge_base_id" validate:"required"`
	ActiveTool      string        `json:"active_tool,omitempty" example:"auto"`
	PageContent     string        `json:"page_content,omitempty"`
	ContextText     string        `json:"context,omitempty"`
	Language        string        `json:"language,omitempty"`
}

type KnowledgeBaseRequest struct {
	Name           string `json:"name" validate:"required"`
	Description    string `json:"description"`
	IsPublic       bool   `json:"is_public"`
	AllowEmbedding bool   `json:"allow_embedding"`
	Instruction    string `json:"instruction"`
}

type DocumentRefRequest struct {
	DocumentId string `json:"document_id" validate:"required"`
}

type ShareRequest struct {
	Email string `json:"email" validate:"required"`
}

type FlagRequest struct {
	Value bool `json:"value"`
}

type GrantCreditsRequest struct {
	OwnerId string `json:"owner_id" validate:"required"`
	Amount  int    `json:"amount" validate:"required"`
}

// responses---------------------

type CreditResponse struct {
	OwnerId string `json:"owner_id"`
	Balance int    `json:"balance"`
}

type ChatTurnResponse struct {
	ChatId     string   `json:"chat_id"`
	ChatToken  string   `json:"chat_token,omitempty"`
	Answer     string   `json:"answer"`
	References []string `json:"references"`
	Warnings   []string `json:"warnings,omitempty"`
}

type HealthResponse struct {
	Status string            `json:"status" example:"ok"`
	Checks map[string]string `json:"checks"`
}
