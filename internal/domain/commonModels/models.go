package commonModels

import "time"

type Document struct {
	Id                 string    `json:"id"`
	Title              string    `json:"title"`
	OwnerId            string    `json:"owner_id"`
	KnowledgeBaseId    string    `json:"knowledge_base_id,omitempty"`
	Active             bool      `json:"active"`
	IsKnowledgeBaseDoc bool      `json:"is_knowledge_base_doc"`
	SourceURL          string    `json:"source_url"`
	ContentType        DocType   `json:"content_type"`
	CreatedAt          time.Time `json:"created_at"`
}

// DocChunk carries its owner flags so the index can filter without joining back to the document row.
type DocChunk struct {
	ChunkId            string `json:"chunk_id"`
	DocumentId         string `json:"document_id"`
	Text               string `json:"content"`
	Order              int    `json:"chunk_order"`
	PageNum            int    `json:"page_num"`
	OwnerId            string `json:"owner_id"`
	Active             bool   `json:"active"`
	IsKnowledgeBaseDoc bool   `json:"is_kb_doc"`
	EmbeddingModel     string `json:"embedding_model"`
}

type ScoredChunk struct {
	ChunkId    string  `json:"chunk_id"`
	DocumentId string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

type KnowledgeBase struct {
	Id             string    `json:"id"`
	OwnerId        string    `json:"owner_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	IsPublic       bool      `json:"is_public"`
	AllowEmbedding bool      `json:"allow_embedding"`
	Instruction    string    `json:"instruction"`
	DocumentIds    []string  `json:"document_ids"`
	IsPinned       bool      `json:"is_pinned"`
	CreatedAt      time.Time `json:"created_at"`
}

type KnowledgeBaseShare struct {
	KnowledgeBaseId string `json:"knowledge_base_id"`
	SharedWithEmail string `json:"shared_with_email"`
}

type Credit struct {
	OwnerId string `json:"owner_id"`
	Balance int    `json:"balance"`
}

// Caller is the authenticated identity handed over by the auth layer. A zero Caller is anonymous.
type Caller struct {
	UserId string `json:"user_id"`
	Email  string `json:"email"`
}

func (c Caller) IsAnonymous() bool {
	return c.UserId == ""
}

type DocType string

var PDF DocType = "PDF"
var DOCX DocType = "DOCX"
var CSV DocType = "CSV"
var XLSX DocType = "XLSX"
var TXT DocType = "TXT"
var ERR DocType = "ERROR"
