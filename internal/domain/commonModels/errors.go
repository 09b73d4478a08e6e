package commonModels

import "errors"

var (
	ErrUnsupportedFileType   = errors.New("unsupported file type")
	ErrExtractionFailed      = errors.New("text extraction failed")
	ErrDuplicateTitle        = errors.New("a document with this title already exists")
	ErrEmbeddingService      = errors.New("embedding service error")
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
	ErrEmbeddingNotAllowed   = errors.New("embedding is not allowed for this knowledge base")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrChatNotFound          = errors.New("chat not found")
)
