package vectorDB

import (
	"context"
	"math"

	"github.com/akolanti/kbchat/internal/domain/commonModels"
)

// SearchFilter scopes a similarity search. An empty DocumentIds never widens to the whole index.
type SearchFilter struct {
	DocumentIds []string
	Threshold   float32
	Limit       int
}

// ChunkIndex holds the per-chunk vectors. Search only ever returns chunks marked active.
type ChunkIndex interface {
	EnsureCollection(ctx context.Context) error
	UpsertChunks(ctx context.Context, chunks []commonModels.DocChunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, filter SearchFilter) ([]commonModels.ScoredChunk, error)
	SetDocumentActive(ctx context.Context, documentId string, active bool) error
	// SetDocumentKnowledgeBase keeps the chunk payload in step with the document's membership.
	SetDocumentKnowledgeBase(ctx context.Context, documentId string, isKnowledgeBaseDoc bool) error
	DeleteDocument(ctx context.Context, documentId string) error
}

// CosineSimilarity returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
