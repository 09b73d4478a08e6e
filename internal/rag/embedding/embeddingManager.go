package embedding

import "context"

// Embedder turns text into fixed-length vectors. The same model embeds chunks and questions,
// so a stored chunk vector is directly comparable with a later question vector.
type Embedder interface {
	GetEmbedding(ctx context.Context, query string) ([]float32, error)
	BatchEmbedding(ctx context.Context, chunks []string) ([][]float32, error)
}
