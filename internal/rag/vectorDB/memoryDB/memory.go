// Package memoryDB is a brute-force cosine chunk index used when qdrant is not configured and in tests.
package memoryDB

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/rag/vectorDB"
)

type entry struct {
	chunk  commonModels.DocChunk
	vector []float32
}

type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]entry
}

func NewStorage(dimension int) *Storage {
	return &Storage{dimension: dimension, entries: make(map[string]entry)}
}

func (s *Storage) EnsureCollection(ctx context.Context) error {
	if s.dimension <= 0 {
		return errors.New("invalid dimension")
	}
	return nil
}

func (s *Storage) UpsertChunks(ctx context.Context, chunks []commonModels.DocChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	for _, v := range vectors {
		if s.dimension > 0 && len(v) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range chunks {
		s.entries[c.ChunkId] = entry{chunk: c, vector: append([]float32(nil), vectors[i]...)}
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, filter vectorDB.SearchFilter) ([]commonModels.ScoredChunk, error) {
	if len(filter.DocumentIds) == 0 {
		return nil, nil
	}
	allowed := make(map[string]struct{}, len(filter.DocumentIds))
	for _, id := range filter.DocumentIds {
		allowed[id] = struct{}{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = config.DefaultMaxResults
	}

	s.mu.RLock()
	var results []commonModels.ScoredChunk
	for _, e := range s.entries {
		if !e.chunk.Active {
			continue
		}
		if _, ok := allowed[e.chunk.DocumentId]; !ok {
			continue
		}
		score := vectorDB.CosineSimilarity(vector, e.vector)
		if score < filter.Threshold {
			continue
		}
		results = append(results, commonModels.ScoredChunk{
			ChunkId:    e.chunk.ChunkId,
			DocumentId: e.chunk.DocumentId,
			Text:       e.chunk.Text,
			Score:      score,
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ChunkId < results[j].ChunkId
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Storage) SetDocumentActive(ctx context.Context, documentId string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.chunk.DocumentId == documentId {
			e.chunk.Active = active
			s.entries[id] = e
		}
	}
	return nil
}

func (s *Storage) SetDocumentKnowledgeBase(ctx context.Context, documentId string, isKnowledgeBaseDoc bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.chunk.DocumentId == documentId {
			e.chunk.IsKnowledgeBaseDoc = isKnowledgeBaseDoc
			s.entries[id] = e
		}
	}
	return nil
}

func (s *Storage) DeleteDocument(ctx context.Context, documentId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.chunk.DocumentId == documentId {
			delete(s.entries, id)
		}
	}
	return nil
}

// Chunks returns a copy of every stored chunk of a document, ordered by position.
func (s *Storage) Chunks(documentId string) []commonModels.DocChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []commonModels.DocChunk
	for _, e := range s.entries {
		if e.chunk.DocumentId == documentId {
			out = append(out, e.chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
