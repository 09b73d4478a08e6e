package memoryDB

import (
	"context"
	"testing"

	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/rag/vectorDB"
)

func seed(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage(2)
	chunks := []commonModels.DocChunk{
		{ChunkId: "c1", DocumentId: "d1", Text: "exact", Active: true},
		{ChunkId: "c2", DocumentId: "d1", Text: "close", Active: true, Order: 1},
		{ChunkId: "c3", DocumentId: "d2", Text: "other doc", Active: true},
		{ChunkId: "c4", DocumentId: "d3", Text: "inactive", Active: false},
	}
	vectors := [][]float32{{1, 0}, {0.8, 0.6}, {1, 0}, {1, 0}}
	if err := s.UpsertChunks(context.Background(), chunks, vectors); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSearch_Filters(t *testing.T) {
	ctx := context.Background()
	query := []float32{1, 0}

	tests := []struct {
		name   string
		filter vectorDB.SearchFilter
		want   []string
	}{
		{"empty scope returns nothing", vectorDB.SearchFilter{Threshold: 0}, nil},
		{"scoped to one document", vectorDB.SearchFilter{DocumentIds: []string{"d1"}, Threshold: 0}, []string{"c1", "c2"}},
		{"threshold drops weak match", vectorDB.SearchFilter{DocumentIds: []string{"d1"}, Threshold: 0.9}, []string{"c1"}},
		{"inactive chunks never returned", vectorDB.SearchFilter{DocumentIds: []string{"d3"}}, nil},
		{"limit applies", vectorDB.SearchFilter{DocumentIds: []string{"d1", "d2"}, Limit: 1}, []string{"c1"}},
	}

	s := seed(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, query, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results %+v, want %v", len(got), got, tt.want)
			}
			for i := range got {
				if got[i].ChunkId != tt.want[i] {
					t.Errorf("result %d = %s, want %s", i, got[i].ChunkId, tt.want[i])
				}
			}
		})
	}
}

func TestSetActiveAndDelete(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	_ = s.SetDocumentActive(ctx, "d1", false)
	if got, _ := s.Search(ctx, []float32{1, 0}, vectorDB.SearchFilter{DocumentIds: []string{"d1"}}); len(got) != 0 {
		t.Errorf("deactivated document still searchable: %+v", got)
	}

	_ = s.DeleteDocument(ctx, "d2")
	if chunks := s.Chunks("d2"); len(chunks) != 0 {
		t.Errorf("expected no chunks after delete, got %d", len(chunks))
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	s := NewStorage(3)
	err := s.UpsertChunks(context.Background(), []commonModels.DocChunk{{ChunkId: "x"}}, [][]float32{{1, 2}})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestSetDocumentKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	_ = s.SetDocumentKnowledgeBase(ctx, "d1", true)
	for _, c := range s.Chunks("d1") {
		if !c.IsKnowledgeBaseDoc {
			t.Errorf("chunk %s not flagged", c.ChunkId)
		}
	}
	if s.Chunks("d2")[0].IsKnowledgeBaseDoc {
		t.Error("other document flagged")
	}

	_ = s.SetDocumentKnowledgeBase(ctx, "d1", false)
	for _, c := range s.Chunks("d1") {
		if c.IsKnowledgeBaseDoc {
			t.Errorf("chunk %s still flagged", c.ChunkId)
		}
	}
}
