package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/akolanti/kbchat/internal/config"
)

type countingEmbedder struct {
	batches []int
}

func (c *countingEmbedder) GetEmbedding(ctx context.Context, query string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (c *countingEmbedder) BatchEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestPassages_LongPageIsBatchedAndCapped(t *testing.T) {
	var page strings.Builder
	for i := range 600 {
		fmt.Fprintf(&page, "Sentence %d %s. ", i, strings.Repeat("word ", 60))
	}
	embedder := &countingEmbedder{}
	reader := &pageReader{embedder: embedder, threshold: 0, maxResults: 5}

	passages, err := reader.passages(context.Background(), page.String(), "word")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(passages) != 5 {
		t.Errorf("got %d passages, want 5", len(passages))
	}
	total := 0
	for _, n := range embedder.batches {
		if n > 100 {
			t.Errorf("batch of %d texts exceeds the upstream limit", n)
		}
		total += n
	}
	if total != config.MaxPageSegments {
		t.Errorf("embedded %d segments, want %d", total, config.MaxPageSegments)
	}
}
