package googleEmbedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type mockModels struct {
	calls   int
	onEmbed func(call int, task string, contents []*genai.Content) (*genai.EmbedContentResponse, error)
}

func (m *mockModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	m.calls++
	return m.onEmbed(m.calls, cfg.TaskType, contents)
}

func vectors(n int) *genai.EmbedContentResponse {
	res := &genai.EmbedContentResponse{}
	for i := 0; i < n; i++ {
		res.Embeddings = append(res.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i + 1), 0}})
	}
	return res
}

func init() {
	logger = logger_i.NewLogger("google_embedding_test")
	retryDelay = time.Millisecond
}

func TestTaskTypes(t *testing.T) {
	var tasks []string
	m := &mockModels{onEmbed: func(call int, task string, contents []*genai.Content) (*genai.EmbedContentResponse, error) {
		tasks = append(tasks, task)
		return vectors(len(contents)), nil
	}}
	c := &client{models: m, model: "gemini-embedding-001", dimension: 2}

	if _, err := c.GetEmbedding(context.Background(), "question"); err != nil {
		t.Fatal(err)
	}
	got, err := c.BatchEmbedding(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(got))
	}
	if tasks[0] != taskQuery || tasks[1] != taskDocument {
		t.Errorf("unexpected task types %v", tasks)
	}
}

func TestRetryOnceOnResourceExhausted(t *testing.T) {
	m := &mockModels{onEmbed: func(call int, task string, contents []*genai.Content) (*genai.EmbedContentResponse, error) {
		if call == 1 {
			return nil, status.Error(codes.ResourceExhausted, "slow down")
		}
		return vectors(len(contents)), nil
	}}
	c := &client{models: m, model: "m", dimension: 2}

	if _, err := c.BatchEmbedding(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if m.calls != 2 {
		t.Errorf("expected 2 calls, got %d", m.calls)
	}
}

func TestFailuresAreEmbeddingServiceErrors(t *testing.T) {
	tests := []struct {
		name    string
		onEmbed func(call int, task string, contents []*genai.Content) (*genai.EmbedContentResponse, error)
		calls   int
	}{
		{
			name: "non retryable error",
			onEmbed: func(int, string, []*genai.Content) (*genai.EmbedContentResponse, error) {
				return nil, errors.New("bad request")
			},
			calls: 1,
		},
		{
			name: "count mismatch",
			onEmbed: func(int, string, []*genai.Content) (*genai.EmbedContentResponse, error) {
				return vectors(1), nil
			},
			calls: 1,
		},
		{
			name: "empty vector",
			onEmbed: func(int, string, []*genai.Content) (*genai.EmbedContentResponse, error) {
				return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{}, {Values: []float32{1}}}}, nil
			},
			calls: 1,
		},
		{
			name: "rate limited twice",
			onEmbed: func(int, string, []*genai.Content) (*genai.EmbedContentResponse, error) {
				return nil, genai.APIError{Code: 429, Message: "quota"}
			},
			calls: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockModels{onEmbed: tt.onEmbed}
			c := &client{models: m, model: "m", dimension: 2}
			_, err := c.BatchEmbedding(context.Background(), []string{"a", "b"})
			if !errors.Is(err, commonModels.ErrEmbeddingService) {
				t.Errorf("expected ErrEmbeddingService, got %v", err)
			}
			if m.calls != tt.calls {
				t.Errorf("expected %d calls, got %d", tt.calls, m.calls)
			}
		})
	}
}
