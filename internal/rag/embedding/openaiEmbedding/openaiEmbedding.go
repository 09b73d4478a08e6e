package openaiEmbedding

import (
	"context"
	"fmt"
	"time"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/customHttpClient"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/internal/rag/embedding"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type embeddingsCaller interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

type client struct {
	embeddings embeddingsCaller
	model      string
	dimension  int64
	logger     *logger_i.Logger
}

// NewOpenAIEmbedder also serves OpenAI-compatible endpoints through OPENAI_BASE_URL.
func NewOpenAIEmbedder(settings *config.Settings) embedding.Embedder {
	opts := []option.RequestOption{
		option.WithAPIKey(settings.OpenAIAPIKey),
		option.WithHTTPClient(customHttpClient.GetClient()),
	}
	if settings.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.OpenAIBaseURL))
	}
	c := openai.NewClient(opts...)
	return &client{
		embeddings: &c.Embeddings,
		model:      settings.EmbeddingModel,
		dimension:  int64(settings.EmbeddingDimensions),
		logger:     logger_i.NewLogger("openai_embedding"),
	}
}

func (c *client) GetEmbedding(ctx context.Context, query string) ([]float32, error) {
	res, err := c.BatchEmbedding(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (c *client) BatchEmbedding(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	log := c.logger.WithTrace(ctx)
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("embedding", time.Since(start)) }()

	res, err := c.embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: chunks},
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: openai.Int(c.dimension),
	})
	if err != nil {
		log.Error("Error getting Embeddings from OpenAI", "error", err)
		return nil, fmt.Errorf("%w: %v", commonModels.ErrEmbeddingService, err)
	}
	if len(res.Data) != len(chunks) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", commonModels.ErrEmbeddingService, len(chunks), len(res.Data))
	}

	// the API reports an index per item, do not trust response order
	out := make([][]float32, len(chunks))
	for _, item := range res.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(out) || len(item.Embedding) == 0 {
			return nil, fmt.Errorf("%w: bad embedding at index %d", commonModels.ErrEmbeddingService, idx)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding at index %d", commonModels.ErrEmbeddingService, i)
		}
	}
	return out, nil
}
