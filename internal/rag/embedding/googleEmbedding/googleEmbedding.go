package googleEmbedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/customHttpClient"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/internal/rag/embedding"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	taskDocument = "RETRIEVAL_DOCUMENT"
	taskQuery    = "RETRIEVAL_QUERY"
)

var logger *logger_i.Logger
var once sync.Once
var embeddingClient *client

// retryDelay is a var so tests can shorten it
var retryDelay = 5 * time.Second

type embedCaller interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type client struct {
	models    embedCaller
	model     string
	dimension int32
}

func newGoogleEmbedder(ctx context.Context, settings *config.Settings) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     settings.GoogleAPIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: customHttpClient.GetClient(),
	})
	if err != nil {
		logger.Error("Error creating Google Embedding client", "error", err)
		return
	}
	embeddingClient = &client{
		models:    c.Models,
		model:     settings.EmbeddingModel,
		dimension: settings.EmbeddingDimensions,
	}
	logger.Info("Google Embedding client created", "model", settings.EmbeddingModel)
}

// GetGoogleEmbeddingClient returns nil when the client could not be built.
func GetGoogleEmbeddingClient(ctx context.Context, settings *config.Settings) embedding.Embedder {
	once.Do(func() {
		logger = logger_i.NewLogger("google_embedding")
		newGoogleEmbedder(ctx, settings)
	})

	if embeddingClient == nil {
		return nil
	}
	return &client{models: embeddingClient.models, model: embeddingClient.model, dimension: embeddingClient.dimension}
}

// GetEmbedding embeds a question. Questions use the query task type so they line up with document vectors.
func (c *client) GetEmbedding(ctx context.Context, query string) ([]float32, error) {
	res, err := c.embed(ctx, []string{query}, taskQuery)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (c *client) BatchEmbedding(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	return c.embed(ctx, chunks, taskDocument)
}

func (c *client) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	log := logger.WithTrace(ctx)
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("embedding", time.Since(start)) }()

	res, err := c.doCall(ctx, texts, task)
	if err != nil && doRetry(err, log) {
		log.Debug("Retrying embedding call", "delay", retryDelay)
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", commonModels.ErrEmbeddingService, ctx.Err())
		}
		res, err = c.doCall(ctx, texts, task)
	}
	if err != nil {
		log.Error("Error getting Embeddings from Google", "error", err)
		return nil, fmt.Errorf("%w: %v", commonModels.ErrEmbeddingService, err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings", commonModels.ErrEmbeddingService, len(texts))
	}

	out := make([][]float32, 0, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at %d", commonModels.ErrEmbeddingService, i)
		}
		out = append(out, e.Values)
	}
	return out, nil
}

func (c *client) doCall(ctx context.Context, texts []string, task string) (*genai.EmbedContentResponse, error) {
	return c.models.EmbedContent(ctx, c.model, getContent(texts), &genai.EmbedContentConfig{
		OutputDimensionality: &c.dimension,
		TaskType:             task,
	})
}

func getContent(chunks []string) []*genai.Content {
	contentsToSend := make([]*genai.Content, 0, len(chunks))
	for _, chunk := range chunks {
		contentsToSend = append(contentsToSend, genai.NewContentFromText(chunk, genai.RoleUser))
	}
	return contentsToSend
}

// doRetry reports whether the failure was a rate limit worth one more attempt.
func doRetry(err error, log *logger_i.Logger) bool {
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		log.Warn("Rate limit hit", "error", err)
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		log.Warn("Rate limit hit", "error", err)
		return true
	}
	return false
}
