package qdrantDB

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/internal/rag/vectorDB"
	"github.com/akolanti/kbchat/pkg/logger_i"
	"github.com/qdrant/go-client/qdrant"
)

// payload keys
const (
	fieldDocumentId = "document_id"
	fieldOwnerId    = "owner_id"
	fieldActive     = "active"
	fieldIsKbDoc    = "is_kb_doc"
	fieldContent    = "content"
	fieldPageNum    = "page_num"
	fieldChunkOrder = "chunk_order"
	fieldModel      = "embedding_model"
)

var logger *logger_i.Logger
var quadrantInstance *qdrant.Client
var once sync.Once

type ClientHolder struct {
	QObj       *qdrant.Client
	collection string
	dimension  uint64
}

// GetQuadrantClient connects once and makes sure the chunk collection exists. Returns nil when qdrant is unreachable.
func GetQuadrantClient(ctx context.Context, settings *config.Settings) *ClientHolder {
	once.Do(func() {
		logger = logger_i.NewLogger("Qdrant")
		res := newClient(settings)
		if res != nil {
			quadrantInstance = res
			go closeQdrant(ctx, quadrantInstance)
		}
	})

	if quadrantInstance == nil {
		return nil
	}
	holder := &ClientHolder{
		QObj:       quadrantInstance,
		collection: config.ChunkCollectionName,
		dimension:  uint64(settings.EmbeddingDimensions),
	}
	if err := holder.EnsureCollection(ctx); err != nil {
		logger.Error("could not prepare collection", "collectionName", holder.collection, "error", err)
		return nil
	}
	return holder
}

func newClient(settings *config.Settings) *qdrant.Client {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:     settings.QdrantHost,
		Port:     settings.QdrantPort,
		UseTLS:   config.QdrantUseTLS,
		PoolSize: uint(config.QdrantPoolSize),
	})
	if err != nil {
		logger.Error("could not instantiate", "error", err)
		return nil
	}
	return client
}

func closeQdrant(ctx context.Context, qi *qdrant.Client) {
	<-ctx.Done()
	logger.Info("Shutting down Qdrant")
	if err := qi.Close(); err != nil {
		logger.Error("could not close Qdrant", "error", err)
	}
	logger.Info("Closed Qdrant")
}

// EnsureCollection creates the collection and the payload indexes every search filters on.
func (db *ClientHolder) EnsureCollection(ctx context.Context) error {
	if db.collection == "" {
		return errors.New("empty collection name")
	}

	exists, err := db.QObj.CollectionExists(ctx, db.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = db.QObj.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: db.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     db.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	indexes := map[string]qdrant.FieldType{
		fieldDocumentId: qdrant.FieldType_FieldTypeKeyword,
		fieldOwnerId:    qdrant.FieldType_FieldTypeKeyword,
		fieldActive:     qdrant.FieldType_FieldTypeBool,
	}
	for field, fieldType := range indexes {
		_, err := db.QObj.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: db.collection,
			FieldName:      field,
			FieldType:      qdrant.PtrOf(fieldType),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("create %s index: %w", field, err)
		}
	}
	logger.Info("Created collection", "collectionName", db.collection, "dimension", db.dimension)
	return nil
}

func (db *ClientHolder) UpsertChunks(ctx context.Context, chunks []commonModels.DocChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("mismatch: got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(chunk.ChunkId),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				fieldDocumentId: chunk.DocumentId,
				fieldOwnerId:    chunk.OwnerId,
				fieldActive:     chunk.Active,
				fieldIsKbDoc:    chunk.IsKnowledgeBaseDoc,
				fieldContent:    chunk.Text,
				fieldPageNum:    chunk.PageNum,
				fieldChunkOrder: chunk.Order,
				fieldModel:      chunk.EmbeddingModel,
			}),
		}
	}

	_, err := db.QObj.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: db.collection,
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

// Search runs a payload-filtered query. The filter always pins active=true and the allowed document ids.
func (db *ClientHolder) Search(ctx context.Context, vector []float32, filter vectorDB.SearchFilter) ([]commonModels.ScoredChunk, error) {
	if len(filter.DocumentIds) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("vector_search", time.Since(start)) }()

	limit := filter.Limit
	if limit <= 0 {
		limit = config.DefaultMaxResults
	}

	result, err := db.QObj.Query(ctx, &qdrant.QueryPoints{
		CollectionName: db.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         documentFilter(filter.DocumentIds, true),
		ScoreThreshold: qdrant.PtrOf(filter.Threshold),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		logger.WithTrace(ctx).Error("Error querying Qdrant", "error", err)
		return nil, err
	}

	matches := make([]commonModels.ScoredChunk, 0, len(result))
	for _, hit := range result {
		matches = append(matches, commonModels.ScoredChunk{
			ChunkId:    hit.GetId().GetUuid(),
			DocumentId: hit.Payload[fieldDocumentId].GetStringValue(),
			Text:       hit.Payload[fieldContent].GetStringValue(),
			Score:      hit.GetScore(),
		})
	}
	logger.WithTrace(ctx).Debug("Found matches", "count", len(matches))
	return matches, nil
}

func (db *ClientHolder) SetDocumentActive(ctx context.Context, documentId string, active bool) error {
	if err := db.setDocumentPayload(ctx, documentId, map[string]any{fieldActive: active}); err != nil {
		return fmt.Errorf("qdrant set active: %w", err)
	}
	return nil
}

func (db *ClientHolder) SetDocumentKnowledgeBase(ctx context.Context, documentId string, isKnowledgeBaseDoc bool) error {
	if err := db.setDocumentPayload(ctx, documentId, map[string]any{fieldIsKbDoc: isKnowledgeBaseDoc}); err != nil {
		return fmt.Errorf("qdrant set knowledge base flag: %w", err)
	}
	return nil
}

func (db *ClientHolder) setDocumentPayload(ctx context.Context, documentId string, payload map[string]any) error {
	_, err := db.QObj.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: db.collection,
		Wait:           qdrant.PtrOf(true),
		Payload:        qdrant.NewValueMap(payload),
		PointsSelector: qdrant.NewPointsSelectorFilter(documentFilter([]string{documentId}, false)),
	})
	return err
}

func (db *ClientHolder) DeleteDocument(ctx context.Context, documentId string) error {
	_, err := db.QObj.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: db.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(documentFilter([]string{documentId}, false)),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func documentFilter(documentIds []string, activeOnly bool) *qdrant.Filter {
	conditions := []*qdrant.Condition{qdrant.NewMatchKeywords(fieldDocumentId, documentIds...)}
	if activeOnly {
		conditions = append(conditions, qdrant.NewMatchBool(fieldActive, true))
	}
	return &qdrant.Filter{Must: conditions}
}
