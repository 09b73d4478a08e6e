package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/domain/jobModel"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/internal/rag/embedding"
	"github.com/akolanti/kbchat/internal/rag/vectorDB"
	"github.com/akolanti/kbchat/internal/sequence"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

type DocumentRepository interface {
	TitleExists(ctx context.Context, ownerId string, title string) (bool, error)
	InsertDocument(ctx context.Context, doc commonModels.Document) error
	DeleteDocumentCascade(ctx context.Context, documentId string) error
}

type KnowledgeBaseLinker interface {
	AddDocumentToKnowledgeBase(ctx context.Context, knowledgeBaseId string, documentId string) error
	RemoveDocumentFromKnowledgeBase(ctx context.Context, knowledgeBaseId string, documentId string) error
}

type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	EmbeddingModel string
}

type Upload struct {
	Path            string
	Ext             string
	Title           string
	OwnerId         string
	KnowledgeBaseId string
	SourceURL       string
	OnStep          func(step jobModel.InternalStatus)
}

type Result struct {
	Success    bool   `json:"success"`
	DocumentId string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}

type Pipeline struct {
	documents DocumentRepository
	kbLinker  KnowledgeBaseLinker
	index     vectorDB.ChunkIndex
	embedder  embedding.Embedder
	options   Options
	logger    *logger_i.Logger
}

func NewPipeline(documents DocumentRepository, kbLinker KnowledgeBaseLinker, index vectorDB.ChunkIndex, embedder embedding.Embedder, options Options) *Pipeline {
	return &Pipeline{
		documents: documents,
		kbLinker:  kbLinker,
		index:     index,
		embedder:  embedder,
		options:   options,
		logger:    logger_i.NewLogger("Document Ingestion"),
	}
}

// UploadAndProcess extracts, chunks and embeds the file, then writes the document row before its chunks.
// Nothing is written unless extraction and embedding both succeeded.
func (p *Pipeline) UploadAndProcess(ctx context.Context, upload Upload) (Result, error) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("ingestion", time.Since(start)) }()

	log := p.logger.WithTrace(ctx).With("owner", upload.OwnerId, "title", upload.Title)
	step := func(s jobModel.InternalStatus) {
		log.Debug("ingestion step", "step", s)
		if upload.OnStep != nil {
			upload.OnStep(s)
		}
	}

	if upload.OwnerId == "" {
		return Result{}, commonModels.ErrUnauthorized
	}
	upload.Title = strings.TrimSpace(upload.Title)
	if upload.Title == "" || upload.Path == "" {
		return Result{}, fmt.Errorf("%w: title and file are required", commonModels.ErrExtractionFailed)
	}

	docType := getDocType(upload.Ext)
	if docType == commonModels.ERR {
		return Result{}, fmt.Errorf("%w: %s", commonModels.ErrUnsupportedFileType, upload.Ext)
	}

	// the store allows several inactive rows with one title, so this check is the gate
	exists, err := p.documents.TitleExists(ctx, upload.OwnerId, upload.Title)
	if err != nil {
		return Result{}, fmt.Errorf("duplicate title check: %w", err)
	}
	if exists {
		return Result{}, commonModels.ErrDuplicateTitle
	}

	step(jobModel.IngestExtracting)
	pages, err := extractPages(upload.Path, docType)
	if err != nil {
		log.Error("extraction failed", "error", err)
		return Result{}, err
	}

	doc := commonModels.Document{
		Id:                 utils.GetNewUUID(),
		Title:              upload.Title,
		OwnerId:            upload.OwnerId,
		KnowledgeBaseId:    upload.KnowledgeBaseId,
		Active:             true,
		IsKnowledgeBaseDoc: upload.KnowledgeBaseId != "",
		SourceURL:          upload.SourceURL,
		ContentType:        docType,
		CreatedAt:          time.Now().UTC(),
	}

	step(jobModel.IngestChunking)
	chunks := PrepareChunks(pages, doc, p.options.ChunkSize, p.options.ChunkOverlap, p.options.EmbeddingModel)
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("%w: document produced no chunks", commonModels.ErrExtractionFailed)
	}
	log.Debug("document chunked", "pages", len(pages), "chunks", len(chunks))

	step(jobModel.IngestEmbedding)
	embedStart := time.Now()
	vectors, err := embedInBatches(ctx, chunks, p.embedder)
	metrics.CaptureExecutionMetrics("embedding", time.Since(embedStart))
	if err != nil {
		log.Error("embedding failed", "error", err)
		if !errors.Is(err, commonModels.ErrEmbeddingService) {
			err = fmt.Errorf("%w: %v", commonModels.ErrEmbeddingService, err)
		}
		return Result{}, err
	}

	step(jobModel.IngestStoring)
	steps := []sequence.Step{
		{
			Name: "insert_document",
			Do:   func(ctx context.Context) error { return p.documents.InsertDocument(ctx, doc) },
			Compensate: func(ctx context.Context) error {
				return p.documents.DeleteDocumentCascade(ctx, doc.Id)
			},
		},
		{
			Name: "insert_chunks",
			Do: func(ctx context.Context) error {
				err := p.index.UpsertChunks(ctx, chunks, vectors)
				if err != nil {
					// a failed batch may have written some points already
					if delErr := p.index.DeleteDocument(context.Background(), doc.Id); delErr != nil {
						log.Error("could not remove partial chunks", "error", delErr)
					}
				}
				return err
			},
			Compensate: func(ctx context.Context) error {
				return p.index.DeleteDocument(ctx, doc.Id)
			},
		},
	}
	if doc.KnowledgeBaseId != "" && p.kbLinker != nil {
		steps = append(steps, sequence.Step{
			Name: "link_knowledge_base",
			Do: func(ctx context.Context) error {
				step(jobModel.IngestLinking)
				return p.kbLinker.AddDocumentToKnowledgeBase(ctx, doc.KnowledgeBaseId, doc.Id)
			},
			Compensate: func(ctx context.Context) error {
				return p.kbLinker.RemoveDocumentFromKnowledgeBase(ctx, doc.KnowledgeBaseId, doc.Id)
			},
		})
	}

	if _, err := sequence.New(log, steps...).Run(ctx); err != nil {
		return Result{}, err
	}

	log.Info("document ingested", "documentId", doc.Id, "chunks", len(chunks))
	return Result{Success: true, DocumentId: doc.Id, ChunkCount: len(chunks)}, nil
}

// ProcessDocumentIngestion runs an ingestion job and records the outcome on it.
func (p *Pipeline) ProcessDocumentIngestion(ctx context.Context, job jobModel.Job) jobModel.Job {
	payload := job.JobPayload
	result, err := p.UploadAndProcess(ctx, Upload{
		Path:            payload.FilePath,
		Ext:             payload.FileExt,
		Title:           payload.Title,
		OwnerId:         payload.OwnerId,
		KnowledgeBaseId: payload.KnowledgeBaseId,
		SourceURL:       payload.FilePath,
		OnStep:          func(s jobModel.InternalStatus) { job.CurrentStep = s },
	})
	if err != nil {
		// a failed upload is never retried from disk, the uploader sends the file again
		if rmErr := os.Remove(payload.FilePath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			p.logger.WithTrace(ctx).Warn("could not remove upload", "path", payload.FilePath, "error", rmErr)
		}
		return job.Fail(IngestionError(err))
	}

	job.JobPayload.DocumentId = result.DocumentId
	job.JobPayload.ChunkCount = result.ChunkCount
	job.Status = jobModel.JobStatusComplete
	job.CurrentStep = jobModel.Complete
	return job
}

// IngestionError maps a pipeline failure onto the specific reason shown to the uploader.
func IngestionError(err error) jobModel.JobError {
	switch {
	case errors.Is(err, commonModels.ErrUnsupportedFileType):
		return jobModel.JobError{Code: 415, Message: "Unsupported file type"}
	case errors.Is(err, commonModels.ErrDuplicateTitle):
		return jobModel.JobError{Code: 409, Message: "A document with this title already exists"}
	case errors.Is(err, commonModels.ErrUnauthorized):
		return jobModel.JobError{Code: 401, Message: "Unauthorized"}
	case errors.Is(err, commonModels.ErrExtractionFailed):
		return jobModel.JobError{Code: 422, Message: "Could not read text from the file"}
	case errors.Is(err, commonModels.ErrEmbeddingService):
		return jobModel.JobError{Code: 502, Message: "Document processing failed, please upload again", Retry: true}
	default:
		return jobModel.JobError{Code: 500, Message: "Document processing failed", Retry: true}
	}
}
