package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/internal/rag/embedding"
	"github.com/akolanti/kbchat/internal/rag/vectorDB"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

// PassageKind separates retrieved document text from text the caller supplied directly.
type PassageKind string

const (
	KindDocument PassageKind = "document"
	KindContext  PassageKind = "context"
)

type Passage struct {
	DocumentId string      `json:"document_id,omitempty"`
	Title      string      `json:"title"`
	Text       string      `json:"text"`
	Score      float32     `json:"score"`
	Kind       PassageKind `json:"kind"`
}

// ContextBundle is what the model gets to read. NoRelevant marks the terminal "nothing found" answer.
type ContextBundle struct {
	ContextText string    `json:"context"`
	References  []string  `json:"references"`
	Passages    []Passage `json:"passages"`
	NoRelevant  bool      `json:"no_relevant"`
}

type DocumentCatalog interface {
	FilterActiveDocumentIDs(ctx context.Context, ids []string) ([]string, error)
	DocumentTitles(ctx context.Context, ids []string) (map[string]string, error)
}

type Options struct {
	Threshold        float32
	MaxResults       int
	ContextCharLimit int
}

type Engine struct {
	embedder embedding.Embedder
	index    vectorDB.ChunkIndex
	catalog  DocumentCatalog
	options  Options
	logger   *logger_i.Logger
}

func NewEngine(embedder embedding.Embedder, index vectorDB.ChunkIndex, catalog DocumentCatalog, options Options) *Engine {
	// zero is a valid threshold that keeps every hit
	if options.Threshold < 0 || options.Threshold > 1 {
		options.Threshold = config.DefaultSimilarityThreshold
	}
	if options.MaxResults <= 0 {
		options.MaxResults = config.DefaultMaxResults
	}
	if options.ContextCharLimit <= 0 {
		options.ContextCharLimit = config.DefaultContextCharLimit
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		catalog:  catalog,
		options:  options,
		logger:   logger_i.NewLogger("Retrieval"),
	}
}

// Retrieve searches only inside scope. An empty scope, or one with no active documents left,
// is answered with the no-relevant-documents bundle without calling the embedder.
func (e *Engine) Retrieve(ctx context.Context, question string, scope []string, language string) (ContextBundle, error) {
	log := e.logger.WithTrace(ctx)

	allowed, err := e.catalog.FilterActiveDocumentIDs(ctx, utils.Dedupe(scope))
	if err != nil {
		return ContextBundle{}, fmt.Errorf("resolve active documents: %w", err)
	}
	if len(allowed) == 0 || strings.TrimSpace(question) == "" {
		log.Debug("nothing to search", "scope", len(scope))
		return NoRelevantBundle(language), nil
	}

	start := time.Now()
	vector, err := e.embedder.GetEmbedding(ctx, question)
	metrics.CaptureExecutionMetrics("query_embedding", time.Since(start))
	if err != nil {
		return ContextBundle{}, err
	}

	hits, err := e.index.Search(ctx, vector, vectorDB.SearchFilter{
		DocumentIds: allowed,
		Threshold:   e.options.Threshold,
		Limit:       e.options.MaxResults,
	})
	if err != nil {
		return ContextBundle{}, fmt.Errorf("similarity search: %w", err)
	}

	// the index filters too, but a stale payload must not leak a deactivated document
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = struct{}{}
	}
	var docIds []string
	var kept []Passage
	for _, hit := range hits {
		if _, ok := allowedSet[hit.DocumentId]; !ok || hit.Score < e.options.Threshold {
			continue
		}
		kept = append(kept, Passage{DocumentId: hit.DocumentId, Text: hit.Text, Score: hit.Score, Kind: KindDocument})
		docIds = append(docIds, hit.DocumentId)
	}
	log.Debug("search finished", "hits", len(hits), "kept", len(kept))
	if len(kept) == 0 {
		return NoRelevantBundle(language), nil
	}

	titles, err := e.catalog.DocumentTitles(ctx, utils.Dedupe(docIds))
	if err != nil {
		return ContextBundle{}, fmt.Errorf("document titles: %w", err)
	}
	for i := range kept {
		kept[i].Title = titles[kept[i].DocumentId]
		if kept[i].Title == "" {
			kept[i].Title = "Untitled document"
		}
	}
	return e.BuildBundle(kept, language), nil
}

// BuildBundle renders passages as titled sections, stopping at the context size limit.
// Passages of kind context are used but never cited.
func (e *Engine) BuildBundle(passages []Passage, language string) ContextBundle {
	if len(passages) == 0 {
		return NoRelevantBundle(language)
	}

	var b strings.Builder
	var refs []string
	var used []Passage
	size := 0
	for _, p := range passages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		section := fmt.Sprintf("## %s\n%s\n\n", p.Title, text)
		n := utf8.RuneCountInString(section)
		if size+n > e.options.ContextCharLimit {
			if size > 0 {
				break
			}
			// a single oversized passage is truncated rather than dropped
			section = string([]rune(section)[:e.options.ContextCharLimit])
			n = e.options.ContextCharLimit
		}
		b.WriteString(section)
		size += n
		used = append(used, p)
		if p.Kind != KindContext {
			refs = append(refs, p.Title)
		}
	}
	if len(used) == 0 {
		return NoRelevantBundle(language)
	}
	return ContextBundle{
		ContextText: strings.TrimSpace(b.String()),
		References:  utils.Dedupe(refs),
		Passages:    used,
	}
}

var noRelevantText = map[string]string{
	"en": "No relevant documents were found for this question.",
	"es": "No se encontraron documentos relevantes para esta pregunta.",
	"fr": "Aucun document pertinent n'a été trouvé pour cette question.",
	"de": "Für diese Frage wurden keine relevanten Dokumente gefunden.",
	"pt": "Nenhum documento relevante foi encontrado para esta pergunta.",
}

func NoRelevantText(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if text, ok := noRelevantText[lang]; ok {
		return text
	}
	return noRelevantText["en"]
}

func NoRelevantBundle(language string) ContextBundle {
	return ContextBundle{ContextText: NoRelevantText(language), NoRelevant: true}
}
