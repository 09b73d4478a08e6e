package ingest

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/akolanti/kbchat/internal/rag/embedding"
)

const embeddingBatchSize = 100

// Separators ordered from "best" to "worst" for semantic meaning
var separators = []string{"\n\n", "\n", ". ", " "}

// SplitText cuts text into chunks of at most limit runes. Each chunk after the first starts
// with up to overlap runes taken from the end of the previous one. Same input, same boundaries.
func SplitText(text string, limit int, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" || limit <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= limit {
		overlap = 0
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	return mergePieces(splitRecursive(text, limit, separators), limit, overlap)
}

// splitRecursive keeps the separator on each piece so concatenating the pieces yields text again.
func splitRecursive(text string, limit int, seps []string) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	for i, sep := range seps {
		if !strings.Contains(text, sep) {
			continue
		}
		parts := strings.SplitAfter(text, sep)
		var pieces []string
		for _, part := range parts {
			if part == "" {
				continue
			}
			if utf8.RuneCountInString(part) > limit {
				pieces = append(pieces, splitRecursive(part, limit, seps[i+1:])...)
				continue
			}
			pieces = append(pieces, part)
		}
		return pieces
	}

	return hardCut(text, limit)
}

func hardCut(text string, limit int) []string {
	runes := []rune(text)
	var pieces []string
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

func mergePieces(pieces []string, limit int, overlap int) []string {
	var chunks []string
	var current strings.Builder
	currentLen := 0

	emit := func() {
		if c := strings.TrimSpace(current.String()); c != "" {
			chunks = append(chunks, c)
		}
	}

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		if currentLen > 0 && currentLen+pieceLen > limit {
			emit()
			carry := overlapTail(current.String(), overlap)
			current.Reset()
			currentLen = 0
			if carry != "" && utf8.RuneCountInString(carry)+pieceLen <= limit {
				current.WriteString(carry)
				currentLen = utf8.RuneCountInString(carry)
			}
		}
		current.WriteString(piece)
		currentLen += pieceLen
	}
	emit()
	return chunks
}

// overlapTail returns the last n runes of s, starting on a word boundary when one exists.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return ""
	}
	tail := string(runes[len(runes)-n:])
	if idx := strings.IndexByte(tail, ' '); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return tail
}

// PrepareChunks splits every page and stamps the document's owner flags onto each chunk.
func PrepareChunks(pages []rawPage, doc commonModels.Document, limit int, overlap int, embeddingModel string) []commonModels.DocChunk {
	var allChunks []commonModels.DocChunk
	order := 0
	for _, page := range pages {
		for _, text := range SplitText(page.Content, limit, overlap) {
			allChunks = append(allChunks, commonModels.DocChunk{
				ChunkId:            utils.GetNewUUID(),
				DocumentId:         doc.Id,
				Text:               text,
				Order:              order,
				PageNum:            page.Number,
				OwnerId:            doc.OwnerId,
				Active:             doc.Active,
				IsKnowledgeBaseDoc: doc.IsKnowledgeBaseDoc,
				EmbeddingModel:     embeddingModel,
			})
			order++
		}
	}
	return allChunks
}

// embedInBatches returns one vector per chunk, in order. Any gap aborts the whole run.
func embedInBatches(ctx context.Context, chunks []commonModels.DocChunk, embedder embedding.Embedder) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return EmbedTexts(ctx, embedder, texts)
}

// EmbedTexts embeds texts at most embeddingBatchSize per upstream call and returns one
// vector per text, in order.
func EmbedTexts(ctx context.Context, embedder embedding.Embedder, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := min(i+embeddingBatchSize, len(texts))
		batch, err := embedder.BatchEmbedding(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d failed: %w", i/embeddingBatchSize, err)
		}
		if len(batch) != end-i {
			return nil, fmt.Errorf("%w: got %d vectors for %d chunks", commonModels.ErrEmbeddingService, len(batch), end-i)
		}
		for j, v := range batch {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector for chunk %d", commonModels.ErrEmbeddingService, i+j)
			}
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}
