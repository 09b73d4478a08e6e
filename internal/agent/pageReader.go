package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/rag"
	"github.com/akolanti/kbchat/internal/rag/embedding"
	"github.com/akolanti/kbchat/internal/rag/ingest"
	"github.com/akolanti/kbchat/internal/rag/vectorDB"
)

const currentPageTitle = "Current page"

// pageReader ranks segments of the page the widget sent. Nothing here is stored.
type pageReader struct {
	embedder   embedding.Embedder
	threshold  float32
	maxResults int
}

// PageText strips markup from an HTML page. Plain text passes through normalized.
func PageText(page string) (string, error) {
	if !strings.Contains(page, "<") {
		return ingest.NormalizeText(page), nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	doc.Find("script, style, noscript, svg, nav, footer").Remove()
	root := doc.Find("main")
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	if root.Length() == 0 {
		root = doc.Selection
	}
	var parts []string
	root.Find("h1, h2, h3, h4, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return ingest.NormalizeText(root.Text()), nil
	}
	return ingest.NormalizeText(strings.Join(parts, "\n")), nil
}

func (r *pageReader) passages(ctx context.Context, page string, query string) ([]rag.Passage, error) {
	text, err := PageText(page)
	if err != nil {
		return nil, err
	}
	segments := ingest.SplitSentences(text, config.EmbeddingSentenceChunkSize)
	if len(segments) == 0 {
		return nil, nil
	}
	if r.embedder == nil || strings.TrimSpace(query) == "" {
		return firstSegments(segments, r.maxResults), nil
	}

	// only the top of a very long page is ranked
	if len(segments) > config.MaxPageSegments {
		segments = segments[:config.MaxPageSegments]
	}

	queryVector, err := r.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	vectors, err := ingest.EmbedTexts(ctx, r.embedder, segments)
	if err != nil {
		return nil, err
	}

	var scored []rag.Passage
	for i, v := range vectors {
		score := vectorDB.CosineSimilarity(queryVector, v)
		if score < r.threshold {
			continue
		}
		scored = append(scored, rag.Passage{Title: currentPageTitle, Text: segments[i], Score: score, Kind: rag.KindContext})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > r.maxResults {
		scored = scored[:r.maxResults]
	}
	return scored, nil
}

func firstSegments(segments []string, n int) []rag.Passage {
	if len(segments) > n {
		segments = segments[:n]
	}
	out := make([]rag.Passage, 0, len(segments))
	for _, s := range segments {
		out = append(out, rag.Passage{Title: currentPageTitle, Text: s, Kind: rag.KindContext})
	}
	return out
}
