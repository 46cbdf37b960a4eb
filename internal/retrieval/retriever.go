// Package retrieval finds document chunks relevant to a chat query.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/internal/store"
)

// Embedder turns a query into a vector and reports the input tokens billed.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, int, error)
	Model() string
}

// Result is the outcome of one retrieval pass: ranked sources plus the
// embedding token count for the spending ledger.
type Result struct {
	Sources         []model.Source
	EmbeddingTokens int
	EmbeddingModel  string
}

// Retriever ranks indexed chunks by cosine similarity to the query embedding.
type Retriever struct {
	store    store.Store
	embedder Embedder
	limit    int
}

// NewRetriever creates a retriever returning at most limit sources.
func NewRetriever(st store.Store, embedder Embedder, limit int) *Retriever {
	if limit <= 0 {
		limit = 5
	}
	return &Retriever{store: st, embedder: embedder, limit: limit}
}

const excerptLength = 200

// Search embeds the query and returns the best-matching chunks, optionally
// restricted to a selected document set.
func (r *Retriever) Search(ctx context.Context, query string, docIDs []string) (*Result, error) {
	vector, tokens, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := r.store.ListChunks(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk index: %w", err)
	}

	type scored struct {
		chunk store.Chunk
		score float64
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		ranked = append(ranked, scored{chunk: c, score: cosineSimilarity(vector, c.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > r.limit {
		ranked = ranked[:r.limit]
	}

	sources := make([]model.Source, 0, len(ranked))
	for _, s := range ranked {
		excerpt := truncateExcerpt(s.chunk.Content, excerptLength)
		sources = append(sources, model.Source{
			ID:             s.chunk.DocID,
			Title:          s.chunk.Title,
			Slug:           s.chunk.Slug,
			Type:           s.chunk.DocType,
			ChunkIndex:     s.chunk.ChunkIndex,
			RelevanceScore: s.score,
			Content:        s.chunk.Content,
			Excerpt:        excerpt,
		})
	}

	return &Result{
		Sources:         sources,
		EmbeddingTokens: tokens,
		EmbeddingModel:  r.embedder.Model(),
	}, nil
}

// truncateExcerpt caps s at max bytes without splitting a multi-byte rune.
func truncateExcerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
