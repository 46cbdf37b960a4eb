package retrieval

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/internal/store"
)

type stubEmbedder struct {
	vector []float32
	tokens int
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, int, error) {
	return s.vector, s.tokens, nil
}

func (s *stubEmbedder) Model() string { return "text-embedding-3-large" }

func seedChunks(t *testing.T, st *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	chunks := []store.Chunk{
		{ID: "ch1", DocID: "doc1", Title: "On Liberty", Slug: "on-liberty", DocType: model.SourceTypeBook, ChunkIndex: 0,
			Content: "The only freedom which deserves the name...", Embedding: []float32{1, 0, 0}},
		{ID: "ch2", DocID: "doc1", Title: "On Liberty", Slug: "on-liberty", DocType: model.SourceTypeBook, ChunkIndex: 1,
			Content: strings.Repeat("liberty and coercion ", 20), Embedding: []float32{0.9, 0.1, 0}},
		{ID: "ch3", DocID: "doc2", Title: "Leviathan", Slug: "leviathan", DocType: model.SourceTypeBook, ChunkIndex: 0,
			Content: "The condition of man is a condition of war...", Embedding: []float32{0, 1, 0}},
	}
	for i := range chunks {
		require.NoError(t, st.UpsertChunk(ctx, &chunks[i]))
	}
}

func newRetrievalStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	seedChunks(t, st)
	return st
}

func TestSearchRanksBySimilarity(t *testing.T) {
	st := newRetrievalStore(t)
	r := NewRetriever(st, &stubEmbedder{vector: []float32{1, 0, 0}, tokens: 7}, 2)

	result, err := r.Search(context.Background(), "what is freedom?", nil)
	require.NoError(t, err)

	assert.Equal(t, 7, result.EmbeddingTokens)
	assert.Equal(t, "text-embedding-3-large", result.EmbeddingModel)

	require.Len(t, result.Sources, 2, "ranked list is capped at the limit")
	assert.Equal(t, 0, result.Sources[0].ChunkIndex)
	assert.Equal(t, "on-liberty", result.Sources[0].Slug)
	assert.Greater(t, result.Sources[0].RelevanceScore, result.Sources[1].RelevanceScore)
}

func TestSearchRespectsDocumentSelection(t *testing.T) {
	st := newRetrievalStore(t)
	r := NewRetriever(st, &stubEmbedder{vector: []float32{0, 1, 0}}, 5)

	result, err := r.Search(context.Background(), "war of all against all", []string{"doc2"})
	require.NoError(t, err)

	require.Len(t, result.Sources, 1)
	assert.Equal(t, "leviathan", result.Sources[0].Slug)
}

func TestSearchTruncatesExcerpt(t *testing.T) {
	st := newRetrievalStore(t)
	r := NewRetriever(st, &stubEmbedder{vector: []float32{0.9, 0.1, 0}}, 1)

	result, err := r.Search(context.Background(), "liberty", nil)
	require.NoError(t, err)

	require.Len(t, result.Sources, 1)
	src := result.Sources[0]
	assert.LessOrEqual(t, len(src.Excerpt), 200)
	assert.Greater(t, len(src.Content), len(src.Excerpt), "full content is kept alongside the excerpt")
}

func TestTruncateExcerptKeepsRunesIntact(t *testing.T) {
	assert.Equal(t, "short", truncateExcerpt("short", 200))

	// "é" is two bytes; a byte-offset cut at 4 would land mid-rune.
	got := truncateExcerpt("libérté", 4)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "lib", got)

	long := strings.Repeat("ä", 150) // 300 bytes
	got = truncateExcerpt(long, 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 200, len(got))
}

func TestSearchExcerptIsValidUTF8(t *testing.T) {
	st := newRetrievalStore(t)
	require.NoError(t, st.UpsertChunk(context.Background(), &store.Chunk{
		ID: "ch4", DocID: "doc3", Title: "Über die Freiheit", Slug: "ueber-die-freiheit",
		DocType: model.SourceTypeBook, ChunkIndex: 0,
		Content:   strings.Repeat("ü", 300),
		Embedding: []float32{1, 0, 0},
	}))
	r := NewRetriever(st, &stubEmbedder{vector: []float32{1, 0, 0}}, 5)

	result, err := r.Search(context.Background(), "freiheit", []string{"doc3"})
	require.NoError(t, err)

	require.Len(t, result.Sources, 1)
	excerpt := result.Sources[0].Excerpt
	assert.True(t, utf8.ValidString(excerpt))
	assert.LessOrEqual(t, len(excerpt), 200)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}), "mismatched dimensions score zero")
	assert.Zero(t, cosineSimilarity(nil, nil))
}
