package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"readstash-backend/internal/store"
	"readstash-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps known strings to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

func seedDoc(t *testing.T, st store.Store, url string, createdAt time.Time, chunks ...models.Chunk) string {
	t.Helper()
	doc := &models.Document{
		DocumentID: models.DocumentIDFromURL(url),
		Category:   models.CategoryWebpage,
		URL:        url,
		CreatedAt:  createdAt,
		Metadata:   models.NewWebpageMetadata(models.WebpageMetadata{Title: url}),
	}
	for i := range chunks {
		chunks[i].Index = i
	}
	require.NoError(t, st.Upsert(context.Background(), doc, chunks))
	return doc.DocumentID
}

func TestRescale(t *testing.T) {
	assert.Equal(t, 0.0, Rescale(-1))
	assert.Equal(t, 0.5, Rescale(0))
	assert.Equal(t, 1.0, Rescale(1))
	assert.Equal(t, 0.0, Rescale(-1.5))
	assert.Equal(t, 1.0, Rescale(1.5))

	// Monotonic: s1 > s2 implies r1 > r2 on the open interval.
	assert.Greater(t, Rescale(0.8), Rescale(0.2))
	assert.Greater(t, Rescale(-0.1), Rescale(-0.9))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestValidation(t *testing.T) {
	e := New(store.NewMemory(), &fakeEmbedder{})
	ctx := context.Background()

	_, err := e.Search(ctx, Request{Count: 0})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.Search(ctx, Request{Count: 10, Offset: -1})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.Search(ctx, Request{Count: 10, VectorSearch: "a", VectorSearchDocument: "b"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.Search(ctx, Request{Count: 10, Categories: []string{"podcast"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestChronologicalPagination(t *testing.T) {
	st := store.NewMemory()
	e := New(st, &fakeEmbedder{})
	ctx := context.Background()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id1 := seedDoc(t, st, "https://example.com/1", t1)
	id2 := seedDoc(t, st, "https://example.com/2", t1.Add(time.Hour))
	id3 := seedDoc(t, st, "https://example.com/3", t1.Add(2*time.Hour))

	page, err := e.Search(ctx, Request{Unread: true, Desc: true, Offset: 0, Count: 2})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, id3, page.Documents[0].DocumentID)
	assert.Equal(t, id2, page.Documents[1].DocumentID)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, 2, *page.NextCursor)

	page, err = e.Search(ctx, Request{Unread: true, Desc: true, Offset: *page.NextCursor, Count: 2})
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, id1, page.Documents[0].DocumentID)
	assert.Nil(t, page.NextCursor)

	// Ascending when desc is false.
	page, err = e.Search(ctx, Request{Offset: 0, Count: 3})
	require.NoError(t, err)
	require.Len(t, page.Documents, 3)
	assert.Equal(t, id1, page.Documents[0].DocumentID)
}

func TestPaginationExhaustive(t *testing.T) {
	st := store.NewMemory()
	e := New(st, &fakeEmbedder{})
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := 7
	for i := 0; i < total; i++ {
		seedDoc(t, st, fmt.Sprintf("https://example.com/p%d", i), base.Add(time.Duration(i)*time.Minute))
	}

	seen := map[string]int{}
	offset := 0
	for {
		page, err := e.Search(ctx, Request{Desc: true, Offset: offset, Count: 3})
		require.NoError(t, err)
		for _, doc := range page.Documents {
			seen[doc.DocumentID]++
		}
		if page.NextCursor == nil {
			break
		}
		offset = *page.NextCursor
	}

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "document %s returned %d times", id, n)
	}
}

func TestVectorSearchMaxChunkPolicy(t *testing.T) {
	st := store.NewMemory()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0, 0},
	}}
	e := New(st, embedder)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Best chunk of docA is a perfect match even though its first chunk
	// is orthogonal; the document score is the max over chunks.
	idA := seedDoc(t, st, "https://example.com/a", base,
		models.Chunk{Text: "off.", Vector: []float32{0, 1, 0}},
		models.Chunk{Text: "hit.", Vector: []float32{1, 0, 0}},
	)
	idB := seedDoc(t, st, "https://example.com/b", base,
		models.Chunk{Text: "close.", Vector: []float32{1, 1, 0}},
	)

	page, err := e.Search(ctx, Request{VectorSearch: "query", Offset: 0, Count: 10})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, idA, page.Documents[0].DocumentID)
	assert.Equal(t, idB, page.Documents[1].DocumentID)

	require.NotNil(t, page.Documents[0].Score)
	assert.InDelta(t, 1.0, *page.Documents[0].Score, 1e-9)
	for _, doc := range page.Documents {
		require.NotNil(t, doc.Score)
		assert.GreaterOrEqual(t, *doc.Score, 0.0)
		assert.LessOrEqual(t, *doc.Score, 1.0)
	}
}

func TestVectorSearchTieBreaks(t *testing.T) {
	st := store.NewMemory()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0, 0},
	}}
	e := New(st, embedder)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Same best similarity; earlier best-chunk index wins.
	early := seedDoc(t, st, "https://example.com/early", base,
		models.Chunk{Text: "hit.", Vector: []float32{1, 0, 0}},
	)
	late := seedDoc(t, st, "https://example.com/late", base.Add(time.Hour),
		models.Chunk{Text: "off.", Vector: []float32{0, 1, 0}},
		models.Chunk{Text: "hit.", Vector: []float32{1, 0, 0}},
	)

	page, err := e.Search(ctx, Request{VectorSearch: "query", Offset: 0, Count: 10})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, early, page.Documents[0].DocumentID)
	assert.Equal(t, late, page.Documents[1].DocumentID)
}

// shortlistStore narrows vector candidates to a fixed ranked list, the
// way an ANN index would, and records the limits it was asked for.
type shortlistStore struct {
	store.Store
	rankedIDs []string
	limits    []int
}

func (s *shortlistStore) VectorCandidates(_ context.Context, _ []float32, limit int) ([]string, error) {
	s.limits = append(s.limits, limit)
	if limit > len(s.rankedIDs) {
		limit = len(s.rankedIDs)
	}
	return s.rankedIDs[:limit], nil
}

func TestVectorSearchShortlistPagination(t *testing.T) {
	mem := store.NewMemory()
	st := &shortlistStore{Store: mem}
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0, 0},
	}}
	e := New(st, embedder)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := 5
	for i := 0; i < total; i++ {
		id := seedDoc(t, mem, fmt.Sprintf("https://example.com/s%d", i), base,
			models.Chunk{Text: "chunk.", Vector: []float32{1, float32(i) * 0.3, 0}},
		)
		st.rankedIDs = append(st.rankedIDs, id)
	}

	// The shortlist must reach one candidate past the page, or the engine
	// could never tell that a next cursor exists.
	page, err := e.Search(ctx, Request{VectorSearch: "query", Offset: 0, Count: 2})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, 2, *page.NextCursor)
	require.NotEmpty(t, st.limits)
	assert.Equal(t, 3, st.limits[0])

	seen := map[string]int{}
	offset := 0
	for {
		page, err := e.Search(ctx, Request{VectorSearch: "query", Offset: offset, Count: 2})
		require.NoError(t, err)
		for _, doc := range page.Documents {
			seen[doc.DocumentID]++
		}
		if page.NextCursor == nil {
			break
		}
		offset = *page.NextCursor
	}

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "document %s returned %d times", id, n)
	}
}

func TestVectorSearchDocument(t *testing.T) {
	st := store.NewMemory()
	e := New(st, &fakeEmbedder{})
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ref := seedDoc(t, st, "https://example.com/ref", base,
		models.Chunk{Text: "ref.", Vector: []float32{1, 0, 0}},
	)
	similar := seedDoc(t, st, "https://example.com/similar", base,
		models.Chunk{Text: "similar.", Vector: []float32{1, 0.1, 0}},
	)
	other := seedDoc(t, st, "https://example.com/other", base,
		models.Chunk{Text: "other.", Vector: []float32{0, 0, 1}},
	)

	page, err := e.Search(ctx, Request{VectorSearchDocument: ref, Offset: 0, Count: 10})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)

	// The reference document itself is excluded.
	for _, doc := range page.Documents {
		assert.NotEqual(t, ref, doc.DocumentID)
	}
	assert.Equal(t, similar, page.Documents[0].DocumentID)
	assert.Equal(t, other, page.Documents[1].DocumentID)
}

func TestVectorSearchDocumentUnknown(t *testing.T) {
	st := store.NewMemory()
	e := New(st, &fakeEmbedder{})

	_, err := e.Search(context.Background(), Request{VectorSearchDocument: "missing", Offset: 0, Count: 10})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVectorSearchDocumentWithoutVectors(t *testing.T) {
	st := store.NewMemory()
	e := New(st, &fakeEmbedder{})
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ref := seedDoc(t, st, "https://example.com/ref", base)
	seedDoc(t, st, "https://example.com/other", base,
		models.Chunk{Text: "other.", Vector: []float32{0, 0, 1}},
	)

	page, err := e.Search(ctx, Request{VectorSearchDocument: ref, Offset: 0, Count: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Documents)
	assert.Nil(t, page.NextCursor)
}
