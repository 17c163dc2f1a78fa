package linkgraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"readstash-backend/internal/store"
	"readstash-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ingest(t *testing.T, st store.Store, m *Maintainer, url string, candidates ...string) string {
	t.Helper()
	doc := &models.Document{
		DocumentID: models.DocumentIDFromURL(url),
		Category:   models.CategoryWebpage,
		URL:        url,
		CreatedAt:  time.Now().UTC(),
		Metadata:   models.NewWebpageMetadata(models.WebpageMetadata{Title: url}),
	}
	require.NoError(t, st.Upsert(context.Background(), doc, nil))
	require.NoError(t, m.Sync(context.Background(), doc.DocumentID, candidates))
	return doc.DocumentID
}

func TestSyncSymmetry(t *testing.T) {
	st := store.NewMemory()
	m := New(st)
	ctx := context.Background()

	idB := ingest(t, st, m, "https://example.com/b")
	idA := ingest(t, st, m, "https://example.com/a", "https://example.com/b")

	a, err := st.Get(ctx, idA)
	require.NoError(t, err)
	require.Len(t, a.Links, 1)
	assert.Equal(t, idB, a.Links[0].DocumentID)

	b, err := st.Get(ctx, idB)
	require.NoError(t, err)
	require.Len(t, b.Backlinks, 1)
	assert.Equal(t, idA, b.Backlinks[0].DocumentID)
}

func TestSyncPromotesPendingEdges(t *testing.T) {
	st := store.NewMemory()
	m := New(st)
	ctx := context.Background()

	// A links to B before B exists: the edge lives only on A.
	idA := ingest(t, st, m, "https://example.com/a", "https://example.com/b")

	a, err := st.Get(ctx, idA)
	require.NoError(t, err)
	require.Len(t, a.Links, 1)

	// Once B is ingested, A's pending edge becomes a backlink on B.
	idB := ingest(t, st, m, "https://example.com/b")

	b, err := st.Get(ctx, idB)
	require.NoError(t, err)
	require.Len(t, b.Backlinks, 1)
	assert.Equal(t, idA, b.Backlinks[0].DocumentID)
}

func TestSyncIgnoresSelfAndDuplicates(t *testing.T) {
	st := store.NewMemory()
	m := New(st)
	ctx := context.Background()

	idB := ingest(t, st, m, "https://example.com/b")
	idA := ingest(t, st, m, "https://example.com/a",
		"https://example.com/a", "https://example.com/b", "https://example.com/b")

	a, err := st.Get(ctx, idA)
	require.NoError(t, err)
	require.Len(t, a.Links, 1)

	b, err := st.Get(ctx, idB)
	require.NoError(t, err)
	require.Len(t, b.Backlinks, 1)
}

func TestSyncIdempotent(t *testing.T) {
	st := store.NewMemory()
	m := New(st)
	ctx := context.Background()

	idB := ingest(t, st, m, "https://example.com/b")
	idA := ingest(t, st, m, "https://example.com/a", "https://example.com/b")

	// Re-running sync (at-least-once delivery) must not duplicate edges.
	require.NoError(t, m.Sync(ctx, idA, []string{"https://example.com/b"}))

	b, err := st.Get(ctx, idB)
	require.NoError(t, err)
	assert.Len(t, b.Backlinks, 1)
}

func TestSyncDropsStaleBacklinks(t *testing.T) {
	st := store.NewMemory()
	m := New(st)
	ctx := context.Background()

	idB := ingest(t, st, m, "https://example.com/b")
	idA := ingest(t, st, m, "https://example.com/a", "https://example.com/b")

	b, err := st.Get(ctx, idB)
	require.NoError(t, err)
	require.True(t, b.HasBacklinkFrom(idA))

	// A is synced again without the edge to B; B must not keep the
	// backlink.
	require.NoError(t, m.Sync(ctx, idA, nil))

	a, err := st.Get(ctx, idA)
	require.NoError(t, err)
	assert.Empty(t, a.Links)

	b, err = st.Get(ctx, idB)
	require.NoError(t, err)
	assert.False(t, b.HasBacklinkFrom(idA))
}

func TestSyncDropsStaleBacklinksAfterReingest(t *testing.T) {
	st := store.NewMemory()
	m := New(st)
	ctx := context.Background()

	idB := ingest(t, st, m, "https://example.com/b")
	idC := ingest(t, st, m, "https://example.com/c")
	idA := ingest(t, st, m, "https://example.com/a", "https://example.com/b")

	// Re-ingestion persists the new outgoing set with the document before
	// sync runs, so sync cannot rely on the previous links list.
	doc := &models.Document{
		DocumentID: idA,
		Category:   models.CategoryWebpage,
		URL:        "https://example.com/a",
		CreatedAt:  time.Now().UTC(),
		Metadata:   models.NewWebpageMetadata(models.WebpageMetadata{}),
		Links:      BuildLinks(idA, []string{"https://example.com/c"}),
	}
	require.NoError(t, st.Upsert(ctx, doc, nil))
	require.NoError(t, m.Sync(ctx, idA, []string{"https://example.com/c"}))

	b, err := st.Get(ctx, idB)
	require.NoError(t, err)
	assert.False(t, b.HasBacklinkFrom(idA))

	c, err := st.Get(ctx, idC)
	require.NoError(t, err)
	assert.True(t, c.HasBacklinkFrom(idA))
}

func TestDeleteRepairsBothDirections(t *testing.T) {
	st := store.NewMemory()
	m := New(st)
	ctx := context.Background()

	idC := ingest(t, st, m, "https://example.com/c")
	idB := ingest(t, st, m, "https://example.com/b", "https://example.com/c")
	idA := ingest(t, st, m, "https://example.com/a", "https://example.com/b")

	// B links to C and is linked from A; deleting B must clean both.
	require.NoError(t, m.Delete(ctx, idB))

	_, err := st.Get(ctx, idB)
	assert.ErrorIs(t, err, store.ErrNotFound)

	a, err := st.Get(ctx, idA)
	require.NoError(t, err)
	assert.Empty(t, a.Links)

	c, err := st.Get(ctx, idC)
	require.NoError(t, err)
	assert.Empty(t, c.Backlinks)
}

func TestDeleteUnknown(t *testing.T) {
	m := New(store.NewMemory())
	assert.ErrorIs(t, m.Delete(context.Background(), "missing"), store.ErrNotFound)
}

func TestConcurrentSyncsToSameTarget(t *testing.T) {
	st := store.NewMemory()
	m := New(st)
	ctx := context.Background()

	idTarget := ingest(t, st, m, "https://example.com/target")

	urls := []string{
		"https://example.com/s1",
		"https://example.com/s2",
		"https://example.com/s3",
		"https://example.com/s4",
	}

	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			doc := &models.Document{
				DocumentID: models.DocumentIDFromURL(u),
				Category:   models.CategoryWebpage,
				URL:        u,
				CreatedAt:  time.Now().UTC(),
				Metadata:   models.NewWebpageMetadata(models.WebpageMetadata{}),
			}
			require.NoError(t, st.Upsert(ctx, doc, nil))
			require.NoError(t, m.Sync(ctx, doc.DocumentID, []string{"https://example.com/target"}))
		}(u)
	}
	wg.Wait()

	target, err := st.Get(ctx, idTarget)
	require.NoError(t, err)
	assert.Len(t, target.Backlinks, len(urls))
}
