package store

import (
	"context"
	"testing"
	"time"

	"readstash-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc(url, category, title, author string) *models.Document {
	doc := &models.Document{
		DocumentID: models.DocumentIDFromURL(url),
		Category:   category,
		URL:        url,
		CreatedAt:  time.Now().UTC(),
		Links:      []models.Link{},
		Backlinks:  []models.Link{},
	}
	switch category {
	case models.CategoryWebpage:
		doc.Metadata = models.NewWebpageMetadata(models.WebpageMetadata{Title: title, Author: author})
	case models.CategoryArxiv:
		doc.Metadata = models.NewArxivMetadata(models.ArxivMetadata{Title: title, Authors: []string{author}})
	case models.CategoryTweet:
		doc.Metadata = models.NewTweetMetadata(models.TweetMetadata{UserID: author})
	}
	return doc
}

func TestMemoryUpsertGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	doc := newDoc("https://example.com/a", models.CategoryWebpage, "A Title", "ann")
	chunks := []models.Chunk{
		{Index: 0, Text: "first.", Vector: []float32{1, 0}},
		{Index: 1, Text: "second.", Vector: []float32{0, 1}},
	}
	require.NoError(t, m.Upsert(ctx, doc, chunks))

	got, err := m.Get(ctx, doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, doc.URL, got.URL)

	stored, err := m.Chunks(ctx, doc.DocumentID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, models.ChunkID(doc.DocumentID, 0), stored[0].ID)
	assert.Equal(t, doc.DocumentID, stored[0].DocumentID)
}

func TestMemoryUpsertPreservesUserState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	doc := newDoc("https://example.com/a", models.CategoryWebpage, "A", "ann")
	require.NoError(t, m.Upsert(ctx, doc, nil))
	require.NoError(t, m.SetFlag(ctx, doc.DocumentID, FlagRead, true))
	require.NoError(t, m.SetFlag(ctx, doc.DocumentID, FlagBookmarked, true))

	created := doc.CreatedAt

	reingested := newDoc("https://example.com/a", models.CategoryWebpage, "A v2", "ann")
	reingested.CreatedAt = created.Add(time.Hour)
	require.NoError(t, m.Upsert(ctx, reingested, nil))

	got, err := m.Get(ctx, doc.DocumentID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.True(t, got.IsBookmarked)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, "A v2", got.Metadata.Title())
}

func TestMemoryGetUnknown(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.Delete(context.Background(), "missing"), ErrNotFound)
	assert.ErrorIs(t, m.SetFlag(context.Background(), "missing", FlagRead, true), ErrNotFound)
}

func TestMemoryFindFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	web := newDoc("https://example.com/web", models.CategoryWebpage, "Understanding Go", "Rob")
	web.Text = "go is a language."
	paper := newDoc("https://arxiv.org/abs/1234.5678", models.CategoryArxiv, "Attention Is All You Need", "Vaswani")
	tweet := newDoc("https://x.com/user/status/1", models.CategoryTweet, "", "gopher")
	require.NoError(t, m.Upsert(ctx, web, nil))
	require.NoError(t, m.Upsert(ctx, paper, nil))
	require.NoError(t, m.Upsert(ctx, tweet, nil))
	require.NoError(t, m.SetFlag(ctx, web.DocumentID, FlagRead, true))
	require.NoError(t, m.SetFlag(ctx, paper.DocumentID, FlagBookmarked, true))

	docs, err := m.Find(ctx, Filter{Categories: []string{models.CategoryArxiv}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, paper.DocumentID, docs[0].DocumentID)

	docs, err = m.Find(ctx, Filter{Author: "vasw"})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs, err = m.Find(ctx, Filter{Title: "attention"})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs, err = m.Find(ctx, Filter{Text: "LANGUAGE"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, web.DocumentID, docs[0].DocumentID)

	docs, err = m.Find(ctx, Filter{Unread: true})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	docs, err = m.Find(ctx, Filter{Bookmarked: true})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, paper.DocumentID, docs[0].DocumentID)
}

func TestMemoryEdgeOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := newDoc("https://example.com/a", models.CategoryWebpage, "A", "")
	b := newDoc("https://example.com/b", models.CategoryWebpage, "B", "")
	require.NoError(t, m.Upsert(ctx, a, nil))
	require.NoError(t, m.Upsert(ctx, b, nil))

	edgeAB := models.Link{DocumentID: b.DocumentID, URL: b.URL}
	require.NoError(t, m.SetLinks(ctx, a.DocumentID, []models.Link{edgeAB}))

	backlink := models.Link{DocumentID: a.DocumentID, URL: a.URL}
	require.NoError(t, m.AppendBacklink(ctx, b.DocumentID, backlink))
	// Idempotent: appending the same edge twice keeps one copy.
	require.NoError(t, m.AppendBacklink(ctx, b.DocumentID, backlink))

	got, err := m.Get(ctx, b.DocumentID)
	require.NoError(t, err)
	require.Len(t, got.Backlinks, 1)

	linking, err := m.FindLinkingTo(ctx, b.DocumentID)
	require.NoError(t, err)
	require.Len(t, linking, 1)
	assert.Equal(t, a.DocumentID, linking[0].DocumentID)

	require.NoError(t, m.RemoveBacklink(ctx, b.DocumentID, a.DocumentID))
	require.NoError(t, m.RemoveLink(ctx, a.DocumentID, b.DocumentID))

	got, err = m.Get(ctx, b.DocumentID)
	require.NoError(t, err)
	assert.Empty(t, got.Backlinks)
	got, err = m.Get(ctx, a.DocumentID)
	require.NoError(t, err)
	assert.Empty(t, got.Links)

	assert.ErrorIs(t, m.AppendBacklink(ctx, "missing", backlink), ErrNotFound)
}
