package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"readstash-backend/models"
)

// Memory is an in-process Store used by tests and local development. All
// operations copy on the way in and out, and every edge mutation happens
// under the store lock, matching the atomic per-document semantics of the
// Mongo implementation.
type Memory struct {
	mu        sync.RWMutex
	documents map[string]*models.Document
	chunks    map[string][]models.Chunk
}

func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]*models.Document),
		chunks:    make(map[string][]models.Chunk),
	}
}

func copyDocument(doc *models.Document) *models.Document {
	out := *doc
	out.Links = append([]models.Link(nil), doc.Links...)
	out.Backlinks = append([]models.Link(nil), doc.Backlinks...)
	return &out
}

func copyChunks(chunks []models.Chunk) []models.Chunk {
	out := make([]models.Chunk, len(chunks))
	copy(out, chunks)
	return out
}

func (m *Memory) Upsert(_ context.Context, doc *models.Document, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyDocument(doc)
	if stored.Links == nil {
		stored.Links = []models.Link{}
	}
	stored.Backlinks = []models.Link{}

	if existing, ok := m.documents[doc.DocumentID]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.IsRead = existing.IsRead
		stored.IsBookmarked = existing.IsBookmarked
		stored.Backlinks = existing.Backlinks
	}

	prepared := copyChunks(chunks)
	for i := range prepared {
		prepared[i].DocumentID = doc.DocumentID
		prepared[i].ID = models.ChunkID(doc.DocumentID, prepared[i].Index)
	}

	m.chunks[doc.DocumentID] = prepared
	m.documents[doc.DocumentID] = stored
	return nil
}

func (m *Memory) Get(_ context.Context, documentID string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *Memory) Chunks(_ context.Context, documentID string) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyChunks(m.chunks[documentID]), nil
}

func (m *Memory) ChunksByDocuments(_ context.Context, documentIDs []string) (map[string][]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byDoc := make(map[string][]models.Chunk, len(documentIDs))
	for _, id := range documentIDs {
		if chunks, ok := m.chunks[id]; ok {
			byDoc[id] = copyChunks(chunks)
		}
	}
	return byDoc, nil
}

func (m *Memory) Delete(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.documents[documentID]; !ok {
		return ErrNotFound
	}
	delete(m.documents, documentID)
	delete(m.chunks, documentID)
	return nil
}

func (m *Memory) Find(_ context.Context, filter Filter) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []models.Document
	for _, doc := range m.documents {
		if matchesFilter(doc, filter) {
			docs = append(docs, *copyDocument(doc))
		}
	}
	// Map iteration is unordered; give callers a stable base order.
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })
	return docs, nil
}

func matchesFilter(doc *models.Document, filter Filter) bool {
	if len(filter.Categories) > 0 {
		found := false
		for _, c := range filter.Categories {
			if doc.Category == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Author != "" && !doc.Metadata.MatchesAuthor(filter.Author) {
		return false
	}
	if filter.Title != "" && !containsFold(doc.Metadata.Title(), filter.Title) {
		return false
	}
	if filter.Text != "" && !containsFold(doc.Text, filter.Text) {
		return false
	}
	if filter.Unread && doc.IsRead {
		return false
	}
	if filter.Bookmarked && !doc.IsBookmarked {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func (m *Memory) FindLinkingTo(_ context.Context, targetID string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []models.Document
	for _, doc := range m.documents {
		if doc.HasLinkTo(targetID) {
			docs = append(docs, *copyDocument(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })
	return docs, nil
}

func (m *Memory) FindBacklinkedFrom(_ context.Context, sourceID string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []models.Document
	for _, doc := range m.documents {
		if doc.HasBacklinkFrom(sourceID) {
			docs = append(docs, *copyDocument(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })
	return docs, nil
}

func (m *Memory) SetLinks(_ context.Context, documentID string, links []models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	doc.Links = append([]models.Link{}, links...)
	return nil
}

func (m *Memory) AppendBacklink(_ context.Context, targetID string, edge models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[targetID]
	if !ok {
		return ErrNotFound
	}
	if doc.HasBacklinkFrom(edge.DocumentID) {
		return nil
	}
	doc.Backlinks = append(doc.Backlinks, edge)
	return nil
}

func (m *Memory) RemoveLink(_ context.Context, documentID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[documentID]
	if !ok {
		return nil
	}
	doc.Links = removeEdge(doc.Links, targetID)
	return nil
}

func (m *Memory) RemoveBacklink(_ context.Context, documentID, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[documentID]
	if !ok {
		return nil
	}
	doc.Backlinks = removeEdge(doc.Backlinks, sourceID)
	return nil
}

func removeEdge(edges []models.Link, peerID string) []models.Link {
	out := edges[:0]
	for _, e := range edges {
		if e.DocumentID != peerID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) SetFlag(_ context.Context, documentID string, flag Flag, state bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	switch flag {
	case FlagRead:
		doc.IsRead = state
	case FlagBookmarked:
		doc.IsBookmarked = state
	}
	return nil
}

func (m *Memory) Close(context.Context) error {
	return nil
}
