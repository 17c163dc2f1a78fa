package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"readstash-backend/internal/ai"
	"readstash-backend/internal/store"
	"readstash-backend/models"
)

// ErrValidation is returned for malformed filter or pagination
// parameters. Query-path errors surface synchronously; nothing degrades
// silently.
var ErrValidation = errors.New("invalid query parameters")

// Request is one filter+search query against the document set.
type Request struct {
	Categories []string
	Author     string
	Title      string
	Text       string
	Unread     bool
	Bookmarked bool

	// Desc orders chronological results newest-first.
	Desc bool

	// At most one of the two vector modes may be set.
	VectorSearch         string
	VectorSearchDocument string

	Offset int
	Count  int
}

// Page is a slice of the ranked result set. NextCursor is set only when
// more candidates remain past this page.
type Page struct {
	Documents  []models.Document
	NextCursor *int
}

// AnnShortlister is optionally implemented by stores that expose an
// approximate-nearest-neighbor index. A nil shortlist means "no
// shortlist"; the engine then scores every candidate.
type AnnShortlister interface {
	VectorCandidates(ctx context.Context, vector []float32, limit int) ([]string, error)
}

// Engine turns a filter+search request into a ranked, paginated result
// set. Reads are lock-free and may run concurrently with ingestion.
type Engine struct {
	store    store.Store
	embedder ai.Embedder
}

func New(st store.Store, embedder ai.Embedder) *Engine {
	return &Engine{store: st, embedder: embedder}
}

func (r Request) validate() error {
	if r.Count < 1 {
		return fmt.Errorf("%w: count must be >= 1", ErrValidation)
	}
	if r.Offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0", ErrValidation)
	}
	if r.VectorSearch != "" && r.VectorSearchDocument != "" {
		return fmt.Errorf("%w: vector_search and vector_search_document are mutually exclusive", ErrValidation)
	}
	for _, c := range r.Categories {
		if !models.ValidCategory(c) {
			return fmt.Errorf("%w: unknown category %q", ErrValidation, c)
		}
	}
	return nil
}

// Search applies the structured filters, ranks the candidates, and
// returns one page.
func (e *Engine) Search(ctx context.Context, req Request) (*Page, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	candidates, err := e.store.Find(ctx, store.Filter{
		Categories: req.Categories,
		Author:     req.Author,
		Title:      req.Title,
		Text:       req.Text,
		Unread:     req.Unread,
		Bookmarked: req.Bookmarked,
	})
	if err != nil {
		return nil, err
	}

	if req.VectorSearch == "" && req.VectorSearchDocument == "" {
		return paginateChronological(candidates, req), nil
	}
	return e.rankByVector(ctx, candidates, req)
}

func paginateChronological(candidates []models.Document, req Request) *Page {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if req.Desc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.DocumentID < b.DocumentID
	})
	return slicePage(candidates, req)
}

func (e *Engine) rankByVector(ctx context.Context, candidates []models.Document, req Request) (*Page, error) {
	queryVector, err := e.queryVector(ctx, req)
	if err != nil {
		return nil, err
	}
	if queryVector == nil {
		// Reference document has no embedded chunks; nothing to rank.
		return &Page{Documents: []models.Document{}}, nil
	}

	if req.VectorSearchDocument != "" {
		refID := req.VectorSearchDocument
		filtered := candidates[:0]
		for _, doc := range candidates {
			if doc.DocumentID != refID {
				filtered = append(filtered, doc)
			}
		}
		candidates = filtered
	}

	// Narrow the candidate set through the store's ANN index when one is
	// available; exact scores are still computed below. One extra candidate
	// past the page tells pagination whether a next cursor exists.
	if shortlister, ok := e.store.(AnnShortlister); ok {
		shortlist, err := shortlister.VectorCandidates(ctx, queryVector, req.Offset+req.Count+1)
		if err != nil {
			return nil, err
		}
		if shortlist != nil {
			keep := make(map[string]bool, len(shortlist))
			for _, id := range shortlist {
				keep[id] = true
			}
			filtered := candidates[:0]
			for _, doc := range candidates {
				if keep[doc.DocumentID] {
					filtered = append(filtered, doc)
				}
			}
			candidates = filtered
		}
	}

	ids := make([]string, len(candidates))
	for i, doc := range candidates {
		ids[i] = doc.DocumentID
	}
	chunksByDoc, err := e.store.ChunksByDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}

	type scored struct {
		doc        models.Document
		similarity float64
		chunkIndex int
	}

	ranked := make([]scored, 0, len(candidates))
	for _, doc := range candidates {
		best, bestIndex, found := bestChunk(queryVector, chunksByDoc[doc.DocumentID])
		if !found {
			continue
		}
		score := Rescale(best)
		doc.Score = &score
		ranked = append(ranked, scored{doc: doc, similarity: best, chunkIndex: bestIndex})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.similarity != b.similarity {
			return a.similarity > b.similarity
		}
		// Most-relevant-passage ties break toward the earlier chunk,
		// then toward the newer document.
		if a.chunkIndex != b.chunkIndex {
			return a.chunkIndex < b.chunkIndex
		}
		return a.doc.CreatedAt.After(b.doc.CreatedAt)
	})

	docs := make([]models.Document, len(ranked))
	for i, s := range ranked {
		docs[i] = s.doc
	}
	return slicePage(docs, req), nil
}

// bestChunk returns the maximum similarity over the document's chunks and
// the index it occurred at.
func bestChunk(queryVector []float32, chunks []models.Chunk) (float64, int, bool) {
	best, bestIndex, found := 0.0, 0, false
	for _, ch := range chunks {
		if len(ch.Vector) == 0 {
			continue
		}
		s := Cosine(queryVector, ch.Vector)
		if !found || s > best {
			best, bestIndex, found = s, ch.Index, true
		}
	}
	return best, bestIndex, found
}

func (e *Engine) queryVector(ctx context.Context, req Request) ([]float32, error) {
	if req.VectorSearch != "" {
		return e.embedder.Embed(ctx, req.VectorSearch)
	}

	chunks, err := e.store.Chunks(ctx, req.VectorSearchDocument)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		if _, err := e.store.Get(ctx, req.VectorSearchDocument); err != nil {
			return nil, err
		}
	}
	return meanVector(chunks), nil
}

func slicePage(docs []models.Document, req Request) *Page {
	if req.Offset >= len(docs) {
		return &Page{Documents: []models.Document{}}
	}

	end := req.Offset + req.Count
	if end > len(docs) {
		end = len(docs)
	}

	page := &Page{Documents: docs[req.Offset:end]}
	if end < len(docs) {
		cursor := end
		page.NextCursor = &cursor
	}
	return page
}
