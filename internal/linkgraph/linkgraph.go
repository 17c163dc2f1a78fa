package linkgraph

import (
	"context"
	"errors"
	"fmt"

	"readstash-backend/internal/logger"
	"readstash-backend/internal/store"
	"readstash-backend/models"
)

// Maintainer keeps forward and backward edges consistent across
// documents. It owns every links/backlinks mutation; callers never write
// edges directly.
type Maintainer struct {
	store store.Store
}

func New(st store.Store) *Maintainer {
	return &Maintainer{store: st}
}

// Sync derives the outgoing edges of a freshly upserted document from its
// candidate URLs and repairs both directions of the graph:
//
//   - the document's links list is rewritten,
//   - targets dropped since the previous ingestion lose their backlink,
//   - every already-ingested target gains a backlink from this document,
//   - edges recorded by earlier documents that pointed at this URL before
//     it was ingested are promoted onto this document's backlinks.
//
// Every step is idempotent, so re-running after a partial failure is safe.
func (m *Maintainer) Sync(ctx context.Context, documentID string, candidateURLs []string) error {
	doc, err := m.store.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("link sync: %w", err)
	}

	links := BuildLinks(documentID, candidateURLs)
	if err := m.store.SetLinks(ctx, documentID, links); err != nil {
		return fmt.Errorf("link sync: set links: %w", err)
	}

	// Targets this document linked before but no longer does must not keep
	// a backlink, or the graph drifts out of symmetry on re-ingestion. The
	// holders are found by the reverse-edge query rather than the previous
	// links list, which the upsert has already overwritten.
	kept := make(map[string]bool, len(links))
	for _, link := range links {
		kept[link.DocumentID] = true
	}
	holders, err := m.store.FindBacklinkedFrom(ctx, documentID)
	if err != nil {
		return fmt.Errorf("link sync: stale edges: %w", err)
	}
	for _, holder := range holders {
		if kept[holder.DocumentID] {
			continue
		}
		err := m.store.RemoveBacklink(ctx, holder.DocumentID, documentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("link sync: drop backlink %s: %w", holder.DocumentID, err)
		}
	}

	edge := models.Link{DocumentID: documentID, URL: doc.URL}
	for _, link := range links {
		err := m.store.AppendBacklink(ctx, link.DocumentID, edge)
		if errors.Is(err, store.ErrNotFound) {
			// Target not ingested yet; the edge stays on this
			// document's links and is promoted when the target
			// arrives.
			continue
		}
		if err != nil {
			return fmt.Errorf("link sync: backlink %s: %w", link.DocumentID, err)
		}
	}

	sources, err := m.store.FindLinkingTo(ctx, documentID)
	if err != nil {
		return fmt.Errorf("link sync: pending edges: %w", err)
	}
	for _, src := range sources {
		if src.DocumentID == documentID {
			continue
		}
		err := m.store.AppendBacklink(ctx, documentID, models.Link{
			DocumentID: src.DocumentID,
			URL:        src.URL,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("link sync: promote %s: %w", src.DocumentID, err)
		}
	}

	return nil
}

// BuildLinks maps candidate URLs to edges, dropping self-references and
// duplicate targets while keeping first-seen order. Ingestion uses it to
// persist the outgoing edges with the document itself, so link resolution
// can be re-run later from stored state alone.
func BuildLinks(documentID string, candidateURLs []string) []models.Link {
	seen := make(map[string]bool, len(candidateURLs))
	links := make([]models.Link, 0, len(candidateURLs))
	for _, u := range candidateURLs {
		targetID := models.DocumentIDFromURL(u)
		if targetID == documentID || seen[targetID] {
			continue
		}
		seen[targetID] = true
		links = append(links, models.Link{DocumentID: targetID, URL: u})
	}
	return links
}

// Delete removes a document together with every edge pointing at it. The
// set of peers to repair is bounded by the document's own links and
// backlinks lists, so no full scan is needed.
func (m *Maintainer) Delete(ctx context.Context, documentID string) error {
	doc, err := m.store.Get(ctx, documentID)
	if err != nil {
		return err
	}

	for _, link := range doc.Links {
		if err := m.store.RemoveBacklink(ctx, link.DocumentID, documentID); err != nil {
			logger.Warn("failed to remove backlink during delete",
				"document_id", documentID, "peer", link.DocumentID, "error", err)
		}
	}
	for _, backlink := range doc.Backlinks {
		if err := m.store.RemoveLink(ctx, backlink.DocumentID, documentID); err != nil {
			logger.Warn("failed to remove link during delete",
				"document_id", documentID, "peer", backlink.DocumentID, "error", err)
		}
	}

	return m.store.Delete(ctx, documentID)
}
