package store

import (
	"context"
	"errors"

	"readstash-backend/models"
)

var (
	// ErrNotFound is returned on get/delete of an unknown document id.
	ErrNotFound = errors.New("document not found")

	// ErrStorage wraps underlying I/O failures. Always surfaced to the
	// caller, never swallowed.
	ErrStorage = errors.New("storage error")
)

// Flag names the two user-mutable booleans on a document.
type Flag string

const (
	FlagRead       Flag = "is_read"
	FlagBookmarked Flag = "is_bookmarked"
)

// Filter is the structured (non-vector) part of a query. Zero values mean
// "no constraint". Author/Title/Text match case-insensitive substrings.
type Filter struct {
	Categories []string
	Author     string
	Title      string
	Text       string
	Unread     bool
	Bookmarked bool
}

// Store is the shared document/chunk/edge repository. It is the sole
// shared mutable resource; every edge mutation is an atomic per-document
// read-modify-write so concurrent ingestions cannot lose updates.
//
// Implementations: Mongo for production, Memory for tests.
type Store interface {
	// Upsert atomically creates or replaces a document and its chunks.
	// On replace it preserves created_at, is_read, is_bookmarked and
	// backlinks; chunks and embeddings are rewritten. The document
	// record is written last, so readers never observe a partial
	// document.
	Upsert(ctx context.Context, doc *models.Document, chunks []models.Chunk) error

	Get(ctx context.Context, documentID string) (*models.Document, error)

	// Chunks returns a document's chunks ordered by index.
	Chunks(ctx context.Context, documentID string) ([]models.Chunk, error)

	// ChunksByDocuments bulk-loads chunks for many documents at once,
	// keyed by document id, each list ordered by index.
	ChunksByDocuments(ctx context.Context, documentIDs []string) (map[string][]models.Chunk, error)

	// Delete removes the document and its chunks. Edge repair on peer
	// documents is driven by the link graph maintainer, which uses
	// RemoveLink/RemoveBacklink below.
	Delete(ctx context.Context, documentID string) error

	// Find applies the structured filters and returns every matching
	// document; ranking and pagination are the query engine's job.
	Find(ctx context.Context, filter Filter) ([]models.Document, error)

	// FindLinkingTo returns documents whose links reference targetID.
	// Used to promote pending edges when the target is later ingested.
	FindLinkingTo(ctx context.Context, targetID string) ([]models.Document, error)

	// FindBacklinkedFrom returns documents whose backlinks reference
	// sourceID. Used to drop backlinks that re-ingestion made stale.
	FindBacklinkedFrom(ctx context.Context, sourceID string) ([]models.Document, error)

	SetLinks(ctx context.Context, documentID string, links []models.Link) error

	// AppendBacklink atomically appends an edge to the target's
	// backlinks if not already present.
	AppendBacklink(ctx context.Context, targetID string, edge models.Link) error

	// RemoveLink / RemoveBacklink atomically drop edges referencing the
	// given peer id.
	RemoveLink(ctx context.Context, documentID, targetID string) error
	RemoveBacklink(ctx context.Context, documentID, sourceID string) error

	SetFlag(ctx context.Context, documentID string, flag Flag, state bool) error

	Close(ctx context.Context) error
}
