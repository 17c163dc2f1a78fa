package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"readstash-backend/internal/ai"
	"readstash-backend/internal/chunker"
	"readstash-backend/internal/fetcher"
	"readstash-backend/internal/linkgraph"
	"readstash-backend/internal/logger"
	"readstash-backend/internal/store"
	"readstash-backend/models"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	claimKeyPrefix = "ingest:claim:"
	claimTTL       = 20 * time.Minute

	fetchAttempts     = 3
	fetchBackoffBase  = 2 * time.Second
	fetchBackoffLimit = 30 * time.Second
)

// TaskProcessor runs the ingestion pipeline for one queued URL:
// fetch, chunk, embed, store, resolve links. Fetch failures are retried with
// backoff inside the handler and then surfaced to the queue for redelivery.
// Chunking and embedding failures are final for the attempt content, so they
// fail the job without retrying. A failure after the document is stored
// leaves the job in complete_with_warning for the repair sweep.
type TaskProcessor struct {
	registry *fetcher.Registry
	chunker  *chunker.Chunker
	embedder ai.Embedder
	store    store.Store
	links    *linkgraph.Maintainer
	jobs     JobTracker
	rdb      *redis.Client

	fetchAttempts int
	fetchBackoff  time.Duration
	lastDelivery  func(ctx context.Context) bool
}

// lastDelivery reports whether the queue will not redeliver this task, so
// a transient error must finalize the job instead of leaving it pending.
func lastDelivery(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	maxRetry, okMax := asynq.GetMaxRetry(ctx)
	return ok && okMax && retried >= maxRetry
}

func NewTaskProcessor(
	registry *fetcher.Registry,
	ch *chunker.Chunker,
	embedder ai.Embedder,
	st store.Store,
	links *linkgraph.Maintainer,
	jobs JobTracker,
	rdb *redis.Client,
) *TaskProcessor {
	return &TaskProcessor{
		registry:      registry,
		chunker:       ch,
		embedder:      embedder,
		store:         st,
		links:         links,
		jobs:          jobs,
		rdb:           rdb,
		fetchAttempts: fetchAttempts,
		fetchBackoff:  fetchBackoffBase,
		lastDelivery:  lastDelivery,
	}
}

func (p *TaskProcessor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	// The task id already serializes deliveries of one document, but a
	// redis claim also guards against a slow handler overlapping its own
	// retry after the task deadline.
	acquired, release, err := p.claim(ctx, payload.DocumentID)
	if err != nil {
		return err
	}
	if !acquired {
		logger.Info("ingest already running, skipping", "document_id", payload.DocumentID)
		return nil
	}
	defer release()

	return p.ingest(ctx, payload)
}

func (p *TaskProcessor) ingest(ctx context.Context, payload IngestPayload) error {
	_ = p.jobs.SetStatus(ctx, payload.DocumentID, StatusFetching, nil)

	result, err := p.fetchWithBackoff(ctx, payload.URL)
	if err != nil {
		if errors.Is(err, fetcher.ErrUnsupportedURL) {
			return p.fail(ctx, payload.DocumentID, err)
		}
		return p.retryable(ctx, payload.DocumentID, err)
	}

	if err := result.Metadata.Validate(); err != nil {
		return p.fail(ctx, payload.DocumentID, err)
	}

	// Sources may canonicalize the URL (arxiv version pinning), so the
	// stored document id derives from the canonical form.
	documentID := models.DocumentIDFromURL(result.URL)

	_ = p.jobs.SetStatus(ctx, payload.DocumentID, StatusChunking, nil)
	text := chunker.Clean(result.Text)
	pieces, err := p.chunker.Split(text)
	if err != nil {
		return p.fail(ctx, payload.DocumentID, err)
	}

	_ = p.jobs.SetStatus(ctx, payload.DocumentID, StatusEmbedding, nil)
	chunks, err := p.embedChunks(ctx, documentID, pieces)
	if err != nil {
		return p.fail(ctx, payload.DocumentID, err)
	}

	_ = p.jobs.SetStatus(ctx, payload.DocumentID, StatusStoring, nil)
	doc := &models.Document{
		DocumentID: documentID,
		Category:   result.Category,
		URL:        result.URL,
		CreatedAt:  time.Now().UTC(),
		Metadata:   result.Metadata,
		Text:       text,
		// Outgoing edges are stored with the document, not derived again
		// later: link resolution and the repair sweep both work from this
		// list, so a Sync failure here loses nothing.
		Links: linkgraph.BuildLinks(documentID, result.LinkURLs),
	}
	if err := p.store.Upsert(ctx, doc, chunks); err != nil {
		return p.retryable(ctx, payload.DocumentID, err)
	}
	_ = p.jobs.SetStoredDocument(ctx, payload.DocumentID, documentID)

	_ = p.jobs.SetStatus(ctx, payload.DocumentID, StatusLinkResolving, nil)
	if err := p.links.Sync(ctx, documentID, result.LinkURLs); err != nil {
		// The document is stored and searchable. Record the warning and
		// let the sweep finish the edges instead of re-running the whole
		// pipeline.
		logger.Warn("link resolution failed, deferring to repair sweep",
			"document_id", documentID, "error", err)
		_ = p.jobs.SetStatus(ctx, payload.DocumentID, StatusCompleteWithWarning, err)
		return nil
	}

	_ = p.jobs.SetStatus(ctx, payload.DocumentID, StatusComplete, nil)
	logger.Info("document ingested",
		"document_id", documentID, "category", result.Category, "chunks", len(chunks))
	return nil
}

func (p *TaskProcessor) fail(ctx context.Context, documentID string, cause error) error {
	logger.Error("ingest failed", "document_id", documentID, "error", cause)
	_ = p.jobs.SetStatus(ctx, documentID, StatusFailed, cause)
	return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
}

// retryable hands a transient error back to the queue for redelivery. On
// the final delivery there is no redelivery coming, so the job fails with
// the last error recorded instead of sitting in pending forever.
func (p *TaskProcessor) retryable(ctx context.Context, documentID string, cause error) error {
	if p.lastDelivery(ctx) {
		return p.fail(ctx, documentID, cause)
	}
	_ = p.jobs.SetStatus(ctx, documentID, StatusPending, cause)
	return cause
}

func (p *TaskProcessor) fetchWithBackoff(ctx context.Context, url string) (*fetcher.Result, error) {
	var lastErr error
	backoff := p.fetchBackoff

	for attempt := 1; attempt <= p.fetchAttempts; attempt++ {
		result, err := p.registry.Fetch(ctx, url)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, fetcher.ErrUnsupportedURL) {
			return nil, err
		}
		lastErr = err

		if attempt == p.fetchAttempts {
			break
		}
		logger.Warn("fetch failed, backing off", "url", url, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > fetchBackoffLimit {
			backoff = fetchBackoffLimit
		}
	}
	return nil, lastErr
}

func (p *TaskProcessor) embedChunks(ctx context.Context, documentID string, pieces []chunker.Chunk) ([]models.Chunk, error) {
	chunks := make([]models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		vector, err := p.embedder.Embed(ctx, piece.Text)
		if err != nil {
			return nil, fmt.Errorf("embedding chunk %d of %s: %w", i, documentID, err)
		}
		chunks = append(chunks, models.Chunk{
			ID:          models.ChunkID(documentID, i),
			DocumentID:  documentID,
			Index:       i,
			Text:        piece.Text,
			ForcedSplit: piece.ForcedSplit,
			Vector:      vector,
		})
	}
	return chunks, nil
}

// claim takes a short-lived exclusive lock on the document id. The returned
// release is a no-op when no redis client is configured.
func (p *TaskProcessor) claim(ctx context.Context, documentID string) (bool, func(), error) {
	if p.rdb == nil {
		return true, func() {}, nil
	}

	key := claimKeyPrefix + documentID
	ok, err := p.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), claimTTL).Result()
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	return true, func() {
		_ = p.rdb.Del(context.Background(), key).Err()
	}, nil
}
