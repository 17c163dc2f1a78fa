package ingest

import (
	"context"

	"readstash-backend/internal/linkgraph"
	"readstash-backend/internal/logger"
	"readstash-backend/internal/store"
)

// Repairer finishes link resolution for documents whose ingestion completed
// with a warning. The document text and chunks are already stored, so the
// sweep only re-runs the graph sync from the stored outbound links.
type Repairer struct {
	jobs  JobTracker
	store store.Store
	links *linkgraph.Maintainer
}

func NewRepairer(jobs JobTracker, st store.Store, links *linkgraph.Maintainer) *Repairer {
	return &Repairer{jobs: jobs, store: st, links: links}
}

func (r *Repairer) Sweep(ctx context.Context) error {
	jobs, err := r.jobs.Warned(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	logger.Info("repair sweep started", "jobs", len(jobs))
	for _, job := range jobs {
		if err := r.repair(ctx, job); err != nil {
			logger.Warn("repair sweep: job still failing",
				"document_id", job.DocumentID, "error", err)
		}
	}
	return nil
}

func (r *Repairer) repair(ctx context.Context, job Job) error {
	documentID := job.StoredDocumentID
	if documentID == "" {
		documentID = job.DocumentID
	}

	doc, err := r.store.Get(ctx, documentID)
	if err != nil {
		// The document vanished after the warning was recorded; nothing
		// left to repair.
		_ = r.jobs.SetStatus(ctx, job.DocumentID, StatusFailed, err)
		return err
	}

	urls := make([]string, 0, len(doc.Links))
	for _, link := range doc.Links {
		urls = append(urls, link.URL)
	}

	if err := r.links.Sync(ctx, doc.DocumentID, urls); err != nil {
		return err
	}
	return r.jobs.SetStatus(ctx, job.DocumentID, StatusComplete, nil)
}
