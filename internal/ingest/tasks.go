package ingest

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskIngestDocument = "document:ingest"

type IngestPayload struct {
	DocumentID string `json:"document_id"`
	URL        string `json:"url"`
}

// NewIngestTask builds the queue task for one URL. The task id is the
// document id, so concurrent submissions of the same URL coalesce into a
// single queued task while one is pending.
func NewIngestTask(documentID, url string, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{
		DocumentID: documentID,
		URL:        url,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.TaskID(documentID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(15*time.Minute),
		asynq.Queue("ingest"),
	), nil
}
