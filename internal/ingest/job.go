package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Pipeline states of one ingestion job. A job keyed by document id moves
// forward through the stages and terminates in complete, complete_with_warning
// or failed. complete_with_warning means the document and chunks are stored
// but link resolution did not finish; the repair sweep retries those.
const (
	StatusPending             = "pending"
	StatusFetching            = "fetching"
	StatusChunking            = "chunking"
	StatusEmbedding           = "embedding"
	StatusStoring             = "storing"
	StatusLinkResolving       = "link_resolving"
	StatusComplete            = "complete"
	StatusCompleteWithWarning = "complete_with_warning"
	StatusFailed              = "failed"
)

type Job struct {
	DocumentID string `bson:"_id" json:"document_id"`
	URL        string `bson:"url" json:"url"`
	Status     string `bson:"status" json:"status"`
	Error      string `bson:"error,omitempty" json:"error,omitempty"`
	// StoredDocumentID is the id the document was stored under, which
	// differs from DocumentID when the source canonicalized the URL.
	StoredDocumentID string    `bson:"stored_document_id,omitempty" json:"stored_document_id,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}

// JobTracker records pipeline progress per document.
type JobTracker interface {
	// Track creates the job record, or resets an existing one to pending.
	Track(ctx context.Context, documentID, url string) error
	// SetStatus advances the job to status; cause is recorded for the
	// terminal failure and warning states.
	SetStatus(ctx context.Context, documentID, status string, cause error) error
	// SetStoredDocument records the id the document landed under.
	SetStoredDocument(ctx context.Context, documentID, storedDocumentID string) error
	Get(ctx context.Context, documentID string) (*Job, error)
	// Warned lists jobs stuck in complete_with_warning.
	Warned(ctx context.Context) ([]Job, error)
}

var ErrJobNotFound = errors.New("ingest job not found")

// MongoJobs persists jobs in the ingest_jobs collection.
type MongoJobs struct {
	collection *mongo.Collection
}

func NewMongoJobs(client *mongo.Client, dbName string) *MongoJobs {
	return &MongoJobs{collection: client.Database(dbName).Collection("ingest_jobs")}
}

func (j *MongoJobs) Track(ctx context.Context, documentID, url string) error {
	now := time.Now().UTC()
	_, err := j.collection.UpdateByID(ctx, documentID, bson.M{
		"$set": bson.M{
			"url":        url,
			"status":     StatusPending,
			"error":      "",
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}, options.Update().SetUpsert(true))
	return err
}

func (j *MongoJobs) SetStatus(ctx context.Context, documentID, status string, cause error) error {
	update := bson.M{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if cause != nil {
		update["error"] = cause.Error()
	} else {
		update["error"] = ""
	}

	res, err := j.collection.UpdateByID(ctx, documentID, bson.M{"$set": update})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (j *MongoJobs) SetStoredDocument(ctx context.Context, documentID, storedDocumentID string) error {
	res, err := j.collection.UpdateByID(ctx, documentID, bson.M{
		"$set": bson.M{"stored_document_id": storedDocumentID},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (j *MongoJobs) Get(ctx context.Context, documentID string) (*Job, error) {
	var job Job
	err := j.collection.FindOne(ctx, bson.M{"_id": documentID}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *MongoJobs) Warned(ctx context.Context) ([]Job, error) {
	cursor, err := j.collection.Find(ctx,
		bson.M{"status": StatusCompleteWithWarning},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []Job
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// MemoryJobs is an in-memory JobTracker for tests.
type MemoryJobs struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryJobs() *MemoryJobs {
	return &MemoryJobs{jobs: map[string]*Job{}}
}

func (j *MemoryJobs) Track(_ context.Context, documentID, url string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().UTC()
	if job, ok := j.jobs[documentID]; ok {
		job.URL = url
		job.Status = StatusPending
		job.Error = ""
		job.UpdatedAt = now
		return nil
	}
	j.jobs[documentID] = &Job{
		DocumentID: documentID,
		URL:        url,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (j *MemoryJobs) SetStatus(_ context.Context, documentID, status string, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, ok := j.jobs[documentID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.Error = ""
	if cause != nil {
		job.Error = cause.Error()
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (j *MemoryJobs) SetStoredDocument(_ context.Context, documentID, storedDocumentID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, ok := j.jobs[documentID]
	if !ok {
		return ErrJobNotFound
	}
	job.StoredDocumentID = storedDocumentID
	return nil
}

func (j *MemoryJobs) Get(_ context.Context, documentID string) (*Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, ok := j.jobs[documentID]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (j *MemoryJobs) Warned(_ context.Context) ([]Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var jobs []Job
	for _, job := range j.jobs {
		if job.Status == StatusCompleteWithWarning {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].DocumentID < jobs[b].DocumentID })
	return jobs, nil
}
