package store

import (
	"context"
	"fmt"
	"regexp"

	"readstash-backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	documentsCollection = "documents"
	chunksCollection    = "chunks"
)

// Mongo implements Store on MongoDB. Documents and chunks live in
// separate collections; the chunks collection doubles as the vector index
// target when Atlas vector search is enabled.
type Mongo struct {
	client          *mongo.Client
	db              *mongo.Database
	vectorIndexName string
	vectorEnabled   bool
}

// MongoOption configures optional Mongo features.
type MongoOption func(*Mongo)

// WithVectorSearch enables the $vectorSearch candidate shortlist against
// the named Atlas index on the chunks collection.
func WithVectorSearch(indexName string) MongoOption {
	return func(m *Mongo) {
		m.vectorEnabled = true
		m.vectorIndexName = indexName
	}
}

func NewMongo(client *mongo.Client, dbName string, opts ...MongoOption) *Mongo {
	m := &Mongo{
		client: client,
		db:     client.Database(dbName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mongo) documents() *mongo.Collection {
	return m.db.Collection(documentsCollection)
}

func (m *Mongo) chunks() *mongo.Collection {
	return m.db.Collection(chunksCollection)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

func (m *Mongo) Upsert(ctx context.Context, doc *models.Document, chunks []models.Chunk) error {
	// Chunks first, document record last: a concurrent reader sees the
	// document only once its chunks and vectors are all in place.
	batch := make([]mongo.WriteModel, 0, len(chunks))
	for _, ch := range chunks {
		ch.ID = models.ChunkID(doc.DocumentID, ch.Index)
		ch.DocumentID = doc.DocumentID
		batch = append(batch, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": ch.ID}).
			SetUpdate(bson.M{"$set": ch}).
			SetUpsert(true))
	}
	if len(batch) > 0 {
		if _, err := m.chunks().BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false)); err != nil {
			return storageErr("upsert chunks", err)
		}
	}

	// Re-ingestion may produce fewer chunks than before.
	_, err := m.chunks().DeleteMany(ctx, bson.M{
		"document_id": doc.DocumentID,
		"index":       bson.M{"$gte": len(chunks)},
	})
	if err != nil {
		return storageErr("trim stale chunks", err)
	}

	_, err = m.documents().UpdateByID(ctx, doc.DocumentID,
		bson.M{
			"$set": bson.M{
				"category": doc.Category,
				"url":      doc.URL,
				"metadata": doc.Metadata,
				"text":     doc.Text,
				"links":    linksOrEmpty(doc.Links),
			},
			"$setOnInsert": bson.M{
				"created_at":    doc.CreatedAt,
				"is_read":       doc.IsRead,
				"is_bookmarked": doc.IsBookmarked,
				"backlinks":     []models.Link{},
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return storageErr("upsert document", err)
	}
	return nil
}

func linksOrEmpty(links []models.Link) []models.Link {
	if links == nil {
		return []models.Link{}
	}
	return links
}

func (m *Mongo) Get(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	err := m.documents().FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get document", err)
	}
	return &doc, nil
}

func (m *Mongo) Chunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	cursor, err := m.chunks().Find(ctx,
		bson.M{"document_id": documentID},
		options.Find().SetSort(bson.D{{Key: "index", Value: 1}}))
	if err != nil {
		return nil, storageErr("find chunks", err)
	}
	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, storageErr("decode chunks", err)
	}
	return chunks, nil
}

func (m *Mongo) ChunksByDocuments(ctx context.Context, documentIDs []string) (map[string][]models.Chunk, error) {
	if len(documentIDs) == 0 {
		return map[string][]models.Chunk{}, nil
	}
	cursor, err := m.chunks().Find(ctx,
		bson.M{"document_id": bson.M{"$in": documentIDs}},
		options.Find().SetSort(bson.D{{Key: "document_id", Value: 1}, {Key: "index", Value: 1}}))
	if err != nil {
		return nil, storageErr("find chunks", err)
	}
	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, storageErr("decode chunks", err)
	}
	byDoc := make(map[string][]models.Chunk, len(documentIDs))
	for _, ch := range chunks {
		byDoc[ch.DocumentID] = append(byDoc[ch.DocumentID], ch)
	}
	return byDoc, nil
}

func (m *Mongo) Delete(ctx context.Context, documentID string) error {
	res, err := m.documents().DeleteOne(ctx, bson.M{"_id": documentID})
	if err != nil {
		return storageErr("delete document", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	if _, err := m.chunks().DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return storageErr("delete chunks", err)
	}
	return nil
}

func (m *Mongo) Find(ctx context.Context, filter Filter) ([]models.Document, error) {
	cursor, err := m.documents().Find(ctx, buildFilter(filter))
	if err != nil {
		return nil, storageErr("find documents", err)
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storageErr("decode documents", err)
	}
	return docs, nil
}

func buildFilter(filter Filter) bson.M {
	query := bson.M{}

	if len(filter.Categories) > 0 {
		query["category"] = bson.M{"$in": filter.Categories}
	}
	if filter.Author != "" {
		re := substringRegex(filter.Author)
		query["$or"] = bson.A{
			bson.M{"metadata.webpage.author": re},
			bson.M{"metadata.arxiv.authors": re},
			bson.M{"metadata.tweet.user_id": re},
		}
	}
	if filter.Title != "" {
		re := substringRegex(filter.Title)
		// $and keeps a possible author $or intact.
		and, _ := query["$and"].(bson.A)
		query["$and"] = append(and, bson.M{"$or": bson.A{
			bson.M{"metadata.webpage.title": re},
			bson.M{"metadata.arxiv.title": re},
		}})
	}
	if filter.Text != "" {
		query["text"] = substringRegex(filter.Text)
	}
	if filter.Unread {
		query["is_read"] = false
	}
	if filter.Bookmarked {
		query["is_bookmarked"] = true
	}

	return query
}

func substringRegex(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

func (m *Mongo) FindLinkingTo(ctx context.Context, targetID string) ([]models.Document, error) {
	cursor, err := m.documents().Find(ctx, bson.M{"links.document_id": targetID})
	if err != nil {
		return nil, storageErr("find linking documents", err)
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storageErr("decode linking documents", err)
	}
	return docs, nil
}

func (m *Mongo) FindBacklinkedFrom(ctx context.Context, sourceID string) ([]models.Document, error) {
	cursor, err := m.documents().Find(ctx, bson.M{"backlinks.document_id": sourceID})
	if err != nil {
		return nil, storageErr("find backlinked documents", err)
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storageErr("decode backlinked documents", err)
	}
	return docs, nil
}

func (m *Mongo) SetLinks(ctx context.Context, documentID string, links []models.Link) error {
	res, err := m.documents().UpdateByID(ctx, documentID,
		bson.M{"$set": bson.M{"links": linksOrEmpty(links)}})
	if err != nil {
		return storageErr("set links", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) AppendBacklink(ctx context.Context, targetID string, edge models.Link) error {
	// $addToSet is the store's atomic read-modify-write: two ingestions
	// appending to the same target concurrently cannot double-append or
	// lose an edge.
	res, err := m.documents().UpdateByID(ctx, targetID,
		bson.M{"$addToSet": bson.M{"backlinks": edge}})
	if err != nil {
		return storageErr("append backlink", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) RemoveLink(ctx context.Context, documentID, targetID string) error {
	_, err := m.documents().UpdateByID(ctx, documentID,
		bson.M{"$pull": bson.M{"links": bson.M{"document_id": targetID}}})
	if err != nil {
		return storageErr("remove link", err)
	}
	return nil
}

func (m *Mongo) RemoveBacklink(ctx context.Context, documentID, sourceID string) error {
	_, err := m.documents().UpdateByID(ctx, documentID,
		bson.M{"$pull": bson.M{"backlinks": bson.M{"document_id": sourceID}}})
	if err != nil {
		return storageErr("remove backlink", err)
	}
	return nil
}

func (m *Mongo) SetFlag(ctx context.Context, documentID string, flag Flag, state bool) error {
	res, err := m.documents().UpdateByID(ctx, documentID,
		bson.M{"$set": bson.M{string(flag): state}})
	if err != nil {
		return storageErr("set flag", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// VectorCandidates shortlists document ids via Atlas $vectorSearch over
// chunk vectors. The query engine still computes exact per-chunk scores;
// this only narrows the candidate set. Returns nil when disabled.
func (m *Mongo) VectorCandidates(ctx context.Context, vector []float32, limit int) ([]string, error) {
	if !m.vectorEnabled {
		return nil, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.M{
			"index":         m.vectorIndexName,
			"path":          "vector",
			"queryVector":   vector,
			"numCandidates": limit * 10,
			"limit":         limit,
		}}},
		{{Key: "$group", Value: bson.M{"_id": "$document_id"}}},
	}

	cursor, err := m.chunks().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storageErr("vector search", err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, storageErr("decode vector search", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
