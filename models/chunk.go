package models

import "fmt"

// Chunk is a sentence-aligned slice of a document's text, sized to the
// embedding model's input limit. Indices are contiguous starting at 0.
type Chunk struct {
	ID         string `bson:"_id" json:"-"`
	DocumentID string `bson:"document_id" json:"document_id"`
	Index      int    `bson:"index" json:"index"`
	Text       string `bson:"text" json:"text"`

	// ForcedSplit marks a chunk produced by splitting a single sentence
	// that alone exceeded the size limit.
	ForcedSplit bool `bson:"forced_split" json:"forced_split"`

	// Vector has the dimension fixed by the embedding model in use.
	Vector []float32 `bson:"vector" json:"-"`
}

// ChunkID builds the storage key for a chunk, stable across re-ingestion
// so upserts replace rather than accumulate.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}
