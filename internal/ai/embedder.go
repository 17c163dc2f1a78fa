package ai

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable wraps any collaborator timeout or error. The
// orchestrator treats it as fatal for the whole document: no partial
// document is ever persisted.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// Embedder turns chunk text into a fixed-dimension vector. Deterministic
// for identical text and model version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
