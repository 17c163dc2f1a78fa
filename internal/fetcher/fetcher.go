package fetcher

import (
	"context"
	"errors"
	"fmt"

	"readstash-backend/models"
)

var (
	// ErrUnsupportedURL means no registered source recognizes the URL.
	ErrUnsupportedURL = errors.New("unsupported url")

	// ErrFetch wraps transient network or upstream failures. Callers may retry.
	ErrFetch = errors.New("fetch failed")
)

// Result is the normalized output of fetching one URL: cleaned text, typed
// metadata and the outbound link URLs discovered in the content.
type Result struct {
	URL      string
	Category string
	Text     string
	Metadata models.Metadata
	LinkURLs []string
}

// Source fetches documents for one category of URL.
type Source interface {
	// Category returns the document category this source produces.
	Category() string
	// Match reports whether this source handles the URL.
	Match(url string) bool
	// Fetch retrieves and normalizes the document at url.
	Fetch(ctx context.Context, url string) (*Result, error)
}

// Registry dispatches a URL to the first source that matches it.
// Order matters: specific sources (arxiv, tweet) must come before the
// catch-all webpage source.
type Registry struct {
	sources []Source
}

func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Category returns the category of the source that would handle the URL,
// or ErrUnsupportedURL when none matches.
func (r *Registry) Category(url string) (string, error) {
	for _, s := range r.sources {
		if s.Match(url) {
			return s.Category(), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedURL, url)
}

func (r *Registry) Fetch(ctx context.Context, url string) (*Result, error) {
	for _, s := range r.sources {
		if s.Match(url) {
			return s.Fetch(ctx, url)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, url)
}
