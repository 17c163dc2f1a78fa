package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WebpageMetadata is scraped from og:/twitter:/article: meta tags.
type WebpageMetadata struct {
	Author      string `bson:"author" json:"author"`
	Title       string `bson:"title" json:"title"`
	Description string `bson:"description" json:"description"`
	Publisher   string `bson:"publisher" json:"publisher"`
	Logo        string `bson:"logo" json:"logo"`
	Image       string `bson:"image" json:"image"`
}

// ArxivMetadata comes from the arXiv export API entry.
type ArxivMetadata struct {
	Title     string   `bson:"title" json:"title"`
	Authors   []string `bson:"authors" json:"authors"`
	Published string   `bson:"published" json:"published"`
	Summary   string   `bson:"summary" json:"summary"`
}

// TweetMetadata covers a tweet or the head of a thread.
type TweetMetadata struct {
	UserID    string   `bson:"user_id" json:"user_id"`
	ThreadIDs []string `bson:"thread_ids,omitempty" json:"thread_ids,omitempty"`
}

// Metadata is a tagged variant: Kind matches the document category and
// selects exactly one payload. Every consumer switches exhaustively on
// Kind rather than probing fields.
type Metadata struct {
	Kind    string           `bson:"kind"`
	Webpage *WebpageMetadata `bson:"webpage,omitempty"`
	Arxiv   *ArxivMetadata   `bson:"arxiv,omitempty"`
	Tweet   *TweetMetadata   `bson:"tweet,omitempty"`
}

func NewWebpageMetadata(m WebpageMetadata) Metadata {
	return Metadata{Kind: CategoryWebpage, Webpage: &m}
}

func NewArxivMetadata(m ArxivMetadata) Metadata {
	return Metadata{Kind: CategoryArxiv, Arxiv: &m}
}

func NewTweetMetadata(m TweetMetadata) Metadata {
	return Metadata{Kind: CategoryTweet, Tweet: &m}
}

// Validate checks the tag and that the matching payload is the one set.
func (m Metadata) Validate() error {
	switch m.Kind {
	case CategoryWebpage:
		if m.Webpage == nil {
			return fmt.Errorf("metadata kind %q without webpage payload", m.Kind)
		}
	case CategoryArxiv:
		if m.Arxiv == nil {
			return fmt.Errorf("metadata kind %q without arxiv payload", m.Kind)
		}
	case CategoryTweet:
		if m.Tweet == nil {
			return fmt.Errorf("metadata kind %q without tweet payload", m.Kind)
		}
	default:
		return fmt.Errorf("unknown metadata kind %q", m.Kind)
	}
	return nil
}

// MarshalJSON renders the active payload flat, the shape the frontend
// consumes: {"author": ..., "title": ...} rather than a nested variant.
func (m Metadata) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case CategoryWebpage:
		if m.Webpage != nil {
			return json.Marshal(m.Webpage)
		}
	case CategoryArxiv:
		if m.Arxiv != nil {
			return json.Marshal(m.Arxiv)
		}
	case CategoryTweet:
		if m.Tweet != nil {
			return json.Marshal(m.Tweet)
		}
	}
	return []byte("{}"), nil
}

// Title returns the display title of the active payload, empty when the
// payload has none (tweets).
func (m Metadata) Title() string {
	switch m.Kind {
	case CategoryWebpage:
		if m.Webpage != nil {
			return m.Webpage.Title
		}
	case CategoryArxiv:
		if m.Arxiv != nil {
			return m.Arxiv.Title
		}
	case CategoryTweet:
	}
	return ""
}

// Authors returns every author-like field of the active payload, used by
// the author filter.
func (m Metadata) Authors() []string {
	switch m.Kind {
	case CategoryWebpage:
		if m.Webpage != nil && m.Webpage.Author != "" {
			return []string{m.Webpage.Author}
		}
	case CategoryArxiv:
		if m.Arxiv != nil {
			return m.Arxiv.Authors
		}
	case CategoryTweet:
		if m.Tweet != nil && m.Tweet.UserID != "" {
			return []string{m.Tweet.UserID}
		}
	}
	return nil
}

// MatchesAuthor reports whether any author field contains the given
// substring, case-insensitively.
func (m Metadata) MatchesAuthor(substr string) bool {
	needle := strings.ToLower(substr)
	for _, a := range m.Authors() {
		if strings.Contains(strings.ToLower(a), needle) {
			return true
		}
	}
	return false
}
