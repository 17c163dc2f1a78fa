package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document categories. Every ingested document carries exactly one.
const (
	CategoryArxiv   = "arxiv"
	CategoryTweet   = "tweet"
	CategoryWebpage = "webpage"
)

// AllCategories lists every known category, in fetcher match order.
var AllCategories = []string{CategoryArxiv, CategoryTweet, CategoryWebpage}

func ValidCategory(category string) bool {
	for _, c := range AllCategories {
		if c == category {
			return true
		}
	}
	return false
}

// DocumentIDFromURL derives the document identity from its source URL.
// The same URL always resolves to the same id, so re-ingestion replaces
// rather than duplicates.
func DocumentIDFromURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:16])
}

// Link is a directed edge to another document. Because ids are derived
// from URLs, the target id is known even before the target is ingested.
type Link struct {
	DocumentID string `bson:"document_id" json:"document_id"`
	URL        string `bson:"url" json:"url"`
}

// Document is the stored record for one ingested URL.
//
// Backlinks are derived from other documents' links and are never set
// directly by a client. CreatedAt is fixed on first ingestion and
// preserved across re-ingestion, as are IsRead/IsBookmarked.
type Document struct {
	DocumentID   string    `bson:"_id" json:"document_id"`
	Category     string    `bson:"category" json:"category"`
	URL          string    `bson:"url" json:"url"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	Metadata     Metadata  `bson:"metadata" json:"metadata"`
	Text         string    `bson:"text" json:"-"`
	IsRead       bool      `bson:"is_read" json:"is_read"`
	IsBookmarked bool      `bson:"is_bookmarked" json:"is_bookmarked"`
	Links        []Link    `bson:"links" json:"links"`
	Backlinks    []Link    `bson:"backlinks" json:"backlinks"`

	// Score is only populated by vector-ranked queries, rescaled to [0, 1].
	Score *float64 `bson:"-" json:"score,omitempty"`
}

// HasLinkTo reports whether the document already records an outgoing edge
// to the given target id.
func (d *Document) HasLinkTo(targetID string) bool {
	for _, l := range d.Links {
		if l.DocumentID == targetID {
			return true
		}
	}
	return false
}

// HasBacklinkFrom reports whether the document already records an incoming
// edge from the given source id.
func (d *Document) HasBacklinkFrom(sourceID string) bool {
	for _, l := range d.Backlinks {
		if l.DocumentID == sourceID {
			return true
		}
	}
	return false
}
