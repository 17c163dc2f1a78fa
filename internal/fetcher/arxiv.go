package fetcher

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"readstash-backend/models"

	"github.com/ledongthuc/pdf"
)

const (
	arxivAPIURL = "http://export.arxiv.org/api/query"
	arxivPDFURL = "https://arxiv.org/pdf/"
	arxivAbsURL = "https://arxiv.org/abs/"
)

var (
	arxivURLOrIDRegex     = regexp.MustCompile(`^(https?://arxiv\.org/(abs|pdf)/)?(\d+\.\d+[vV]?\d+)`)
	arxivVersionedIDRegex = regexp.MustCompile(`\d+\.\d+[vV]\d+`)
)

// ArxivSource resolves an arxiv URL or bare paper id to its versioned
// abstract page, pulling metadata from the export API and the full text from
// the paper's PDF.
type ArxivSource struct {
	client *http.Client
}

func NewArxivSource(timeout time.Duration) *ArxivSource {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ArxivSource{client: &http.Client{Timeout: timeout}}
}

func (s *ArxivSource) Category() string { return models.CategoryArxiv }

func (s *ArxivSource) Match(rawURL string) bool {
	return arxivURLOrIDRegex.MatchString(rawURL)
}

func (s *ArxivSource) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	id := arxivID(rawURL)
	if id == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}

	entry, err := s.fetchMetadata(ctx, id)
	if err != nil {
		return nil, err
	}

	// The API echoes the id back with its current version. Canonicalizing
	// on the versioned abstract URL makes re-ingesting an unversioned link
	// after a revision produce a distinct document.
	versioned := strings.ToLower(arxivVersionedIDRegex.FindString(entry.ID))
	if versioned == "" {
		return nil, fmt.Errorf("%w: no versioned id in api response for %s", ErrFetch, id)
	}

	text, err := s.fetchPDFText(ctx, versioned)
	if err != nil {
		return nil, err
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		authors = append(authors, a.Name)
	}

	return &Result{
		URL:      arxivAbsURL + versioned,
		Category: models.CategoryArxiv,
		Text:     text,
		Metadata: models.NewArxivMetadata(models.ArxivMetadata{
			Title:     collapseFeedWhitespace(entry.Title),
			Authors:   authors,
			Published: entry.Published,
			Summary:   collapseFeedWhitespace(entry.Summary),
		}),
	}, nil
}

func arxivID(rawURL string) string {
	m := arxivURLOrIDRegex.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[3])
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Published string       `xml:"published"`
	Summary   string       `xml:"summary"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

func (s *ArxivSource) fetchMetadata(ctx context.Context, id string) (*atomEntry, error) {
	return s.fetchMetadataFrom(ctx, arxivAPIURL, id)
}

func (s *ArxivSource) fetchMetadataFrom(ctx context.Context, apiURL, id string) (*atomEntry, error) {
	query := url.Values{"id_list": {id}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: arxiv api returned %d for %s", ErrFetch, res.StatusCode, id)
	}

	var feed atomFeed
	if err := xml.NewDecoder(res.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: decoding arxiv api response: %v", ErrFetch, err)
	}
	if len(feed.Entries) == 0 || feed.Entries[0].ID == "" {
		return nil, fmt.Errorf("%w: arxiv api returned no entry for %s", ErrFetch, id)
	}
	return &feed.Entries[0], nil
}

func (s *ArxivSource) fetchPDFText(ctx context.Context, versionedID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivPDFURL+versionedID, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: arxiv pdf returned %d for %s", ErrFetch, res.StatusCode, versionedID)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading arxiv pdf: %v", ErrFetch, err)
	}

	return extractPDFText(data, versionedID)
}

func extractPDFText(data []byte, versionedID string) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: parsing pdf for %s: %v", ErrFetch, versionedID, err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n\n"), nil
}

// collapseFeedWhitespace undoes the line wrapping the export API applies to
// titles and abstracts.
func collapseFeedWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
