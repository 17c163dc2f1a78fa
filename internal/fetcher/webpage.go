package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"readstash-backend/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	colly "github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"
)

var webpageURLRegex = regexp.MustCompile(
	`^https?://(www\.)?[-a-zA-Z0-9@:%._\+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_\+.~#?&/=]*)$`,
)

// Tags whose text is part of the readable content, and tags whose subtrees are
// navigation or chrome and must be dropped before extraction.
var (
	includeSelector = "p, pre, h1, h2, h3, h4, h5, h6, ul, ol, li, blockquote, code"
	excludeSelector = "head, footer, nav, script, style, aside"
)

var httpTransport = &http.Transport{
	DisableCompression: false,
}

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// WebpageSource fetches a single page and extracts readable text, metadata
// from meta tags and the outbound anchors.
type WebpageSource struct {
	timeout time.Duration
}

func NewWebpageSource(timeout time.Duration) *WebpageSource {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WebpageSource{timeout: timeout}
}

func (s *WebpageSource) Category() string { return models.CategoryWebpage }

func (s *WebpageSource) Match(rawURL string) bool {
	return webpageURLRegex.MatchString(rawURL)
}

func (s *WebpageSource) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	c := colly.NewCollector(colly.StdlibContext(ctx))
	c.WithTransport(httpTransport)
	c.SetRequestTimeout(s.timeout)
	c.UserAgent = browserUserAgent

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})

	// Go's transport decompresses gzip transparently but not brotli, and the
	// body may arrive in a non-UTF-8 charset. Normalize both before parsing.
	c.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		var bodyReader io.Reader = bytes.NewReader(r.Body)

		if strings.Contains(r.Headers.Get("Content-Encoding"), "br") {
			if decompressed, err := io.ReadAll(brotli.NewReader(bodyReader)); err == nil {
				r.Body = decompressed
				bodyReader = bytes.NewReader(decompressed)
			}
		}

		if len(r.Body) > 0 {
			if utf8Reader, err := charset.NewReader(bodyReader, contentType); err == nil {
				if decoded, readErr := io.ReadAll(utf8Reader); readErr == nil && len(decoded) > 0 {
					r.Body = decoded
				}
			}
		}
	})

	var (
		result   *Result
		fetchErr error
	)

	c.OnHTML("html", func(e *colly.HTMLElement) {
		result = buildWebpageResult(rawURL, e)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r.StatusCode != 0 {
			fetchErr = fmt.Errorf("%w: GET %s returned %d", ErrFetch, rawURL, r.StatusCode)
			return
		}
		fetchErr = fmt.Errorf("%w: GET %s: %v", ErrFetch, rawURL, err)
	})

	if err := c.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s returned no HTML", ErrFetch, rawURL)
	}
	return result, nil
}

func buildWebpageResult(rawURL string, e *colly.HTMLElement) *Result {
	doc := e.DOM.Clone()
	meta := scrapeWebpageMetadata(rawURL, doc)

	doc.Find(excludeSelector).Remove()
	text := extractReadableText(doc)

	links := extractLinks(e)

	return &Result{
		URL:      rawURL,
		Category: models.CategoryWebpage,
		Text:     text,
		Metadata: models.NewWebpageMetadata(meta),
		LinkURLs: links,
	}
}

// extractReadableText collects the text of content-bearing tags in document
// order, joined by blank lines. Nested matches are skipped so that a list
// contributes its items once, through the outermost matching element.
func extractReadableText(doc *goquery.Selection) string {
	var parts []string
	doc.Find(includeSelector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(includeSelector).Length() > 0 {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

func extractLinks(e *colly.HTMLElement) []string {
	seen := map[string]struct{}{}
	var links []string

	e.DOM.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		hrefLower := strings.ToLower(href)
		if strings.HasPrefix(href, "#") ||
			strings.HasPrefix(hrefLower, "javascript:") ||
			strings.HasPrefix(hrefLower, "mailto:") ||
			strings.HasPrefix(hrefLower, "tel:") {
			return
		}

		absolute := e.Request.AbsoluteURL(href)
		if absolute == "" {
			return
		}
		if _, dup := seen[absolute]; dup {
			return
		}
		seen[absolute] = struct{}{}
		links = append(links, absolute)
	})

	return links
}

// scrapeWebpageMetadata reads Open Graph, Twitter card and standard meta tags,
// trying the most specific properties first.
func scrapeWebpageMetadata(pageURL string, doc *goquery.Selection) models.WebpageMetadata {
	find := func(queries ...string) string {
		return findMetaAttr(doc, "content", queries...)
	}

	meta := models.WebpageMetadata{
		Author: find(
			"meta[property='article:author']",
			"meta[name='author']",
		),
		Description: find(
			"meta[property='og:description']",
			"meta[name='twitter:description']",
			"meta[property='twitter:description']",
			"meta[name='description']",
		),
		Image: find(
			"meta[property='og:image:secure_url']",
			"meta[property='og:image:url']",
			"meta[property='og:image']",
			"meta[name='twitter:image:src']",
			"meta[property='twitter:image:src']",
			"meta[name='twitter:image']",
			"meta[property='twitter:image']",
		),
		Logo:      findMetaAttr(doc, "href", "link[rel*='icon']"),
		Publisher: find("meta[property='og:site_name']"),
		Title: find(
			"meta[property='og:title']",
			"meta[name='twitter:title']",
			"meta[property='twitter:title']",
		),
	}

	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if base, err := url.Parse(pageURL); err == nil {
		meta.Image = resolveRelative(base, meta.Image)
		meta.Logo = resolveRelative(base, meta.Logo)
	}

	return meta
}

func findMetaAttr(doc *goquery.Selection, attribute string, queries ...string) string {
	for _, query := range queries {
		node := doc.Find(query).First()
		if value, ok := node.Attr(attribute); ok && value != "" {
			return value
		}
	}
	return ""
}

func resolveRelative(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
