package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"readstash-backend/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

const tweetBaseURL = "https://twitter.com"

var (
	tweetURLRegex    = regexp.MustCompile(`^https://(twitter|x)\.com(/\w+/status/\d+)`)
	tweetUserIDRegex = regexp.MustCompile(`^/(\w+)/status/\d+`)
)

// TweetSource renders a tweet page in a headless browser and extracts the
// author's thread: the requested tweet plus the consecutive replies by the
// same author.
type TweetSource struct {
	timeout time.Duration
}

func NewTweetSource(timeout time.Duration) *TweetSource {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &TweetSource{timeout: timeout}
}

func (s *TweetSource) Category() string { return models.CategoryTweet }

func (s *TweetSource) Match(rawURL string) bool {
	return tweetURLRegex.MatchString(rawURL)
}

// tweetPath extracts the canonical "/<user>/status/<id>" path, lowercased.
func tweetPath(rawURL string) string {
	m := tweetURLRegex.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[2])
}

func tweetUserID(path string) string {
	m := tweetUserIDRegex.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

type tweet struct {
	path   string
	userID string
	text   string
	links  []string
}

func (s *TweetSource) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	path := tweetPath(rawURL)
	if path == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
	canonical := tweetBaseURL + path

	html, err := s.renderPage(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("%w: rendering %s: %v", ErrFetch, canonical, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrFetch, canonical, err)
	}

	tweets := threadTweets(doc, path)
	if len(tweets) == 0 {
		return nil, fmt.Errorf("%w: no tweet content found at %s", ErrFetch, canonical)
	}

	threadIDs := make([]string, 0, len(tweets))
	texts := make([]string, 0, len(tweets))
	seen := map[string]struct{}{canonical: {}}
	var links []string
	for _, tw := range tweets {
		threadIDs = append(threadIDs, tw.path)
		if tw.text != "" {
			texts = append(texts, tw.text)
		}
		for _, link := range tw.links {
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			links = append(links, link)
		}
	}

	return &Result{
		URL:      canonical,
		Category: models.CategoryTweet,
		Text:     strings.Join(texts, "\n\n"),
		Metadata: models.NewTweetMetadata(models.TweetMetadata{
			UserID:    tweets[0].userID,
			ThreadIDs: threadIDs,
		}),
		LinkURLs: links,
	}, nil
}

func (s *TweetSource) renderPage(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(browserUserAgent),
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(pageURL)); err != nil {
		return "", err
	}

	// Tweets hydrate client-side; the article element appears once the
	// thread has loaded.
	waitCtx, cancelWait := context.WithTimeout(browserCtx, 15*time.Second)
	defer cancelWait()
	_ = chromedp.Run(waitCtx, chromedp.WaitVisible("article", chromedp.ByQuery))

	var html string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// threadTweets walks the rendered articles in page order and keeps the run of
// tweets by the requested tweet's author, starting at the requested tweet.
func threadTweets(doc *goquery.Document, startPath string) []tweet {
	userID := tweetUserID(startPath)

	var all []tweet
	doc.Find("article").Each(func(_ int, article *goquery.Selection) {
		if tw, ok := parseTweet(article); ok {
			all = append(all, tw)
		}
	})

	var thread []tweet
	pending := true
	for _, tw := range all {
		if tw.path == startPath {
			pending = false
		}
		if pending {
			continue
		}
		if tw.userID != userID {
			break
		}
		thread = append(thread, tw)
	}
	return thread
}

func parseTweet(article *goquery.Selection) (tweet, bool) {
	var tw tweet

	// The permalink timestamp carries "/<user>/status/<id>".
	timeLink := article.Find("a:has(time)").First()
	href, ok := timeLink.Attr("href")
	if !ok {
		return tw, false
	}
	parts := strings.Split(href, "/")
	if len(parts) < 4 {
		return tw, false
	}
	tw.path = strings.ToLower(strings.Join(parts[:4], "/"))
	tw.userID = tweetUserID(tw.path)

	body := article.Find("div[data-testid='tweetText']").First()
	tw.text = strings.TrimSpace(body.Text())

	body.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if link := externalLink(a); link != "" {
			tw.links = append(tw.links, link)
		}
	})
	if card := article.Find("div[data-testid='card.wrapper'] a[href]").First(); card.Length() > 0 {
		if href, ok := card.Attr("href"); ok {
			if link := absoluteTweetLink(href); link != "" {
				tw.links = append(tw.links, link)
			}
		}
	}

	return tw, true
}

// externalLink returns the absolute URL of an anchor inside the tweet text.
// Shortened t.co anchors display the expanded URL as their text, possibly
// truncated with an ellipsis, in which case the link is unusable.
func externalLink(a *goquery.Selection) string {
	text := strings.TrimSpace(a.Text())
	if strings.HasSuffix(text, "…") {
		return ""
	}
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		if _, err := url.Parse(text); err == nil {
			return text
		}
	}
	return ""
}

func absoluteTweetLink(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		return tweetBaseURL + href
	}
	return ""
}
