package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/search"
)

const googleNewsBaseURL = "https://news.google.com/rss/search"

// NewsRSS searches the Google News RSS endpoint.
type NewsRSS struct {
	client   *http.Client
	baseURL  string
	language string
	region   string
}

var _ search.Source = (*NewsRSS)(nil)

// NewNewsRSS builds the news source for an English/US edition by default.
func NewNewsRSS(client *http.Client, baseURL string) *NewsRSS {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if baseURL == "" {
		baseURL = googleNewsBaseURL
	}
	return &NewsRSS{client: client, baseURL: baseURL, language: "en-US", region: "US"}
}

// Name identifies the strategy inside the registry.
func (n *NewsRSS) Name() string {
	return "newsrss"
}

// Search returns at most limit feed items for query.
func (n *NewsRSS) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}

	feedURL, err := n.feedURL(query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OutreachEngine/1.0)")
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, text/xml;q=0.8")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed returned %s", resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	out := make([]domain.SearchResult, 0, len(feed.Items))
	for _, it := range feed.Items {
		if limit > 0 && len(out) >= limit {
			break
		}
		link := strings.TrimSpace(it.Link)
		if link == "" {
			continue
		}
		out = append(out, domain.SearchResult{
			Title:   strings.TrimSpace(it.Title),
			URL:     link,
			Snippet: plainText(it.Description),
		})
	}
	return out, nil
}

func (n *NewsRSS) feedURL(query string) (string, error) {
	parsed, err := url.Parse(n.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url %s: %w", n.baseURL, err)
	}
	lang, _, _ := strings.Cut(n.language, "-")

	values := parsed.Query()
	values.Set("q", query)
	values.Set("hl", n.language)
	values.Set("gl", n.region)
	values.Set("ceid", n.region+":"+lang)
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

// plainText strips the HTML that feeds embed in item descriptions.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapseSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpace(fragment)
	}
	return collapseSpace(doc.Text())
}
