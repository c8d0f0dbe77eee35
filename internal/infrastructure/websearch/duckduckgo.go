package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/search"
)

const duckDuckGoBaseURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML results page of DuckDuckGo.
type DuckDuckGo struct {
	client  *http.Client
	baseURL string
}

var _ search.Source = (*DuckDuckGo)(nil)

// NewDuckDuckGo wires an HTTP client; baseURL defaults to the public endpoint.
func NewDuckDuckGo(client *http.Client, baseURL string) *DuckDuckGo {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if baseURL == "" {
		baseURL = duckDuckGoBaseURL
	}
	return &DuckDuckGo{client: client, baseURL: baseURL}
}

// Name identifies the strategy inside the registry.
func (d *DuckDuckGo) Name() string {
	return "duckduckgo"
}

// Search returns at most limit organic results for query.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}

	pageURL, err := buildSearchURL(d.baseURL, query)
	if err != nil {
		return nil, err
	}

	doc, err := d.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}

	return extractResults(doc, limit), nil
}

func (d *DuckDuckGo) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OutreachEngine/1.0)")
	req.Header.Set("Accept", "text/html")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func extractResults(doc *goquery.Document, limit int) []domain.SearchResult {
	var (
		results []domain.SearchResult
		seen    = map[string]struct{}{}
	)

	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(results) >= limit {
			return false
		}
		if s.HasClass("result--ad") {
			return true
		}

		result, ok := parseResult(s)
		if !ok {
			return true
		}
		if _, dup := seen[result.URL]; dup {
			return true
		}
		seen[result.URL] = struct{}{}
		results = append(results, result)
		return true
	})

	return results
}

func parseResult(s *goquery.Selection) (domain.SearchResult, bool) {
	link := s.Find("a.result__a").First()
	href, exists := link.Attr("href")
	if !exists {
		return domain.SearchResult{}, false
	}

	target := resolveRedirect(href)
	if target == "" {
		return domain.SearchResult{}, false
	}

	return domain.SearchResult{
		Title:   collapseSpace(link.Text()),
		URL:     target,
		Snippet: collapseSpace(s.Find(".result__snippet").First().Text()),
	}, true
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= tracking links.
func resolveRedirect(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}

func buildSearchURL(base, query string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid search url %s: %w", base, err)
	}

	values := parsed.Query()
	values.Set("q", query)
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
