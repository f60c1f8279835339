// internal/tools/search.go
package tools

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"
	"github.com/xkilldash9x/webpilot/internal/config"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// -- DuckDuckGo HTML search --

// DDGSearcher queries the DuckDuckGo HTML endpoint and parses result links.
type DDGSearcher struct {
	client   *resty.Client
	endpoint string
	maxCap   int
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewDDGSearcher builds a searcher from the search config section.
func NewDDGSearcher(cfg config.SearchConfig, logger *zap.Logger) *DDGSearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	client := resty.New().
		SetTimeout(timeout).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/html").
		SetHeader("Accept-Encoding", "br, gzip")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &DDGSearcher{
		client:   client,
		endpoint: cfg.Endpoint,
		maxCap:   cfg.MaxResults,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.Named("web_search"),
	}
}

// Search returns up to maxResults distinct result links for the query.
// The configured max_results caps the request.
func (s *DDGSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if s.maxCap > 0 && (maxResults <= 0 || maxResults > s.maxCap) {
		maxResults = s.maxCap
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		Get(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode())
	}

	reader, err := decodeBody(body, resp.Header().Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	results := parseResults(doc, maxResults)
	s.logger.Debug("Search completed.", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

func decodeBody(body io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "br":
		return brotli.NewReader(body), nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip search response: %w", err)
		}
		return zr, nil
	case "", "identity":
		return body, nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

// parseResults walks the document for result anchors (class result__a) in order.
func parseResults(doc *html.Node, maxResults int) []SearchResult {
	var results []SearchResult
	seen := make(map[string]bool)
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			if link := resolveResultURL(attrValue(n, "href")); link != "" && !seen[link] {
				seen[link] = true
				results = append(results, SearchResult{Title: strings.TrimSpace(textContent(n)), URL: link})
				if maxResults > 0 && len(results) >= maxResults {
					return false
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return results
}

// resolveResultURL unwraps DuckDuckGo redirect links (/l/?uddg=<target>).
func resolveResultURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

// -- web_search tool --

type webSearchTool struct{}

// WebSearch lists result links for a query.
func WebSearch() Tool { return webSearchTool{} }

func (webSearchTool) Name() string { return "web_search" }

func (webSearchTool) Description() string {
	return "Searches the internet for information related to the user's query such as finding out any links which are relevant to the user's query. Note that this is only to find out the links and not to scrape the content of the links. Can be useful when the user doesn't specify a website to scrape."
}

func (webSearchTool) Schema() []ArgSpec {
	return []ArgSpec{
		{Name: "query", Type: ArgString, Required: true, Description: "The query to search for on the internet"},
		{Name: "max_results", Type: ArgInt, Default: 10, Description: "The maximum number of results to return"},
	}
}

func (webSearchTool) Execute(ctx context.Context, env *Env, args Args) (interface{}, error) {
	if env.Searcher == nil {
		return nil, errors.New("web search is not configured")
	}
	results, err := env.Searcher.Search(ctx, args.String("query"), args.Int("max_results"))
	if err != nil {
		return nil, err
	}
	links := make([]string, 0, len(results))
	for _, r := range results {
		links = append(links, r.URL)
	}
	return strings.Join(links, "\n"), nil
}
