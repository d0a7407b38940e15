package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/kobo-stats/config"
)

const (
	endpointSearch  = "search"
	endpointEdition = "edition"
)

// SearchResponse matches the fields requested from search.json.
type SearchResponse struct {
	NumFound int         `json:"numFound"`
	Docs     []SearchDoc `json:"docs"`
}

// SearchDoc is one work returned by search.json.
type SearchDoc struct {
	Key             string   `json:"key"`
	Title           string   `json:"title"`
	ISBN            []string `json:"isbn"`
	EditionKey      []string `json:"edition_key"`
	CoverEditionKey string   `json:"cover_edition_key"`
}

// Edition matches books/{OLID}.json.
type Edition struct {
	Key    string   `json:"key"`
	ISBN13 []string `json:"isbn_13"`
}

// Client looks up ISBNs on Open Library through a colly collector.
type Client struct {
	cfg       *config.Config
	baseURL   string
	collector *colly.Collector
	limiter   *rate.Limiter
	editions  *lru.Cache[string, string]
	Metrics   *Metrics
}

// NewClient builds a client configured from cfg.
func NewClient(cfg *config.Config, metrics *Metrics) (*Client, error) {
	parsed, err := url.Parse(cfg.OpenLibraryURL)
	if err != nil {
		return nil, fmt.Errorf("parse open library url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("open library url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	editions, err := lru.New[string, string](cfg.EditionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create edition cache: %w", err)
	}

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		cfg:       cfg,
		baseURL:   strings.TrimSuffix(cfg.OpenLibraryURL, "/"),
		collector: collector,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		editions:  editions,
		Metrics:   metrics,
	}, nil
}

// SearchISBN searches by title (and author when known) and returns the
// first ISBN-13 found, or "" when there is none. Editions of the candidate
// works are consulted when the search docs carry no ISBN-13.
func (c *Client) SearchISBN(ctx context.Context, title, author string) (string, error) {
	res, err := c.Search(ctx, title, author)
	if err != nil {
		return "", err
	}

	for _, doc := range res.Docs {
		if isbn := FirstISBN13(doc.ISBN); isbn != "" {
			return isbn, nil
		}
	}

	lookups := 0
	for _, key := range editionCandidates(res.Docs) {
		if lookups >= c.cfg.MaxEditionLookups {
			break
		}
		lookups++

		isbn, err := c.EditionISBN(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			slog.Debug("edition lookup failed", slog.String("edition", key), slog.Any("error", err))
			continue
		}
		if isbn != "" {
			return isbn, nil
		}
	}
	return "", nil
}

// Search queries search.json.
func (c *Client) Search(ctx context.Context, title, author string) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("title", title)
	if strings.TrimSpace(author) != "" {
		q.Set("author", author)
	}
	q.Set("fields", "key,title,isbn,edition_key,cover_edition_key")
	q.Set("limit", "5")

	var res SearchResponse
	if err := c.fetchJSON(ctx, endpointSearch, c.baseURL+"/search.json?"+q.Encode(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// EditionISBN returns the first ISBN-13 of an edition, memoized for the run.
func (c *Client) EditionISBN(ctx context.Context, editionKey string) (string, error) {
	key := strings.TrimPrefix(editionKey, "/books/")
	if isbn, ok := c.editions.Get(key); ok {
		return isbn, nil
	}

	var ed Edition
	if err := c.fetchJSON(ctx, endpointEdition, c.baseURL+"/books/"+url.PathEscape(key)+".json", &ed); err != nil {
		return "", err
	}
	isbn := FirstISBN13(ed.ISBN13)
	c.editions.Add(key, isbn)
	return isbn, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint, rawURL string, target any) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.Metrics.IncRetries()
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return ErrTimeout{Err: ctx.Err()}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return ErrTimeout{Err: err}
		}

		body, err := c.get(endpoint, rawURL)
		if err == nil {
			if err := json.Unmarshal(body, target); err != nil {
				c.Metrics.IncError("bad_response")
				return ErrBadResponse{Err: err}
			}
			return nil
		}

		lastErr = err
		if !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Client) get(endpoint, rawURL string) ([]byte, error) {
	collector := c.collector.Clone()

	var (
		body       []byte
		statusCode int
		reqErr     error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
		statusCode = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		reqErr = err
	})

	c.Metrics.IncRequest(endpoint)
	start := time.Now()
	err := collector.Visit(rawURL)
	c.Metrics.ObserveDuration(time.Since(start))
	if reqErr == nil {
		reqErr = err
	}

	if reqErr != nil {
		classified := classifyError(reqErr, statusCode)
		category := errorTypeLabel(classified)
		c.Metrics.IncError(category)
		slog.Debug("open library request failed",
			slog.String("url", rawURL),
			slog.Int("status", statusCode),
			slog.String("category", category),
			slog.Any("error", reqErr),
		)
		return nil, classified
	}

	slog.Debug("open library request", slog.String("url", rawURL), slog.Int("status", statusCode))
	return body, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := c.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := c.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// editionCandidates lists cover editions first, then the remaining
// edition keys, without duplicates.
func editionCandidates(docs []SearchDoc) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(key string) {
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for _, doc := range docs {
		add(doc.CoverEditionKey)
	}
	for _, doc := range docs {
		for _, key := range doc.EditionKey {
			add(key)
		}
	}
	return out
}
