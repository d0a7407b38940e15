package enrich

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/aluiziolira/kobo-stats/models"
)

// Searcher finds an ISBN-13 for a title and author. "" means none was found.
type Searcher interface {
	SearchISBN(ctx context.Context, title, author string) (string, error)
}

// Result summarizes one enrichment pass.
type Result struct {
	Candidates int
	Looked     int
	CacheHits  int
	NewISBNs   int
	Failures   int
}

// Service fills Book.ISBN13 from the cache or the searcher.
type Service struct {
	searcher Searcher
	cache    *Cache
	workers  int
	metrics  *Metrics
	group    singleflight.Group

	// Progress is called after each book with the number processed so far.
	Progress func(done, total int)
}

// NewService wires a searcher to a cache. workers < 1 is treated as 1.
func NewService(searcher Searcher, cache *Cache, workers int, metrics *Metrics) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		searcher: searcher,
		cache:    cache,
		workers:  workers,
		metrics:  metrics,
	}
}

type lookupOutcome struct {
	isbn    string
	cached  bool
	looked  bool
	failed  bool
	aborted bool
}

// Enrich looks up ISBNs for books with a title. Lookup failures are stored
// as negative cache entries and never abort the pass; only cancellation of
// ctx stops it early. The cache is not flushed here.
func (s *Service) Enrich(ctx context.Context, books []*models.Book) (Result, error) {
	var candidates []*models.Book
	for _, b := range books {
		if strings.TrimSpace(b.Title) == "" {
			continue
		}
		candidates = append(candidates, b)
	}

	var (
		mu     sync.Mutex
		result = Result{Candidates: len(candidates)}
		done   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, book := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := s.lookup(gctx, book.Title, book.Author)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.aborted:
			case out.cached:
				result.CacheHits++
			default:
				if out.looked {
					result.Looked++
				}
				if out.failed {
					result.Failures++
				}
				if out.isbn != "" {
					result.NewISBNs++
				}
			}
			if out.isbn != "" {
				isbn := out.isbn
				book.ISBN13 = &isbn
			}
			done++
			if s.Progress != nil {
				s.Progress(done, len(candidates))
			}
			return nil
		})
	}

	_ = g.Wait()
	return result, ctx.Err()
}

func (s *Service) lookup(ctx context.Context, title, author string) lookupOutcome {
	key := CacheKey(title, author)

	if isbn, ok := s.cache.Get(key); ok {
		if isbn == "" {
			s.metrics.IncCacheLookup("negative_hit")
		} else {
			s.metrics.IncCacheLookup("hit")
		}
		return lookupOutcome{isbn: isbn, cached: true}
	}
	if ctx.Err() != nil {
		return lookupOutcome{aborted: true}
	}

	leader := false
	v, _, _ := s.group.Do(key, func() (any, error) {
		leader = true
		// Another flight for the same key may have finished while we waited.
		if isbn, ok := s.cache.Get(key); ok {
			return lookupOutcome{isbn: isbn, cached: true}, nil
		}

		s.metrics.IncCacheLookup("miss")
		isbn, err := s.searcher.SearchISBN(ctx, title, author)
		if err != nil {
			if ctx.Err() != nil {
				return lookupOutcome{aborted: true}, nil
			}
			slog.Warn("isbn lookup failed",
				slog.String("title", title),
				slog.String("author", author),
				slog.String("category", errorTypeLabel(err)),
				slog.Any("error", err),
			)
			s.cache.Set(key, "")
			return lookupOutcome{looked: true, failed: true}, nil
		}

		s.cache.Set(key, isbn)
		if isbn != "" {
			s.metrics.IncFound()
			slog.Debug("isbn found", slog.String("title", title), slog.String("isbn", isbn))
		}
		return lookupOutcome{isbn: isbn, looked: true}, nil
	})

	out := v.(lookupOutcome)
	if !leader && !out.aborted {
		// Callers that joined another flight count as cache hits.
		return lookupOutcome{isbn: out.isbn, cached: true}
	}
	return out
}
