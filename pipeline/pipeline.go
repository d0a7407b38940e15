// Package pipeline runs one export: load the library, enrich it, and write
// the merged snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aluiziolira/kobo-stats/config"
	"github.com/aluiziolira/kobo-stats/enrich"
	"github.com/aluiziolira/kobo-stats/library"
	"github.com/aluiziolira/kobo-stats/models"
)

var (
	// ErrPipelineClosed is returned when a writer is used after Close.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// Options carries the collaborators of a run. Zero values get defaults.
type Options struct {
	RunID string
	// Searcher replaces the Open Library client.
	Searcher enrich.Searcher
	Metrics  *enrich.Metrics
	// Out receives progress, the summary, and the console report.
	Out io.Writer
	Now func() time.Time
}

// Run executes load, enrichment, cache flush, and save (or console report).
// Only an unreadable source or a failed final write is fatal.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*models.RunResult, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	result := &models.RunResult{
		RunID:      opts.RunID,
		StartTime:  opts.Now(),
		OutputFile: cfg.OutputFile,
	}

	lib, err := library.Load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("library loaded",
		slog.Int("books", len(lib.Books)),
		slog.Int("skipped", lib.Stats.SkippedBooks),
		slog.Int("decode_failures", lib.Stats.DecodeFailures),
	)

	result.BookCount = len(lib.Books)
	result.WordCount, result.QuoteCount = lib.HighlightCounts()
	result.CoverCount = lib.CoverCount()
	result.DecodeFailures = lib.Stats.DecodeFailures
	result.SchemaMisses = lib.Schema.Misses

	if cfg.EnrichISBN {
		res, err := enrichBooks(ctx, cfg, opts, lib.Books)
		result.NewISBNs = res.NewISBNs
		result.ISBNFailures = res.Failures
		if err != nil {
			return result, err
		}
	}

	if cfg.Console {
		PrintReport(opts.Out, lib.Books)
		result.OutputFile = ""
		result.EndTime = opts.Now()
		return result, nil
	}

	writer := newWriter(cfg, opts)
	if err := writer.Write(lib.Books); err != nil {
		return result, fmt.Errorf("write export: %w", err)
	}
	if err := writer.Close(); err != nil {
		return result, err
	}
	if err := writer.Validate(); err != nil {
		return result, fmt.Errorf("output validation failed: %w", err)
	}

	result.EndTime = opts.Now()
	return result, nil
}

func enrichBooks(ctx context.Context, cfg *config.Config, opts Options, books []*models.Book) (enrich.Result, error) {
	cache, err := enrich.LoadCache(cfg.CacheFile)
	if err != nil {
		slog.Warn("isbn cache not loaded, using an empty one", slog.Any("error", err))
		cache = enrich.NewMemoryCache()
	}

	searcher := opts.Searcher
	if searcher == nil {
		client, err := enrich.NewClient(cfg, opts.Metrics)
		if err != nil {
			return enrich.Result{}, fmt.Errorf("create open library client: %w", err)
		}
		searcher = client
	}

	svc := enrich.NewService(searcher, cache, cfg.Workers, opts.Metrics)
	svc.Progress = func(done, total int) {
		fmt.Fprintf(opts.Out, "\rFetching ISBNs %d/%d", done, total)
		if done == total {
			fmt.Fprintln(opts.Out)
		}
	}

	res, enrichErr := svc.Enrich(ctx, books)
	slog.Info("isbn enrichment finished",
		slog.Int("candidates", res.Candidates),
		slog.Int("cache_hits", res.CacheHits),
		slog.Int("lookups", res.Looked),
		slog.Int("new_isbns", res.NewISBNs),
		slog.Int("failures", res.Failures),
	)

	if wrote, err := cache.Flush(); err != nil {
		slog.Warn("isbn cache not saved", slog.String("path", cfg.CacheFile), slog.Any("error", err))
	} else if wrote {
		slog.Debug("isbn cache saved", slog.String("path", cfg.CacheFile), slog.Int("entries", cache.Len()))
	}

	if enrichErr != nil {
		return res, fmt.Errorf("isbn enrichment interrupted: %w", enrichErr)
	}
	return res, nil
}

func newWriter(cfg *config.Config, opts Options) OutputWriter {
	snapshot := NewSnapshotWriter(cfg.OutputFile, cfg.MinSessionSeconds)
	snapshot.now = opts.Now

	var sessions OutputWriter
	if cfg.SessionsFile != "" {
		sessions = NewSessionsWriter(cfg.SessionsFile)
	}
	return NewMultiWriter(snapshot, sessions)
}
