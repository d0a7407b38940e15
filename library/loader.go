// Package library loads books, reading events and highlights from a Kobo
// KoboReader.sqlite database.
package library

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/kobo-stats/config"
	"github.com/aluiziolira/kobo-stats/models"
	"github.com/aluiziolira/kobo-stats/parser"

	_ "github.com/mattn/go-sqlite3"
)

// SourceUnreadableError is returned when the source database cannot be
// opened or is not a SQLite database. It is the only fatal load error.
type SourceUnreadableError struct {
	Path string
	Err  error
}

func (e *SourceUnreadableError) Error() string {
	return fmt.Sprintf("source database %s unreadable: %v", e.Path, e.Err)
}

func (e *SourceUnreadableError) Unwrap() error {
	return e.Err
}

// Library is the set of books loaded from one database.
type Library struct {
	Books  []*models.Book
	Schema Schema
	Stats  LoadStats
}

// LoadStats counts per-item failures that were isolated during the load.
type LoadStats struct {
	SkippedBooks     int
	DecodeFailures   int
	EventQueryErrors int
	ChapterErrors    int
	OrphanHighlights int
}

// Open opens path read-only.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &SourceUnreadableError{Path: path, Err: fmt.Errorf("is a directory")}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Err: err}
	}
	dsn := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}).String()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Err: fmt.Errorf("open sqlite: %w", err)}
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, &SourceUnreadableError{Path: path, Err: fmt.Errorf("read sqlite_master: %w", err)}
	}
	return db, nil
}

// Load opens the database at cfg.DatabasePath and loads every book.
func Load(ctx context.Context, cfg *config.Config) (*Library, error) {
	db, err := Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return LoadFrom(ctx, db, cfg)
}

// LoadFrom loads every book from an already opened database.
func LoadFrom(ctx context.Context, db *sql.DB, cfg *config.Config) (*Library, error) {
	schema, err := ProbeSchema(ctx, db)
	if err != nil {
		return nil, err
	}
	for _, miss := range schema.Misses {
		slog.Debug("schema probe miss", slog.String("what", miss), slog.Any("error", ErrSchemaProbeMiss))
	}

	lib := &Library{Schema: schema}
	if !schema.HasContent {
		slog.Warn("content table missing, no books loaded")
		return lib, nil
	}

	books, err := lib.loadBooks(ctx, db, cfg)
	if err != nil {
		return nil, err
	}
	lib.Books = books

	for _, book := range lib.Books {
		book.Chapters = lib.countChapters(ctx, db, cfg, book.ID)
		events := lib.loadEvents(ctx, db, book.ID)
		Aggregate(book, events, AggregateOptions{MinSessionSeconds: cfg.MinSessionSeconds})
	}

	if err := lib.loadHighlights(ctx, db); err != nil {
		slog.Warn("highlights not loaded", slog.Any("error", err))
	}

	return lib, nil
}

func (l *Library) loadBooks(ctx context.Context, db *sql.DB, cfg *config.Config) ([]*models.Book, error) {
	s := l.Schema
	query := fmt.Sprintf(`
		SELECT ContentID, Title, Attribution, ___PercentRead, ReadStatus, %s, %s, %s
		FROM content
		WHERE ContentType IN (%s)
		  AND (ContentType != ? OR ContentID LIKE ?)
		ORDER BY ContentID`,
		columnOrNull(s.SeriesColumn),
		columnOrNull(s.SeriesNumberColumn),
		columnOrNull(s.ImageIDColumn),
		placeholders(len(cfg.ContentTypes)),
	)

	args := make([]any, 0, len(cfg.ContentTypes)+2)
	for _, ct := range cfg.ContentTypes {
		args = append(args, ct)
	}
	args = append(args, cfg.FilteredContentType, cfg.FilteredContentPrefix+"%")

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	defer rows.Close()

	var books []*models.Book
	for rows.Next() {
		var (
			id           string
			title        sql.NullString
			author       sql.NullString
			percent      sql.NullFloat64
			status       sql.NullInt64
			series       sql.NullString
			seriesNumber sql.NullString
			imageID      sql.NullString
		)
		if err := rows.Scan(&id, &title, &author, &percent, &status, &series, &seriesNumber, &imageID); err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}

		book := &models.Book{
			ID:           id,
			Title:        strings.TrimSpace(title.String),
			Author:       strings.TrimSpace(author.String),
			PercentRead:  parser.NormalizePercentRead(percent),
			ReadStatus:   parser.ReadStatusFromCode(status),
			Series:       parser.NullableString(series),
			SeriesNumber: parser.NullableString(seriesNumber),
			ImageID:      parser.NullableString(imageID),
			Highlights:   []models.Highlight{},
		}
		if err := parser.ValidateBook(book); err != nil {
			l.Stats.SkippedBooks++
			slog.Warn("skipping content row", slog.Any("error", err))
			continue
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content rows: %w", err)
	}
	return books, nil
}

func (l *Library) countChapters(ctx context.Context, db *sql.DB, cfg *config.Config, bookID string) int {
	if l.Schema.BookIDColumn == "" {
		return 0
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM content WHERE ContentType = ? AND %s = ?`, quoteIdent(l.Schema.BookIDColumn))

	var n int
	if err := db.QueryRowContext(ctx, query, cfg.ChapterContentType, bookID).Scan(&n); err != nil {
		l.Stats.ChapterErrors++
		slog.Debug("chapter count failed", slog.String("content_id", bookID), slog.Any("error", err))
		return 0
	}
	return n
}

func (l *Library) loadEvents(ctx context.Context, db *sql.DB, bookID string) models.Events {
	events := make(models.Events)
	if !l.Schema.HasEvents {
		return events
	}

	rows, err := db.QueryContext(ctx, `
		SELECT EventType, ExtraData, EventCount
		FROM Event
		WHERE ContentID = ? AND EventType IN (?, ?, ?)`,
		bookID, models.EventPageTurns, models.EventSessionStarts, models.EventSessionEnds,
	)
	if err != nil {
		l.Stats.EventQueryErrors++
		slog.Warn("event query failed", slog.String("content_id", bookID), slog.Any("error", err))
		return events
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventType int
			payload   []byte
			count     sql.NullInt64
		)
		if err := rows.Scan(&eventType, &payload, &count); err != nil {
			l.Stats.EventQueryErrors++
			slog.Warn("event scan failed", slog.String("content_id", bookID), slog.Any("error", err))
			continue
		}

		ev, err := parser.NewEvent(models.EventType(eventType), payload, int(count.Int64))
		if err != nil {
			l.Stats.DecodeFailures++
			slog.Warn("event decode failed",
				slog.String("content_id", bookID),
				slog.Int("event_type", eventType),
				slog.Any("error", err),
			)
		}
		events[ev.Type] = ev
	}
	if err := rows.Err(); err != nil {
		l.Stats.EventQueryErrors++
		slog.Warn("event iteration failed", slog.String("content_id", bookID), slog.Any("error", err))
	}
	return events
}

func columnOrNull(col string) string {
	if col == "" {
		return "NULL"
	}
	return quoteIdent(col)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// HighlightCounts returns the number of word and quote highlights.
func (l *Library) HighlightCounts() (words, quotes int) {
	for _, b := range l.Books {
		for _, h := range b.Highlights {
			if h.Kind == models.HighlightWord {
				words++
			} else {
				quotes++
			}
		}
	}
	return words, quotes
}

// CoverCount returns how many books reference a cover image.
func (l *Library) CoverCount() int {
	n := 0
	for _, b := range l.Books {
		if b.ImageID != nil {
			n++
		}
	}
	return n
}
