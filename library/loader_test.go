package library

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/kobo-stats/config"
	"github.com/aluiziolira/kobo-stats/models"
	"github.com/aluiziolira/kobo-stats/parser"
)

const fullSchema = `
CREATE TABLE content (
	ContentID TEXT PRIMARY KEY,
	ContentType INTEGER,
	BookID TEXT,
	Title TEXT,
	Attribution TEXT,
	___PercentRead REAL,
	ReadStatus INTEGER,
	Series TEXT,
	SeriesNumber TEXT,
	ImageId TEXT
);
CREATE TABLE Event (
	EventType INTEGER,
	ContentID TEXT,
	EventCount INTEGER,
	ExtraData BLOB
);
CREATE TABLE Bookmark (
	BookmarkID TEXT PRIMARY KEY,
	VolumeID TEXT,
	ContentID TEXT,
	Text TEXT,
	DateCreated TEXT,
	Hidden TEXT
);`

const minimalSchema = `
CREATE TABLE content (
	ContentID TEXT PRIMARY KEY,
	ContentType INTEGER,
	Title TEXT,
	Attribution TEXT,
	___PercentRead REAL,
	ReadStatus INTEGER
);
CREATE TABLE Event (
	EventType INTEGER,
	ContentID TEXT,
	EventCount INTEGER,
	ExtraData BLOB
);`

func newFixtureDB(t *testing.T, schema string, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "KoboReader.sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return path
}

func insertEvent(t *testing.T, path, contentID string, eventType models.EventType, count int, payload []byte) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`INSERT INTO Event (EventType, ContentID, EventCount, ExtraData) VALUES (?, ?, ?, ?)`,
		int(eventType), contentID, count, payload); err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func testConfig(path string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DatabasePath = path
	return cfg
}

func bookByID(t *testing.T, lib *Library, id string) *models.Book {
	t.Helper()
	for _, b := range lib.Books {
		if b.ID == id {
			return b
		}
	}
	t.Fatalf("book %q not loaded", id)
	return nil
}

func TestLoadFullSchema(t *testing.T) {
	path := newFixtureDB(t, fullSchema,
		`INSERT INTO content VALUES ('book-1', 6, NULL, 'Dune', 'Frank Herbert', 0.5, 1, 'Dune', '1', 'img-1')`,
		`INSERT INTO content VALUES ('book-1#ch1', 9, 'book-1', 'Chapter 1', '', NULL, 0, NULL, NULL, NULL)`,
		`INSERT INTO content VALUES ('book-1#ch2', 9, 'book-1', 'Chapter 2', '', NULL, 0, NULL, NULL, NULL)`,
		`INSERT INTO content VALUES ('file:///mnt/onboard/side.epub', 16, NULL, 'Sideloaded', 'Someone', 85, 2, NULL, NULL, NULL)`,
		`INSERT INTO content VALUES ('audio-noise', 16, NULL, 'Not a book', 'Nobody', 10, 0, NULL, NULL, NULL)`,
		`INSERT INTO content VALUES ('chapter-only', 9, 'book-x', 'Stray chapter', '', NULL, 0, NULL, NULL, NULL)`,
		`INSERT INTO Bookmark VALUES ('b1', 'book-1', 'book-1#ch1', 'serendipity', '2024-03-01T20:10:00.000', 'false')`,
		`INSERT INTO Bookmark VALUES ('b2', NULL, 'book-1', 'to be or not to be', '2024-03-01T20:20:00.000', 'false')`,
		`INSERT INTO Bookmark VALUES ('b3', 'book-1', NULL, 'hidden note', '2024-03-01T20:30:00.000', 'true')`,
		`INSERT INTO Bookmark VALUES ('b4', 'book-1', NULL, '   ', '2024-03-01T20:40:00.000', 'false')`,
		`INSERT INTO Bookmark VALUES ('b5', 'book-1', NULL, 'undated', NULL, 'false')`,
		`INSERT INTO Bookmark VALUES ('b6', 'unknown', NULL, 'orphan', '2024-03-01T20:50:00.000', 'false')`,
	)

	insertEvent(t, path, "book-1", models.EventPageTurns, 240, nil)
	insertEvent(t, path, "book-1", models.EventSessionStarts, 2, parser.EncodeExtraData("eventTimestamps", 3, []uint32{1_700_000_000, 1_700_100_000}))
	insertEvent(t, path, "book-1", models.EventSessionEnds, 2, parser.EncodeExtraData("eventTimestamps", 3, []uint32{1_700_003_600, 1_700_101_800}))

	lib, err := Load(context.Background(), testConfig(path))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(lib.Books) != 2 {
		t.Fatalf("books = %d, want 2", len(lib.Books))
	}

	dune := bookByID(t, lib, "book-1")
	if dune.Title != "Dune" || dune.Author != "Frank Herbert" {
		t.Fatalf("unexpected identity: %+v", dune)
	}
	if dune.PercentRead != 50 || dune.ReadStatus != models.Reading {
		t.Fatalf("percent=%d status=%s", dune.PercentRead, dune.ReadStatus)
	}
	if dune.Series == nil || *dune.Series != "Dune" || dune.SeriesNumber == nil || *dune.SeriesNumber != "1" {
		t.Fatalf("unexpected series: %v %v", dune.Series, dune.SeriesNumber)
	}
	if dune.ImageID == nil || *dune.ImageID != "img-1" {
		t.Fatalf("image id = %v", dune.ImageID)
	}
	if dune.Chapters != 2 {
		t.Fatalf("chapters = %d, want 2", dune.Chapters)
	}
	if dune.PageTurns != 240 {
		t.Fatalf("page turns = %d, want 240", dune.PageTurns)
	}
	if len(dune.ReadingSessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(dune.ReadingSessions))
	}
	if dune.ReadingTimeHours != 1.5 {
		t.Fatalf("reading time = %v, want 1.5", dune.ReadingTimeHours)
	}

	if len(dune.Highlights) != 2 {
		t.Fatalf("highlights = %d, want 2: %+v", len(dune.Highlights), dune.Highlights)
	}
	if dune.Highlights[0].Kind != models.HighlightWord || dune.Highlights[1].Kind != models.HighlightQuote {
		t.Fatalf("unexpected highlight kinds: %+v", dune.Highlights)
	}
	if lib.Stats.OrphanHighlights != 1 {
		t.Fatalf("orphans = %d, want 1", lib.Stats.OrphanHighlights)
	}

	side := bookByID(t, lib, "file:///mnt/onboard/side.epub")
	if side.PercentRead != 85 || side.ReadStatus != models.Finished {
		t.Fatalf("unexpected sideloaded book: %+v", side)
	}
	if len(side.ReadingSessions) != 0 || side.PageTurns != 0 || side.ReadingTimeHours != 0 {
		t.Fatalf("book without events should have zero stats: %+v", side)
	}

	words, quotes := lib.HighlightCounts()
	if words != 1 || quotes != 1 {
		t.Fatalf("highlight counts = %d/%d", words, quotes)
	}
	if lib.CoverCount() != 1 {
		t.Fatalf("covers = %d, want 1", lib.CoverCount())
	}
}

func TestLoadMalformedEventIsIsolated(t *testing.T) {
	path := newFixtureDB(t, fullSchema,
		`INSERT INTO content VALUES ('a', 6, NULL, 'A', 'X', 0, 0, NULL, NULL, NULL)`,
		`INSERT INTO content VALUES ('b', 6, NULL, 'B', 'Y', 0, 0, NULL, NULL, NULL)`,
	)
	insertEvent(t, path, "a", models.EventSessionStarts, 1, []byte{0, 0, 0, 1, 0})
	insertEvent(t, path, "a", models.EventSessionEnds, 1, parser.EncodeExtraData("n", 3, []uint32{100}))
	insertEvent(t, path, "a", models.EventPageTurns, 12, nil)
	insertEvent(t, path, "b", models.EventSessionStarts, 1, parser.EncodeExtraData("n", 3, []uint32{100}))
	insertEvent(t, path, "b", models.EventSessionEnds, 1, parser.EncodeExtraData("n", 3, []uint32{400}))

	lib, err := Load(context.Background(), testConfig(path))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if lib.Stats.DecodeFailures != 1 {
		t.Fatalf("decode failures = %d, want 1", lib.Stats.DecodeFailures)
	}

	a := bookByID(t, lib, "a")
	if len(a.ReadingSessions) != 0 || a.PageTurns != 12 {
		t.Fatalf("unexpected book a: %+v", a)
	}
	b := bookByID(t, lib, "b")
	if len(b.ReadingSessions) != 1 || b.ReadingSessions[0].Duration().Seconds() != 300 {
		t.Fatalf("unexpected book b sessions: %+v", b.ReadingSessions)
	}
}

func TestLoadMinimalSchemaDegrades(t *testing.T) {
	path := newFixtureDB(t, minimalSchema,
		`INSERT INTO content VALUES ('a', 6, 'A', 'X', NULL, NULL)`,
	)

	lib, err := Load(context.Background(), testConfig(path))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(lib.Books) != 1 {
		t.Fatalf("books = %d, want 1", len(lib.Books))
	}
	book := lib.Books[0]
	if book.ImageID != nil || book.Chapters != 0 || book.PercentRead != 0 || book.Series != nil {
		t.Fatalf("missing columns should degrade to defaults: %+v", book)
	}
	if lib.Schema.Bookmarks.Available() {
		t.Fatalf("bookmarks should be unavailable")
	}
	if len(lib.Schema.Misses) == 0 {
		t.Fatalf("expected recorded schema misses")
	}
}

func TestProbeSchemaCaseInsensitive(t *testing.T) {
	path := newFixtureDB(t, `
CREATE TABLE content (contentid TEXT, contenttype INTEGER, IMAGEID TEXT, bookid TEXT);
`)
	db, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	schema, err := ProbeSchema(context.Background(), db)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !schema.HasContent || schema.ImageIDColumn != "IMAGEID" || schema.BookIDColumn != "bookid" {
		t.Fatalf("unexpected schema: %+v", schema)
	}
	if schema.HasEvents {
		t.Fatalf("Event table should be reported missing")
	}
}

func TestLoadSourceUnreadable(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(context.Background(), testConfig(filepath.Join(dir, "missing.sqlite")))
	var unreadable *SourceUnreadableError
	if !errors.As(err, &unreadable) {
		t.Fatalf("expected SourceUnreadableError for missing file, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.sqlite")
	if err := os.WriteFile(garbage, []byte(strings.Repeat("not a sqlite database ", 400)), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	_, err = Load(context.Background(), testConfig(garbage))
	if !errors.As(err, &unreadable) {
		t.Fatalf("expected SourceUnreadableError for garbage file, got %v", err)
	}
}
