package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaProbeMiss marks a table or column the loader expected but the
// device schema does not have. Misses degrade to empty defaults.
var ErrSchemaProbeMiss = errors.New("schema probe miss")

// Schema records which optional tables and columns the source database
// exposes. It is probed once per run and passed by value to the loaders.
type Schema struct {
	HasContent bool
	HasEvents  bool

	SeriesColumn       string
	SeriesNumberColumn string
	ImageIDColumn      string
	BookIDColumn       string

	Bookmarks BookmarkSchema

	Misses []string
}

// BookmarkSchema describes the highlight source table.
type BookmarkSchema struct {
	Table        string
	TextColumn   string
	DateColumn   string
	HiddenColumn string
	// RefColumns are tried in order to find the owning book.
	RefColumns []string
}

// Available reports whether highlights can be loaded at all.
func (b BookmarkSchema) Available() bool {
	return b.Table != "" && b.TextColumn != "" && b.DateColumn != "" && len(b.RefColumns) > 0
}

type columnSet map[string]string

func (c columnSet) find(name string) string {
	return c[strings.ToLower(name)]
}

// ProbeSchema inspects the content, Event and Bookmark tables.
func ProbeSchema(ctx context.Context, db *sql.DB) (Schema, error) {
	var s Schema

	content, err := tableColumns(ctx, db, "content")
	if err != nil {
		return Schema{}, err
	}
	s.HasContent = content.find("ContentID") != "" && content.find("ContentType") != ""
	if !s.HasContent {
		s.miss("table content")
	}
	s.SeriesColumn = s.optional(content, "content", "Series")
	s.SeriesNumberColumn = s.optional(content, "content", "SeriesNumber")
	s.ImageIDColumn = s.optional(content, "content", "ImageId")
	s.BookIDColumn = s.optional(content, "content", "BookID")

	events, err := tableColumns(ctx, db, "Event")
	if err != nil {
		return Schema{}, err
	}
	s.HasEvents = events.find("EventType") != "" && events.find("ExtraData") != ""
	if !s.HasEvents {
		s.miss("table Event")
	}

	bookmarks, err := tableColumns(ctx, db, "Bookmark")
	if err != nil {
		return Schema{}, err
	}
	if len(bookmarks) == 0 {
		s.miss("table Bookmark")
		return s, nil
	}
	s.Bookmarks = BookmarkSchema{
		Table:        "Bookmark",
		TextColumn:   s.optional(bookmarks, "Bookmark", "Text"),
		DateColumn:   s.optional(bookmarks, "Bookmark", "DateCreated"),
		HiddenColumn: s.optional(bookmarks, "Bookmark", "Hidden"),
	}
	for _, ref := range []string{"VolumeID", "ContentID"} {
		if col := bookmarks.find(ref); col != "" {
			s.Bookmarks.RefColumns = append(s.Bookmarks.RefColumns, col)
		}
	}
	if len(s.Bookmarks.RefColumns) == 0 {
		s.miss("column Bookmark.VolumeID/ContentID")
	}

	return s, nil
}

func (s *Schema) optional(cols columnSet, table, name string) string {
	col := cols.find(name)
	if col == "" && len(cols) > 0 {
		s.miss(fmt.Sprintf("column %s.%s", table, name))
	}
	return col
}

func (s *Schema) miss(what string) {
	s.Misses = append(s.Misses, what)
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (columnSet, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("probe table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(columnSet)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   sql.NullString
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		cols[strings.ToLower(name)] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table_info %s: %w", table, err)
	}
	return cols, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
