package library

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aluiziolira/kobo-stats/models"
	"github.com/aluiziolira/kobo-stats/parser"
)

func (l *Library) loadHighlights(ctx context.Context, db *sql.DB) error {
	bs := l.Schema.Bookmarks
	if !bs.Available() {
		return nil
	}

	byID := make(map[string]*models.Book, len(l.Books))
	for _, b := range l.Books {
		byID[b.ID] = b
	}

	refs := make([]string, 0, len(bs.RefColumns))
	for _, col := range bs.RefColumns {
		refs = append(refs, quoteIdent(col))
	}
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s FROM %s ORDER BY %s`,
		quoteIdent(bs.TextColumn),
		quoteIdent(bs.DateColumn),
		columnOrNull(bs.HiddenColumn),
		strings.Join(refs, ", "),
		quoteIdent(bs.Table),
		quoteIdent(bs.DateColumn),
	)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			text    sql.NullString
			created sql.NullString
			hidden  sql.NullString
		)
		refVals := make([]sql.NullString, len(refs))
		dest := []any{&text, &created, &hidden}
		for i := range refVals {
			dest = append(dest, &refVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan bookmark: %w", err)
		}

		body := strings.TrimSpace(text.String)
		date := strings.TrimSpace(created.String)
		if isHidden(hidden) || body == "" || !created.Valid || date == "" {
			continue
		}

		book := matchBook(byID, refVals)
		if book == nil {
			l.Stats.OrphanHighlights++
			continue
		}
		book.Highlights = append(book.Highlights, models.Highlight{
			Text:      body,
			CreatedAt: date,
			Kind:      parser.ClassifyHighlight(body),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate bookmarks: %w", err)
	}

	if l.Stats.OrphanHighlights > 0 {
		slog.Debug("highlights without a matching book", slog.Int("count", l.Stats.OrphanHighlights))
	}
	return nil
}

// matchBook tries the reference columns in order (VolumeID, then ContentID).
func matchBook(byID map[string]*models.Book, refs []sql.NullString) *models.Book {
	for _, ref := range refs {
		if !ref.Valid {
			continue
		}
		if book, ok := byID[ref.String]; ok {
			return book
		}
	}
	return nil
}

func isHidden(v sql.NullString) bool {
	if !v.Valid {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v.String)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
