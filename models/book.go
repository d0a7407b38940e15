// Package models defines data structures for the reading stats export.
package models

import (
	"time"
)

// ReadStatus mirrors the device's ReadStatus column.
type ReadStatus int

const (
	Unread ReadStatus = iota
	Reading
	Finished
)

func (s ReadStatus) String() string {
	switch s {
	case Reading:
		return "Reading"
	case Finished:
		return "Finished"
	default:
		return "Unread"
	}
}

// HighlightKind classifies a highlight by its token count.
type HighlightKind string

const (
	HighlightWord  HighlightKind = "word"
	HighlightQuote HighlightKind = "quote"
)

// Highlight is a single non-hidden bookmark with text.
type Highlight struct {
	Text      string        `json:"text"`
	CreatedAt string        `json:"date_created"`
	Kind      HighlightKind `json:"type"`
}

// Session is one reconstructed reading interval.
type Session struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (s Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Pair renders the session as the exported [start, end] tuple.
func (s Session) Pair() [2]string {
	return [2]string{
		s.Start.UTC().Format(time.RFC3339),
		s.End.UTC().Format(time.RFC3339),
	}
}

// Book is one content row with its derived reading stats. The derived
// fields are filled once by the loader; enrichment only sets ISBN13.
type Book struct {
	ID           string
	Title        string
	Author       string
	PercentRead  int
	ReadStatus   ReadStatus
	Series       *string
	SeriesNumber *string
	ImageID      *string
	Chapters     int
	ISBN13       *string
	Highlights   []Highlight

	ReadingSessions  []Session
	ReadingTimeHours float64
	PageTurns        int
}

// Export builds the snapshot record for the book.
func (b *Book) Export() BookExport {
	sessions := make([][2]string, 0, len(b.ReadingSessions))
	for _, s := range b.ReadingSessions {
		sessions = append(sessions, s.Pair())
	}
	highlights := b.Highlights
	if highlights == nil {
		highlights = []Highlight{}
	}

	return BookExport{
		Title:           b.Title,
		Author:          b.Author,
		ISBN13:          b.ISBN13,
		ImageID:         b.ImageID,
		Chapters:        b.Chapters,
		Highlights:      highlights,
		PercentRead:     b.PercentRead,
		ReadStatus:      b.ReadStatus.String(),
		PageTurns:       b.PageTurns,
		ReadingSessions: sessions,
		ReadingTime:     b.ReadingTimeHours,
		Series:          b.Series,
		SeriesNumber:    b.SeriesNumber,
	}
}

// BookExport is the per-book record of the exported snapshot.
type BookExport struct {
	Title           string      `json:"title"`
	Author          string      `json:"author"`
	ISBN13          *string     `json:"isbn13"`
	ImageID         *string     `json:"image_id"`
	Chapters        int         `json:"chapters"`
	Highlights      []Highlight `json:"highlights"`
	PercentRead     int         `json:"percent_read"`
	ReadStatus      string      `json:"read_status"`
	PageTurns       int         `json:"page_turns"`
	ReadingSessions [][2]string `json:"reading_sessions"`
	ReadingTime     float64     `json:"reading_time"`
	Series          *string     `json:"series"`
	SeriesNumber    *string     `json:"series_number"`
}

// Snapshot is the whole exported document.
type Snapshot struct {
	LastUpdatedAt string                `json:"last_updated_at"`
	Books         map[string]BookExport `json:"books"`
}

// RunResult holds the overall result of one export run
type RunResult struct {
	RunID          string
	StartTime      time.Time
	EndTime        time.Time
	BookCount      int
	WordCount      int
	QuoteCount     int
	CoverCount     int
	NewISBNs       int
	ISBNFailures   int
	DecodeFailures int
	SchemaMisses   []string
	OutputFile     string
}
