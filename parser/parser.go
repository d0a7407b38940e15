package parser

import (
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/aluiziolira/kobo-stats/models"
)

// ValidateBook ensures the loader captured the required fields.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("book missing content id")
	}
	if b.PercentRead < 0 || b.PercentRead > 100 {
		return fmt.Errorf("book %s percent read out of range: %d", b.ID, b.PercentRead)
	}
	return nil
}

// NormalizePercentRead maps the raw ___PercentRead value onto 0-100.
// Values in (0, 1] are fractions and get scaled.
func NormalizePercentRead(raw sql.NullFloat64) int {
	if !raw.Valid || math.IsNaN(raw.Float64) {
		return 0
	}
	v := raw.Float64
	if v > 0 && v <= 1 {
		v *= 100
	}
	pct := int(math.Round(v))
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// ReadStatusFromCode converts the ReadStatus column. Unknown codes read as
// Unread.
func ReadStatusFromCode(code sql.NullInt64) models.ReadStatus {
	if !code.Valid {
		return models.Unread
	}
	switch models.ReadStatus(code.Int64) {
	case models.Reading:
		return models.Reading
	case models.Finished:
		return models.Finished
	default:
		return models.Unread
	}
}

// ClassifyHighlight returns word for a single token, quote otherwise.
func ClassifyHighlight(text string) models.HighlightKind {
	if len(strings.Fields(text)) == 1 {
		return models.HighlightWord
	}
	return models.HighlightQuote
}

// NullableString returns nil for NULL or blank values.
func NullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := strings.TrimSpace(s.String)
	if v == "" {
		return nil
	}
	return &v
}
