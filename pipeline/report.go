package pipeline

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aluiziolira/kobo-stats/models"
)

// PrintReport writes a short block for every book with recorded reading time.
func PrintReport(w io.Writer, books []*models.Book) {
	for _, b := range books {
		if b.ReadingTimeHours == 0 {
			continue
		}
		fmt.Fprintf(w, "`%s` by `%s`\n", b.Title, b.Author)
		fmt.Fprintf(w, "+ Reading time: %s hours\n", strconv.FormatFloat(b.ReadingTimeHours, 'f', 1, 64))
		fmt.Fprintf(w, "+ Status: %s\n", b.ReadStatus)
		fmt.Fprintf(w, "+ Page turns: %d\n", b.PageTurns)
		fmt.Fprintf(w, "+ Percent read: %d%%\n\n", b.PercentRead)
	}
}

// PrintSummary writes the end-of-run summary.
func PrintSummary(w io.Writer, result *models.RunResult) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, separator)
	if result.OutputFile != "" {
		fmt.Fprintf(w, "Data exported to %s!\n", result.OutputFile)
	} else {
		fmt.Fprintln(w, "Export complete")
	}

	fmt.Fprintf(w, "  Books imported:    %d\n", result.BookCount)
	fmt.Fprintf(w, "  Highlights:        %d words, %d quotes\n", result.WordCount, result.QuoteCount)
	fmt.Fprintf(w, "  New ISBNs:         %d\n", result.NewISBNs)
	fmt.Fprintf(w, "  Covers imported:   %d\n", result.CoverCount)
	if result.ISBNFailures > 0 {
		fmt.Fprintf(w, "  ISBN failures:     %d\n", result.ISBNFailures)
	}
	if result.DecodeFailures > 0 {
		fmt.Fprintf(w, "  Decode failures:   %d\n", result.DecodeFailures)
	}
	if len(result.SchemaMisses) > 0 {
		fmt.Fprintf(w, "  Schema misses:     %v\n", result.SchemaMisses)
	}
	if !result.EndTime.IsZero() {
		fmt.Fprintf(w, "  Duration:          %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	}
	fmt.Fprintln(w, separator)
}
