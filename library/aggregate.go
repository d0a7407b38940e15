package library

import (
	"math"
	"time"

	"github.com/aluiziolira/kobo-stats/models"
)

// PairSessions zips starts and ends index-for-index. The pairing is
// positional: when the lists differ in length the extra entries are dropped.
func PairSessions(starts, ends []time.Time) []models.Session {
	n := min(len(starts), len(ends))
	sessions := make([]models.Session, 0, n)
	for i := 0; i < n; i++ {
		sessions = append(sessions, models.Session{Start: starts[i], End: ends[i]})
	}
	return sessions
}

// ReadingSessions pairs the session-start and session-end events. Either
// event missing yields no sessions.
func ReadingSessions(events models.Events) []models.Session {
	starts, okStart := events[models.EventSessionStarts]
	ends, okEnd := events[models.EventSessionEnds]
	if !okStart || !okEnd {
		return []models.Session{}
	}
	return PairSessions(starts.Timestamps, ends.Timestamps)
}

// ReadingTimeHours sums sessions longer than minSessionSeconds and returns
// hours rounded to one decimal.
func ReadingTimeHours(sessions []models.Session, minSessionSeconds int64) float64 {
	var total int64
	for _, s := range sessions {
		d := s.End.Unix() - s.Start.Unix()
		if d > minSessionSeconds {
			total += d
		}
	}
	return math.Round(float64(total)/3600*10) / 10
}

// PageTurns returns the page-turn counter, or 0 without one.
func PageTurns(events models.Events) int {
	if ev, ok := events[models.EventPageTurns]; ok {
		return ev.Count
	}
	return 0
}

// AggregateOptions tunes Aggregate.
type AggregateOptions struct {
	MinSessionSeconds int64
	// ReadingTimeHours, when set, is used instead of deriving the value
	// from sessions.
	ReadingTimeHours *float64
}

// Aggregate fills the derived fields of b from its events.
func Aggregate(b *models.Book, events models.Events, opts AggregateOptions) {
	b.ReadingSessions = ReadingSessions(events)
	b.PageTurns = PageTurns(events)
	if opts.ReadingTimeHours != nil {
		b.ReadingTimeHours = *opts.ReadingTimeHours
		return
	}
	b.ReadingTimeHours = ReadingTimeHours(b.ReadingSessions, opts.MinSessionSeconds)
}
