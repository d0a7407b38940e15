package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/aluiziolira/kobo-stats/fileutil"
	"github.com/aluiziolira/kobo-stats/library"
	"github.com/aluiziolira/kobo-stats/models"
)

// ErrSnapshotCorrupt marks a prior export that could not be parsed.
var ErrSnapshotCorrupt = errors.New("pipeline: snapshot corrupt")

var scriptAssignment = regexp.MustCompile(`^\s*(?:var\s+|let\s+|const\s+)?[A-Za-z_$][\w$]*\s*=\s*`)

// priorTimeLayouts are tried in order when normalizing prior session strings.
var priorTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// LoadSnapshot reads a previous export. A missing or empty file yields an
// empty snapshot with no error. A file that cannot be parsed yields an
// empty snapshot and an error wrapping ErrSnapshotCorrupt.
func LoadSnapshot(path string) (models.Snapshot, error) {
	empty := models.Snapshot{Books: map[string]models.BookExport{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return empty, fmt.Errorf("%w: read %s: %v", ErrSnapshotCorrupt, path, err)
	}

	body := strings.TrimSpace(string(data))
	if loc := scriptAssignment.FindStringIndex(body); loc != nil {
		body = body[loc[1]:]
	}
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	if body == "" {
		return empty, nil
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return empty, fmt.Errorf("%w: parse %s: %v", ErrSnapshotCorrupt, path, err)
	}
	if snap.Books == nil {
		snap.Books = map[string]models.BookExport{}
	}
	return snap, nil
}

// BuildSnapshot exports books keyed by id.
func BuildSnapshot(books []*models.Book, now time.Time) models.Snapshot {
	snap := models.Snapshot{
		LastUpdatedAt: now.UTC().Format(time.RFC3339),
		Books:         make(map[string]models.BookExport, len(books)),
	}
	for _, b := range books {
		snap.Books[b.ID] = b.Export()
	}
	return snap
}

// Merge folds prior reading sessions into current. For every book present
// in both with prior sessions, the sessions become the ordered union of the
// current pairs followed by prior-only pairs, and the reading time is
// recomputed from that union. Books only in prior are not carried over.
func Merge(current, prior models.Snapshot, minSessionSeconds int64) models.Snapshot {
	for id, cur := range current.Books {
		old, ok := prior.Books[id]
		if !ok || len(old.ReadingSessions) == 0 {
			continue
		}

		merged := make([][2]string, 0, len(cur.ReadingSessions)+len(old.ReadingSessions))
		seen := make(map[[2]string]struct{}, cap(merged))
		for _, pairs := range [][][2]string{cur.ReadingSessions, old.ReadingSessions} {
			for _, pair := range pairs {
				pair = normalizePair(pair)
				if _, dup := seen[pair]; dup {
					continue
				}
				seen[pair] = struct{}{}
				merged = append(merged, pair)
			}
		}

		cur.ReadingSessions = merged
		cur.ReadingTime = library.ReadingTimeHours(parsePairs(merged), minSessionSeconds)
		current.Books[id] = cur
	}
	return current
}

// Save merges books with the snapshot already at path and replaces the file
// in one write. A corrupt prior snapshot is logged and ignored.
func Save(path string, books []*models.Book, now time.Time, minSessionSeconds int64) (models.Snapshot, error) {
	prior, err := LoadSnapshot(path)
	if err != nil {
		slog.Warn("previous export ignored", slog.String("path", path), slog.Any("error", err))
	}

	snap := Merge(BuildSnapshot(books, now), prior, minSessionSeconds)

	data, err := SerializerFor(path).Serialize(snap)
	if err != nil {
		return snap, err
	}
	if err := fileutil.WriteAtomic(path, data); err != nil {
		return snap, fmt.Errorf("write export: %w", err)
	}
	return snap, nil
}

func normalizePair(pair [2]string) [2]string {
	return [2]string{normalizeTimestamp(pair[0]), normalizeTimestamp(pair[1])}
}

func normalizeTimestamp(s string) string {
	if t, ok := parseTimestamp(s); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return s
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range priorTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parsePairs converts the parseable pairs back into sessions.
func parsePairs(pairs [][2]string) []models.Session {
	sessions := make([]models.Session, 0, len(pairs))
	for _, pair := range pairs {
		start, ok1 := parseTimestamp(pair[0])
		end, ok2 := parseTimestamp(pair[1])
		if !ok1 || !ok2 {
			continue
		}
		sessions = append(sessions, models.Session{Start: start, End: end})
	}
	return sessions
}
