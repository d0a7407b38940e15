package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/kobo-stats/models"
)

// OutputWriter receives the final book set of a run.
type OutputWriter interface {
	Write(books []*models.Book) error
	Close() error
	Validate() error
}

// Serializer encodes a snapshot document.
type Serializer interface {
	Serialize(snap models.Snapshot) ([]byte, error)
}

// JSONSerializer writes the snapshot as a plain JSON document.
type JSONSerializer struct{}

// Serialize implements Serializer.
func (JSONSerializer) Serialize(snap models.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeSnapshot(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ScriptSerializer wraps the JSON document in a global assignment so a page
// can load it with a plain script tag.
type ScriptSerializer struct {
	Variable string
}

// Serialize implements Serializer.
func (s ScriptSerializer) Serialize(snap models.Snapshot) ([]byte, error) {
	name := s.Variable
	if name == "" {
		name = "library"
	}

	var buf bytes.Buffer
	buf.WriteString(name)
	buf.WriteString(" = ")
	if err := encodeSnapshot(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializerFor picks the encoding from the output path suffix.
func SerializerFor(path string) Serializer {
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return JSONSerializer{}
	}
	return ScriptSerializer{}
}

func encodeSnapshot(buf *bytes.Buffer, snap models.Snapshot) error {
	if snap.Books == nil {
		snap.Books = map[string]models.BookExport{}
	}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// SnapshotWriter collects books and, on Close, merges them with the export
// already on disk and replaces it.
type SnapshotWriter struct {
	path              string
	minSessionSeconds int64
	now               func() time.Time

	mu       sync.Mutex
	books    []*models.Book
	closed   bool
	snapshot models.Snapshot
}

// NewSnapshotWriter returns a writer for the export at path.
func NewSnapshotWriter(path string, minSessionSeconds int64) *SnapshotWriter {
	return &SnapshotWriter{
		path:              path,
		minSessionSeconds: minSessionSeconds,
		now:               time.Now,
	}
}

// Write buffers books for the final save.
func (sw *SnapshotWriter) Write(books []*models.Book) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrPipelineClosed
	}
	sw.books = append(sw.books, books...)
	return nil
}

// Close writes the merged snapshot.
func (sw *SnapshotWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return nil
	}
	sw.closed = true

	snap, err := Save(sw.path, sw.books, sw.now(), sw.minSessionSeconds)
	if err != nil {
		return err
	}
	sw.snapshot = snap
	return nil
}

// Snapshot returns the document written by Close.
func (sw *SnapshotWriter) Snapshot() models.Snapshot {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.snapshot
}

// Validate ensures the export file exists and has content.
func (sw *SnapshotWriter) Validate() error {
	info, err := os.Stat(sw.path)
	if err != nil {
		return fmt.Errorf("stat export file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("export file is empty")
	}
	return nil
}
