package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/aluiziolira/kobo-stats/fileutil"
	"github.com/aluiziolira/kobo-stats/models"
)

// SessionRow is one reading session in the Parquet table.
type SessionRow struct {
	BookID          string `parquet:"book_id"`
	Title           string `parquet:"title"`
	StartUnix       int64  `parquet:"start_unix"`
	EndUnix         int64  `parquet:"end_unix"`
	DurationSeconds int64  `parquet:"duration_seconds"`
}

// SessionsWriter writes every reading session to a Parquet file on Close.
type SessionsWriter struct {
	path string

	mu   sync.Mutex
	rows []SessionRow
	done bool
}

// NewSessionsWriter returns a writer for path.
func NewSessionsWriter(path string) *SessionsWriter {
	return &SessionsWriter{path: path}
}

// Write converts the sessions of books into rows.
func (sw *SessionsWriter) Write(books []*models.Book) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.done {
		return ErrPipelineClosed
	}
	for _, b := range books {
		for _, s := range b.ReadingSessions {
			sw.rows = append(sw.rows, SessionRow{
				BookID:          b.ID,
				Title:           b.Title,
				StartUnix:       s.Start.Unix(),
				EndUnix:         s.End.Unix(),
				DurationSeconds: s.End.Unix() - s.Start.Unix(),
			})
		}
	}
	return nil
}

// Close encodes the table and replaces the file.
func (sw *SessionsWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.done {
		return nil
	}
	sw.done = true

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[SessionRow](&buf)
	if _, err := w.Write(sw.rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := fileutil.WriteAtomic(sw.path, buf.Bytes()); err != nil {
		return fmt.Errorf("write sessions file: %w", err)
	}
	return nil
}

// Validate ensures the Parquet file can be opened.
func (sw *SessionsWriter) Validate() error {
	f, err := os.Open(sw.path)
	if err != nil {
		return fmt.Errorf("open sessions file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat sessions file: %w", err)
	}
	if _, err := parquet.OpenFile(f, info.Size()); err != nil {
		return fmt.Errorf("open parquet: %w", err)
	}
	return nil
}

// ReadSessions loads every row of a sessions file.
func ReadSessions(path string) ([]SessionRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sessions file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat sessions file: %w", err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[SessionRow](pf)
	defer reader.Close()

	var out []SessionRow
	batch := make([]SessionRow, 128)
	for {
		n, err := reader.Read(batch)
		out = append(out, batch[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}
