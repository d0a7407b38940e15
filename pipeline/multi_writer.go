package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/kobo-stats/models"
)

// MultiWriter fans the book set out to several writers.
type MultiWriter struct {
	writers []OutputWriter
	mu      sync.Mutex
}

// NewMultiWriter skips nil writers.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Write forwards books to every writer, stopping at the first failure.
func (mw *MultiWriter) Write(books []*models.Book) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for _, w := range mw.writers {
		if err := w.Write(books); err != nil {
			return fmt.Errorf("%T write failed: %w", w, err)
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%T close failed: %w", w, err))
		}
	}
	return errors.Join(errs...)
}

// Validate validates every writer's output.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%T validation failed: %w", w, err))
		}
	}
	return errors.Join(errs...)
}
