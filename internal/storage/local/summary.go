package local

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// SummaryFileName is the name of the per-field summary index.
const SummaryFileName = "summary.csv"

// IDColumn heads the student id column of the summary.
const IDColumn = "Matricola"

// Summary is the summary.csv stream of one batch. Each appended row is
// flushed to the file before Append returns.
type Summary struct {
	file *os.File
	w    *csv.Writer
}

// CreateSummary truncates <dir>/summary.csv and writes the header row.
func CreateSummary(dir, field string) (*Summary, error) {
	path := filepath.Join(dir, SummaryFileName)
	// #nosec G304 -- path is the configured output directory plus a constant name.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return nil, fmt.Errorf("open summary %s: %w", path, err)
	}
	s := &Summary{file: f, w: csv.NewWriter(f)}
	if err := s.write([]string{IDColumn, field}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write summary header: %w", err)
	}
	return s, nil
}

// Append writes one row and flushes it. URLs with CSV metacharacters are
// quoted per RFC 4180.
func (s *Summary) Append(row archive.SummaryRow) error {
	if err := s.write([]string{row.ID, row.TargetURL}); err != nil {
		return fmt.Errorf("append summary row for %s: %w", row.ID, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *Summary) Close() error {
	s.w.Flush()
	flushErr := s.w.Error()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close summary: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("flush summary: %w", flushErr)
	}
	return nil
}

func (s *Summary) write(record []string) error {
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv record: %w", err)
	}
	return nil
}
