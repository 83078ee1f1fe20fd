package sinks

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/i474232898/water-quality-archive/internal/archive"
)

// CSVSink writes the joined table to a delimited text file, replacing it atomically.
type CSVSink struct {
	path string
}

// NewCSVSink creates a sink writing to path.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

func (s *CSVSink) Name() string {
	return "csv"
}

// Path returns the output file location.
func (s *CSVSink) Path() string {
	return s.path
}

func (s *CSVSink) Write(_ context.Context, _ archive.RunReport, table archive.JoinedTable) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, table); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename to %s: %w", s.path, err)
	}
	return nil
}

// WriteCSV renders table with a header row. Missing values are empty cells.
func WriteCSV(w io.Writer, table archive.JoinedTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(table.Records()); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}
