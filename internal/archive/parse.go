package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// windowRows is the untyped result of parsing one window body.
type windowRows struct {
	header  []string
	records []map[string]string
}

// parseWindow reads a delimited-text body keeping every column as a string.
// A body with no header, or a header lacking the result or timestamp columns,
// is rejected so the window is dropped as a whole.
func parseWindow(r io.Reader) (windowRows, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return windowRows{}, ErrEmptyBody
	}
	if err != nil {
		return windowRows{}, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	for _, col := range requiredColumns {
		if !contains(header, col) {
			return windowRows{}, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	out := windowRows{header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return windowRows{}, fmt.Errorf("read record %d: %w", len(out.records)+1, err)
		}
		if len(rec) != len(header) {
			return windowRows{}, fmt.Errorf("record %d: %d fields, header has %d", len(out.records)+1, len(rec), len(header))
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			row[col] = rec[i]
		}
		out.records = append(out.records, row)
	}
	return out, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	DateLayout,
}

// parseTimestamp accepts the layouts the archive has been seen to emit.
// Zone-less timestamps are taken as UTC.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, firstErr)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
