package archive

import (
	"fmt"
	"time"
)

// DateWindow is an inclusive range of calendar dates, both ends at UTC midnight.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Label renders the window for progress output, e.g. "2024-01-01..2024-01-31".
func (w DateWindow) Label() string {
	return w.Start.Format(DateLayout) + ".." + w.End.Format(DateLayout)
}

// Days returns the number of calendar days covered.
func (w DateWindow) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// Date truncates t to a calendar date at UTC midnight.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// MonthlyWindows partitions [start, end] into calendar-month windows.
// The first window starts at start, the last ends at end, and every window
// in between is a whole calendar month.
func MonthlyWindows(start, end time.Time) ([]DateWindow, error) {
	start, end = Date(start), Date(end)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s after %s", ErrInvalidRange, start.Format(DateLayout), end.Format(DateLayout))
	}

	boundaries := []time.Time{start}
	next := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	for !next.After(end) {
		boundaries = append(boundaries, next)
		next = next.AddDate(0, 1, 0)
	}

	windows := make([]DateWindow, 0, len(boundaries))
	for i, b := range boundaries {
		we := end
		if i+1 < len(boundaries) {
			we = boundaries[i+1].AddDate(0, 0, -1)
		}
		windows = append(windows, DateWindow{Start: b, End: we})
	}
	return windows, nil
}
