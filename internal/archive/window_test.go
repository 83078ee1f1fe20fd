package archive

import (
	"errors"
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

func TestMonthlyWindowsFullYear(t *testing.T) {
	windows, err := MonthlyWindows(mustDate(t, "2024-01-01"), mustDate(t, "2024-12-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 12 {
		t.Fatalf("expected 12 windows, got %d", len(windows))
	}
	if got := windows[0].Label(); got != "2024-01-01..2024-01-31" {
		t.Errorf("window 1 = %s", got)
	}
	if got := windows[1].Label(); got != "2024-02-01..2024-02-29" {
		t.Errorf("window 2 = %s", got)
	}
	if got := windows[11].Label(); got != "2024-12-01..2024-12-31" {
		t.Errorf("window 12 = %s", got)
	}
}

func TestMonthlyWindowsSingleMonth(t *testing.T) {
	cases := [][2]string{
		{"2023-03-01", "2023-03-31"},
		{"2023-03-10", "2023-03-20"},
		{"2023-03-15", "2023-03-15"},
	}
	for _, c := range cases {
		windows, err := MonthlyWindows(mustDate(t, c[0]), mustDate(t, c[1]))
		if err != nil {
			t.Fatalf("%v: unexpected error: %v", c, err)
		}
		if len(windows) != 1 {
			t.Fatalf("%v: expected 1 window, got %d", c, len(windows))
		}
		if got, want := windows[0].Label(), c[0]+".."+c[1]; got != want {
			t.Errorf("%v: window = %s, want %s", c, got, want)
		}
	}
}

func TestMonthlyWindowsUnaligned(t *testing.T) {
	windows, err := MonthlyWindows(mustDate(t, "2023-11-17"), mustDate(t, "2024-02-03"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"2023-11-17..2023-11-30",
		"2023-12-01..2023-12-31",
		"2024-01-01..2024-01-31",
		"2024-02-01..2024-02-03",
	}
	if len(windows) != len(want) {
		t.Fatalf("expected %d windows, got %d", len(want), len(windows))
	}
	for i := range want {
		if got := windows[i].Label(); got != want[i] {
			t.Errorf("window %d = %s, want %s", i+1, got, want[i])
		}
	}
}

// Windows must tile [start, end] exactly: contiguous, non-overlapping, no gaps.
func TestMonthlyWindowsCoverRange(t *testing.T) {
	base := mustDate(t, "2019-12-20")
	for startOff := 0; startOff < 70; startOff += 3 {
		for length := 0; length < 800; length += 37 {
			start := base.AddDate(0, 0, startOff)
			end := start.AddDate(0, 0, length)

			windows, err := MonthlyWindows(start, end)
			if err != nil {
				t.Fatalf("%s..%s: %v", start, end, err)
			}
			if !windows[0].Start.Equal(start) {
				t.Fatalf("first window starts %s, want %s", windows[0].Start, start)
			}
			if !windows[len(windows)-1].End.Equal(end) {
				t.Fatalf("last window ends %s, want %s", windows[len(windows)-1].End, end)
			}

			days := 0
			for i, w := range windows {
				if w.End.Before(w.Start) {
					t.Fatalf("window %s has end before start", w.Label())
				}
				if w.Start.Month() != w.End.Month() || w.Start.Year() != w.End.Year() {
					t.Fatalf("window %s spans more than one month", w.Label())
				}
				if i > 0 && !windows[i-1].End.AddDate(0, 0, 1).Equal(w.Start) {
					t.Fatalf("gap or overlap between %s and %s", windows[i-1].Label(), w.Label())
				}
				days += w.Days()
			}
			if want := length + 1; days != want {
				t.Fatalf("%s..%s: windows cover %d days, want %d", start.Format(DateLayout), end.Format(DateLayout), days, want)
			}
		}
	}
}

func TestMonthlyWindowsTruncatesTime(t *testing.T) {
	start := time.Date(2024, 5, 2, 13, 45, 0, 0, time.UTC)
	end := time.Date(2024, 5, 9, 1, 0, 0, 0, time.UTC)
	windows, err := MonthlyWindows(start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := windows[0].Label(); got != "2024-05-02..2024-05-09" {
		t.Errorf("window = %s", got)
	}
}

func TestMonthlyWindowsInvalidRange(t *testing.T) {
	_, err := MonthlyWindows(mustDate(t, "2024-02-01"), mustDate(t, "2024-01-31"))
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}
