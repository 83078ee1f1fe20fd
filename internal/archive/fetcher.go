package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPacing is the minimum spacing between two outbound requests.
const DefaultPacing = 500 * time.Millisecond

// Fetcher retrieves one determinand over an arbitrary date range by splitting it
// into calendar-month windows and requesting them one after another.
type Fetcher struct {
	source  Source
	limiter *rate.Limiter
	logger  *slog.Logger
	limit   int
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithPacing sets the spacing between requests. Zero or negative disables pacing.
func WithPacing(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		f.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLogger sets the logger used for progress and failure output.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a Fetcher reading from source.
func NewFetcher(source Source, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		source:  source,
		limiter: rate.NewLimiter(rate.Every(DefaultPacing), 1),
		logger:  slog.Default(),
		limit:   MaxRecords,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves det for area over [start, end].
//
// A window whose request or parse fails contributes no rows and is recorded in
// the report; the remaining windows still run. If every window fails the table
// is empty and err is nil. err is only set for invalid arguments or when ctx is
// done.
func (f *Fetcher) Fetch(ctx context.Context, area string, det Determinand, start, end time.Time) (DeterminandTable, FetchReport, error) {
	table := DeterminandTable{Determinand: det}
	report := FetchReport{Determinand: det}

	if strings.TrimSpace(area) == "" {
		return table, report, ErrEmptyArea
	}
	if strings.TrimSpace(det.Notation) == "" {
		return table, report, ErrEmptyDeterminand
	}
	windows, err := MonthlyWindows(start, end)
	if err != nil {
		return table, report, err
	}

	var (
		columns []string
		records []map[string]string
	)
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return table, report, err
		}
		f.logger.Info("fetching window",
			"determinand", det.Notation,
			"window", w.Label(),
			"n", i+1,
			"of", len(windows),
		)

		rows, err := f.fetchWindow(ctx, WindowQuery{
			Area:        area,
			Determinand: det.Notation,
			Window:      w,
			Limit:       f.limit,
		})
		if err != nil {
			if ctx.Err() != nil {
				return table, report, ctx.Err()
			}
			f.logger.Warn("window dropped",
				"determinand", det.Notation,
				"window", w.Label(),
				"error", err,
			)
			report.Windows = append(report.Windows, windowFailed(w, err))
			continue
		}
		if len(rows.records) >= f.limit {
			f.logger.Warn("window hit record limit; results may be truncated",
				"determinand", det.Notation,
				"window", w.Label(),
				"limit", f.limit,
			)
		}

		for _, col := range rows.header {
			if !contains(columns, col) {
				columns = append(columns, col)
			}
		}
		records = append(records, rows.records...)
		report.Windows = append(report.Windows, WindowResult{Window: w, Records: len(rows.records)})
	}

	table.Rows = make([]Observation, 0, len(records))
	for _, rec := range records {
		obs, ok := f.normalize(rec, &report)
		if ok {
			table.Rows = append(table.Rows, obs)
		}
	}
	if len(columns) > 0 && !contains(columns, ColumnDate) {
		columns = append(columns, ColumnDate)
	}
	table.Columns = columns
	report.Rows = len(table.Rows)

	attrs := []any{
		"determinand", det.Notation,
		"label", det.Label,
		"windows", len(report.Windows),
		"failed", report.Failed(),
		"rows", report.Rows,
		"droppedNoValue", report.DroppedNoValue,
		"droppedBadTimestamp", report.DroppedBadTimestamp,
	}
	if report.Failed() > 0 {
		f.logger.Warn("determinand fetched with failed windows", attrs...)
	} else {
		f.logger.Info("determinand fetched", attrs...)
	}

	return table, report, nil
}

func (f *Fetcher) fetchWindow(ctx context.Context, q WindowQuery) (windowRows, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return windowRows{}, err
	}

	body, err := f.source.FetchWindow(ctx, q)
	if err != nil {
		return windowRows{}, fmt.Errorf("%s: %w", f.source.Name(), err)
	}
	defer body.Close()

	rows, err := parseWindow(body)
	if err != nil {
		return windowRows{}, fmt.Errorf("parse %s: %w", q.Window.Label(), err)
	}
	return rows, nil
}

// normalize turns an untyped record into an Observation. Records without a
// result or with an unreadable timestamp are counted and dropped.
func (f *Fetcher) normalize(rec map[string]string, report *FetchReport) (Observation, bool) {
	raw := rec[ColumnResult]
	if strings.TrimSpace(raw) == "" {
		report.DroppedNoValue++
		return Observation{}, false
	}

	ts, err := parseTimestamp(rec[ColumnPhenomenonTime])
	if err != nil {
		report.DroppedBadTimestamp++
		f.logger.Debug("row dropped", "id", rec[ColumnID], "error", err)
		return Observation{}, false
	}

	date := ts.Format(DateLayout)
	rec[ColumnPhenomenonTime] = ts.Format(time.RFC3339)
	rec[ColumnDate] = date

	return Observation{
		ID:             rec[ColumnID],
		Notation:       rec[ColumnNotation],
		Label:          rec[ColumnLabel],
		Unit:           rec[ColumnUnit],
		Result:         ParseValue(raw),
		PhenomenonTime: ts,
		Date:           date,
		Fields:         rec,
	}, true
}
