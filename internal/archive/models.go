package archive

import (
	"time"
)

// Column names of the observation feed returned by the water-quality archive.
const (
	ColumnID             = "id"
	ColumnNotation       = "determinand.notation"
	ColumnLabel          = "determinand.prefLabel"
	ColumnUnit           = "unit"
	ColumnResult         = "result"
	ColumnPhenomenonTime = "phenomenonTime"
	ColumnSamplingPoint  = "samplingPoint.notation"

	// ColumnDate is derived from phenomenonTime; it is not part of the feed.
	ColumnDate = "date"
)

// DateLayout is the calendar date format used by the API and by derived columns.
const DateLayout = "2006-01-02"

// DefaultJoinKey matches observations taken at the same sampling point at the
// same instant.
var DefaultJoinKey = []string{ColumnPhenomenonTime, ColumnSamplingPoint}

// requiredColumns must be present in every window response.
var requiredColumns = []string{ColumnResult, ColumnPhenomenonTime}

// determinandColumns identify a single series and are dropped before joining.
var determinandColumns = map[string]bool{
	ColumnID:       true,
	ColumnNotation: true,
	ColumnLabel:    true,
	ColumnUnit:     true,
	ColumnResult:   true,
}

// Determinand is a measured property: an opaque API code plus a human label.
type Determinand struct {
	Notation string `json:"notation" validate:"required"`
	Label    string `json:"label" validate:"required"`
}

// Observation is a single parsed measurement record.
// Fields holds every column of the source row as an untyped string.
type Observation struct {
	ID             string
	Notation       string
	Label          string
	Unit           string
	Result         Value
	PhenomenonTime time.Time
	Date           string
	Fields         map[string]string
}

// Field returns the string value of a column, derived columns included.
func (o Observation) Field(name string) string {
	return o.Fields[name]
}

// DeterminandTable is the ordered series of observations for one determinand.
// The result column is exposed under Determinand.Label.
type DeterminandTable struct {
	Determinand Determinand
	Columns     []string
	Rows        []Observation
}

// ValueColumn returns the header under which this table's results are published.
func (t DeterminandTable) ValueColumn() string {
	if t.Determinand.Label != "" {
		return t.Determinand.Label
	}
	return t.Determinand.Notation
}

// JoinedRow is one row of a JoinedTable. Values has one entry per value column;
// nil marks a determinand with no observation for this row.
type JoinedRow struct {
	Fields map[string]string
	Values []*Value
}

// JoinedTable is the full outer join of several DeterminandTables.
type JoinedTable struct {
	Columns      []string
	ValueColumns []string
	Rows         []JoinedRow
}

// Header returns the full output header: shared columns then value columns.
func (t JoinedTable) Header() []string {
	out := make([]string, 0, len(t.Columns)+len(t.ValueColumns))
	out = append(out, t.Columns...)
	return append(out, t.ValueColumns...)
}

// Records renders the table as string records, header excluded.
// Missing values are rendered as empty cells.
func (t JoinedTable) Records() [][]string {
	out := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		rec := make([]string, 0, len(t.Columns)+len(t.ValueColumns))
		for _, c := range t.Columns {
			rec = append(rec, r.Fields[c])
		}
		for _, v := range r.Values {
			if v == nil {
				rec = append(rec, "")
				continue
			}
			rec = append(rec, v.Raw)
		}
		out = append(out, rec)
	}
	return out
}
