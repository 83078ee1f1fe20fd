package archive

import (
	"context"
	"errors"
	"io"
)

// MaxRecords is the API's per-call record ceiling.
const MaxRecords = 2500

var (
	ErrInvalidRange      = errors.New("start date after end date")
	ErrEmptyArea         = errors.New("area is required")
	ErrEmptyDeterminand  = errors.New("determinand notation is required")
	ErrEmptyBody         = errors.New("empty response body")
	ErrMissingColumn     = errors.New("missing required column")
	ErrSchemaMismatch    = errors.New("join operands have divergent columns")
	ErrNoTables          = errors.New("no tables to join")
	ErrTooManyFailures   = errors.New("window failure rate above threshold")
	ErrNoDeterminands    = errors.New("at least one determinand is required")
	ErrDuplicateValueCol = errors.New("duplicate determinand label")
)

// WindowQuery is one outbound request: a single determinand over a single window.
type WindowQuery struct {
	Area        string
	Determinand string
	Window      DateWindow
	Limit       int
}

// Source abstracts the remote observation API. Implementations return the raw
// delimited-text body for one window; the caller closes it.
type Source interface {
	Name() string
	FetchWindow(ctx context.Context, q WindowQuery) (io.ReadCloser, error)
}

// Sink receives the joined table at the end of a run.
type Sink interface {
	Name() string
	Write(ctx context.Context, run RunReport, table JoinedTable) error
}

// Store keeps completed runs. The in-memory store (and any future persistent store) satisfies it.
type Store interface {
	SaveRun(run RunReport, table JoinedTable)
}
