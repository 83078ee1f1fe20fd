package archive

import (
	"time"
)

// WindowResult records the outcome of one window request.
type WindowResult struct {
	Window  DateWindow `json:"window"`
	Records int        `json:"records"`
	Err     error      `json:"-"`
	Error   string     `json:"error,omitempty"`
}

// OK reports whether the window contributed its rows.
func (w WindowResult) OK() bool {
	return w.Err == nil
}

func windowFailed(w DateWindow, err error) WindowResult {
	return WindowResult{Window: w, Err: err, Error: err.Error()}
}

// FetchReport summarises one determinand fetch. "No data existed" and
// "every window failed" both produce an empty table; the report tells them apart.
type FetchReport struct {
	Determinand         Determinand    `json:"determinand"`
	Windows             []WindowResult `json:"windows"`
	Rows                int            `json:"rows"`
	DroppedNoValue      int            `json:"droppedNoValue"`
	DroppedBadTimestamp int            `json:"droppedBadTimestamp"`
}

// Failed returns the number of windows that contributed nothing because of an error.
func (r FetchReport) Failed() int {
	n := 0
	for _, w := range r.Windows {
		if !w.OK() {
			n++
		}
	}
	return n
}

// FailureRate is Failed over the number of windows; zero when there are none.
func (r FetchReport) FailureRate() float64 {
	if len(r.Windows) == 0 {
		return 0
	}
	return float64(r.Failed()) / float64(len(r.Windows))
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SinkResult records the outcome of writing to one sink.
type SinkResult struct {
	Sink  string `json:"sink"`
	Error string `json:"error,omitempty"`
}

// RunReport describes a whole pipeline run across determinands.
type RunReport struct {
	ID           string        `json:"id"`
	Request      Request       `json:"request"`
	Status       RunStatus     `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt,omitempty"`
	Determinands []FetchReport `json:"determinands"`
	JoinedRows   int           `json:"joinedRows"`
	Sinks        []SinkResult  `json:"sinks,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Windows returns the total and failed window counts across determinands.
func (r RunReport) Windows() (total, failed int) {
	for _, d := range r.Determinands {
		total += len(d.Windows)
		failed += d.Failed()
	}
	return total, failed
}

// FailureRate is the fraction of failed windows across the whole run.
func (r RunReport) FailureRate() float64 {
	total, failed := r.Windows()
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
