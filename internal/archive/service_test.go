package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	name   string
	err    error
	writes []JoinedTable
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, _ RunReport, t JoinedTable) error {
	s.writes = append(s.writes, t)
	return s.err
}

type recordingStore struct {
	mu   sync.Mutex
	runs []RunReport
}

func (s *recordingStore) SaveRun(r RunReport, _ JoinedTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
}

func (s *recordingStore) last() RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[len(s.runs)-1]
}

var conductivity = Determinand{Notation: "0077", Label: "Conductivity"}

func twoDeterminandSource() *fakeSource {
	// The body is keyed by window only, so every determinand gets the same rows.
	return &fakeSource{bodies: map[string]string{
		"2024-01-01..2024-01-31": feed(
			row("a1", "0076", "4.1", "2024-01-10T09:00:00Z", "P1", "S1"),
		),
	}}
}

func testRequest(t *testing.T, dets ...Determinand) Request {
	return Request{
		Area:         "area-1",
		Determinands: dets,
		From:         mustDate(t, "2024-01-01"),
		To:           mustDate(t, "2024-01-31"),
	}
}

func TestServiceRun(t *testing.T) {
	sink := &recordingSink{name: "mem"}
	st := &recordingStore{}
	svc := NewService(newTestFetcher(twoDeterminandSource()), NewJoiner(),
		WithSinks(sink), WithStore(st))

	report, joined, err := svc.Run(context.Background(), testRequest(t, temperature, conductivity))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != RunCompleted || report.ID == "" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Determinands) != 2 {
		t.Fatalf("expected 2 fetch reports, got %d", len(report.Determinands))
	}
	// Identical bodies join on every shared column: one row, both values set.
	if len(joined.Rows) != 1 || report.JoinedRows != 1 {
		t.Fatalf("expected 1 joined row, got %d", len(joined.Rows))
	}
	if joined.Rows[0].Values[0] == nil || joined.Rows[0].Values[1] == nil {
		t.Fatalf("expected both values set: %+v", joined.Rows[0].Values)
	}
	if len(sink.writes) != 1 {
		t.Fatalf("expected 1 sink write, got %d", len(sink.writes))
	}
	if len(st.runs) != 2 || st.runs[0].Status != RunRunning || st.last().Status != RunCompleted {
		t.Fatalf("unexpected stored runs: %+v", st.runs)
	}
}

func TestServiceRunRejectsInvalidRequest(t *testing.T) {
	src := &fakeSource{}
	svc := NewService(newTestFetcher(src), NewJoiner())

	req := testRequest(t)
	if _, _, err := svc.Run(context.Background(), req); !errors.Is(err, ErrNoDeterminands) {
		t.Errorf("no determinands: %v", err)
	}

	req = testRequest(t, temperature)
	req.From, req.To = req.To, req.From
	if _, _, err := svc.Run(context.Background(), req); err == nil {
		t.Error("expected error for inverted range")
	}

	req = testRequest(t, temperature)
	req.Area = ""
	if _, _, err := svc.Run(context.Background(), req); err == nil {
		t.Error("expected error for empty area")
	}

	if len(src.queries) != 0 {
		t.Fatalf("invalid requests must not reach the source, got %d queries", len(src.queries))
	}
}

func TestServiceFailureThreshold(t *testing.T) {
	newSource := func() *fakeSource {
		return &fakeSource{errs: map[string]error{
			"2024-01-01..2024-01-31": errors.New("timeout"),
		}}
	}

	st := &recordingStore{}
	strict := NewService(newTestFetcher(newSource()), NewJoiner(), WithMaxFailureRate(0.5), WithStore(st))
	_, _, err := strict.Run(context.Background(), testRequest(t, temperature))
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("expected ErrTooManyFailures, got %v", err)
	}
	if last := st.last(); last.Status != RunFailed || last.Error == "" {
		t.Fatalf("failed run not recorded: %+v", last)
	}

	// The default threshold never aborts: every window failing is an empty result.
	sink := &recordingSink{name: "mem"}
	lenient := NewService(newTestFetcher(newSource()), NewJoiner(), WithSinks(sink))
	report, joined, err := lenient.Run(context.Background(), testRequest(t, temperature))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(joined.Rows) != 0 || report.Status != RunCompleted {
		t.Fatalf("expected empty completed run, got %+v", report)
	}
	if total, failed := report.Windows(); total != 1 || failed != 1 {
		t.Fatalf("windows = %d/%d", failed, total)
	}
	if len(sink.writes) != 1 {
		t.Fatal("empty result must still reach the sinks")
	}
}

func TestServiceSinkErrors(t *testing.T) {
	broken := &recordingSink{name: "broken", err: errors.New("disk full")}
	ok := &recordingSink{name: "ok"}
	svc := NewService(newTestFetcher(twoDeterminandSource()), NewJoiner(), WithSinks(broken, ok))

	report, _, err := svc.Run(context.Background(), testRequest(t, temperature))
	if err == nil {
		t.Fatal("expected sink error")
	}
	if len(ok.writes) != 1 {
		t.Fatal("a failing sink must not stop later sinks")
	}
	if report.Status != RunFailed || len(report.Sinks) != 2 || report.Sinks[0].Error == "" || report.Sinks[1].Error != "" {
		t.Fatalf("unexpected sink results: %+v", report.Sinks)
	}
}

func TestServiceSubmit(t *testing.T) {
	st := &recordingStore{}
	done := make(chan struct{})
	sink := &signalSink{done: done}
	svc := NewService(newTestFetcher(twoDeterminandSource()), NewJoiner(), WithStore(st), WithSinks(sink))

	report, err := svc.Submit(testRequest(t, temperature))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != RunRunning {
		t.Fatalf("expected running status, got %s", report.Status)
	}
	<-done

	if _, err := svc.Submit(testRequest(t)); !errors.Is(err, ErrNoDeterminands) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceSubmitStopsWithRunContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &recordingStore{}
	src := twoDeterminandSource()
	svc := NewService(newTestFetcher(src), NewJoiner(), WithStore(st), WithRunContext(ctx))

	if _, err := svc.Submit(testRequest(t, temperature)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		last := st.last()
		if last.Status == RunFailed {
			if last.Error == "" {
				t.Fatal("cancelled run recorded without an error")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run not cancelled, status %s", last.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(src.queries) != 0 {
		t.Fatalf("cancelled run reached the source %d times", len(src.queries))
	}
}

type signalSink struct {
	done chan struct{}
}

func (s *signalSink) Name() string { return "signal" }

func (s *signalSink) Write(context.Context, RunReport, JoinedTable) error {
	close(s.done)
	return nil
}
