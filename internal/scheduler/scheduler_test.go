package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/i474232898/water-quality-archive/internal/archive"
)

type fakeRunner struct {
	calls chan archive.Request
}

func (f *fakeRunner) Run(_ context.Context, req archive.Request) (archive.RunReport, archive.JoinedTable, error) {
	f.calls <- req
	return archive.RunReport{ID: "scheduled"}, archive.JoinedTable{}, nil
}

func TestSchedulerRunsImmediately(t *testing.T) {
	runner := &fakeRunner{calls: make(chan archive.Request, 1)}
	request := func(now time.Time) archive.Request {
		return archive.Request{Area: "anglian", To: archive.Date(now)}
	}

	s := New(time.Hour, runner, request, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case req := <-runner.calls:
		if req.Area != "anglian" || req.To.IsZero() {
			t.Fatalf("unexpected request: %+v", req)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run did not start")
	}
}

func TestSchedulerDisabled(t *testing.T) {
	runner := &fakeRunner{calls: make(chan archive.Request, 1)}
	s := New(0, runner, func(time.Time) archive.Request { return archive.Request{} }, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case <-runner.calls:
		t.Fatal("no run expected without an interval")
	case <-time.After(100 * time.Millisecond):
	}
}
