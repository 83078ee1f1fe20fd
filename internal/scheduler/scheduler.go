package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/water-quality-archive/internal/archive"
)

// Runner executes one retrieval run.
type Runner interface {
	Run(ctx context.Context, req archive.Request) (archive.RunReport, archive.JoinedTable, error)
}

// RequestFunc builds the request for a scheduled run, e.g. a rolling date range.
type RequestFunc func(now time.Time) archive.Request

// Scheduler periodically runs the configured retrieval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	request   RequestFunc
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler.
func New(interval time.Duration, runner Runner, request RequestFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	// A run may take longer than the interval; never start a second one alongside it.
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		request:   request,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run happens immediately.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("scheduler: no interval configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(s.runOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) runOnce() {
	req := s.request(time.Now().UTC())
	s.logger.Info("scheduler: running retrieval job",
		"area", req.Area,
		"from", req.From.Format(archive.DateLayout),
		"to", req.To.Format(archive.DateLayout),
	)

	report, _, err := s.runner.Run(context.Background(), req)
	if err != nil {
		s.logger.Error("scheduler: run failed", "error", err)
		return
	}
	s.logger.Info("scheduler: completed retrieval job", "run", report.ID, "rows", report.JoinedRows)
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
