package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Request asks for every determinand in Determinands over [From, To] in Area.
type Request struct {
	Area         string        `json:"area" validate:"required"`
	Determinands []Determinand `json:"determinands" validate:"required,min=1,dive"`
	From         time.Time     `json:"from" validate:"required"`
	To           time.Time     `json:"to" validate:"required,gtefield=From"`
}

// Validate checks the request before any network traffic happens.
func (r Request) Validate() error {
	if len(r.Determinands) == 0 {
		return ErrNoDeterminands
	}
	return validate.Struct(r)
}

// Service runs requests: one fetch per determinand, then a join, then the sinks.
type Service struct {
	fetcher        *Fetcher
	joiner         *Joiner
	sinks          []Sink
	store          Store
	logger         *slog.Logger
	maxFailureRate float64
	baseCtx        context.Context
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithSinks adds output sinks, written in order at the end of each run.
func WithSinks(sinks ...Sink) ServiceOption {
	return func(s *Service) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithStore records every run, running and finished, in store.
func WithStore(store Store) ServiceOption {
	return func(s *Service) {
		s.store = store
	}
}

// WithMaxFailureRate aborts a run whose failed-window fraction exceeds rate.
// 1 (the default) never aborts.
func WithMaxFailureRate(rate float64) ServiceOption {
	return func(s *Service) {
		s.maxFailureRate = rate
	}
}

// WithRunContext sets the parent context of runs started by Submit.
// Cancelling it stops every background run.
func WithRunContext(ctx context.Context) ServiceOption {
	return func(s *Service) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

// WithServiceLogger sets the run logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a new Service.
func NewService(fetcher *Fetcher, joiner *Joiner, opts ...ServiceOption) *Service {
	s := &Service{
		fetcher:        fetcher,
		joiner:         joiner,
		logger:         slog.Default(),
		maxFailureRate: 1,
		baseCtx:        context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes req and blocks until the joined table has been written to every sink.
// A failed window never fails the run unless the failure-rate threshold is crossed.
func (s *Service) Run(ctx context.Context, req Request) (RunReport, JoinedTable, error) {
	if err := req.Validate(); err != nil {
		return RunReport{}, JoinedTable{}, fmt.Errorf("invalid request: %w", err)
	}
	report := s.begin(req)
	return s.execute(ctx, report)
}

// Submit validates req and runs it in the background, returning the running report.
// Progress and the final outcome are visible through the store.
func (s *Service) Submit(req Request) (RunReport, error) {
	if err := req.Validate(); err != nil {
		return RunReport{}, fmt.Errorf("invalid request: %w", err)
	}
	report := s.begin(req)
	go func() {
		if _, _, err := s.execute(s.baseCtx, report); err != nil {
			s.logger.Error("run failed", "run", report.ID, "error", err)
		}
	}()
	return report, nil
}

func (s *Service) begin(req Request) RunReport {
	report := RunReport{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if s.store != nil {
		s.store.SaveRun(report, JoinedTable{})
	}
	return report
}

func (s *Service) execute(ctx context.Context, report RunReport) (RunReport, JoinedTable, error) {
	req := report.Request
	log := s.logger.With("run", report.ID, "area", req.Area)
	log.Info("run started",
		"determinands", len(req.Determinands),
		"from", req.From.Format(DateLayout),
		"to", req.To.Format(DateLayout),
	)

	tables := make([]DeterminandTable, 0, len(req.Determinands))
	for _, det := range req.Determinands {
		table, fr, err := s.fetcher.Fetch(ctx, req.Area, det, req.From, req.To)
		report.Determinands = append(report.Determinands, fr)
		if err != nil {
			return s.fail(report, fmt.Errorf("fetch %s: %w", det.Notation, err))
		}
		tables = append(tables, table)
	}

	if rate := report.FailureRate(); rate > s.maxFailureRate {
		total, failed := report.Windows()
		return s.fail(report, fmt.Errorf("%w: %d of %d windows failed (%.2f > %.2f)",
			ErrTooManyFailures, failed, total, rate, s.maxFailureRate))
	}

	joined, err := s.joiner.Join(tables...)
	if err != nil {
		return s.fail(report, fmt.Errorf("join: %w", err))
	}
	report.JoinedRows = len(joined.Rows)

	var sinkErrs []error
	for _, sink := range s.sinks {
		res := SinkResult{Sink: sink.Name()}
		if err := sink.Write(ctx, report, joined); err != nil {
			res.Error = err.Error()
			sinkErrs = append(sinkErrs, fmt.Errorf("sink %s: %w", sink.Name(), err))
			log.Error("sink write failed", "sink", sink.Name(), "error", err)
		}
		report.Sinks = append(report.Sinks, res)
	}

	report.FinishedAt = time.Now().UTC()
	if err := errors.Join(sinkErrs...); err != nil {
		report.Status = RunFailed
		report.Error = err.Error()
		s.save(report, joined)
		return report, joined, err
	}

	total, failed := report.Windows()
	report.Status = RunCompleted
	log.Info("run completed",
		"windows", total,
		"failedWindows", failed,
		"rows", report.JoinedRows,
		"elapsed", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	s.save(report, joined)
	return report, joined, nil
}

func (s *Service) fail(report RunReport, err error) (RunReport, JoinedTable, error) {
	report.Status = RunFailed
	report.Error = err.Error()
	report.FinishedAt = time.Now().UTC()
	s.save(report, JoinedTable{})
	return report, JoinedTable{}, err
}

func (s *Service) save(report RunReport, table JoinedTable) {
	if s.store != nil {
		s.store.SaveRun(report, table)
	}
}
