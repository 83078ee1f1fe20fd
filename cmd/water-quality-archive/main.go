package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/water-quality-archive/internal/api/http"
	"github.com/i474232898/water-quality-archive/internal/archive"
	"github.com/i474232898/water-quality-archive/internal/archive/sources"
	"github.com/i474232898/water-quality-archive/internal/config"
	"github.com/i474232898/water-quality-archive/internal/logging"
	"github.com/i474232898/water-quality-archive/internal/scheduler"
	"github.com/i474232898/water-quality-archive/internal/sinks"
	"github.com/i474232898/water-quality-archive/internal/store"
)

const appName = "water-quality-archive"

var (
	serve        = flag.Bool("serve", false, "run the HTTP API (and the scheduler when SCHEDULE_INTERVAL is set)")
	area         = flag.String("area", "", "precanned area (overrides WQA_AREA)")
	determinands = flag.String("determinands", "", "comma-separated notation:label pairs (overrides WQA_DETERMINANDS)")
	from         = flag.String("from", "", "start date YYYY-MM-DD (overrides WQA_FROM)")
	to           = flag.String("to", "", "end date YYYY-MM-DD (overrides WQA_TO)")
	out          = flag.String("out", "", "output CSV path (overrides OUTPUT_PATH)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		os.Exit(2)
	}

	slog.SetDefault(logging.New(cfg, appName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *serve {
		err = runServer(ctx, cfg)
	} else {
		err = runOnce(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func applyFlags(cfg *config.AppConfig) error {
	var err error
	if *area != "" {
		cfg.Area = *area
	}
	if *determinands != "" {
		if cfg.Determinands, err = config.ParseDeterminands(*determinands); err != nil {
			return err
		}
	}
	if *from != "" {
		if cfg.From, err = archive.ParseDate(*from); err != nil {
			return err
		}
		cfg.LookbackDays = 0
	}
	if *to != "" {
		if cfg.To, err = archive.ParseDate(*to); err != nil {
			return err
		}
		cfg.LookbackDays = 0
	}
	if *out != "" {
		cfg.OutputPath = *out
	}
	return nil
}

// databaseSinks opens the optional SQLite and PostgreSQL sinks. The returned
// cleanup closes whatever was opened.
func databaseSinks(ctx context.Context, cfg *config.AppConfig) ([]archive.Sink, func(), error) {
	var (
		out     []archive.Sink
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.SQLitePath != "" {
		db, err := sinks.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() {
			if err := db.Close(); err != nil {
				slog.Error("sqlite close", "error", err)
			}
		})
		sink, err := sinks.NewSQLiteSink(db)
		if err != nil {
			return nil, cleanup, err
		}
		out = append(out, sink)
	}

	if cfg.DatabaseURL != "" {
		sink, err := sinks.NewPostgresSink(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, sink.Close)
		out = append(out, sink)
	}

	return out, cleanup, nil
}

func newFetcher(cfg *config.AppConfig) *archive.Fetcher {
	// Shared HTTP client for outbound archive calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	source := sources.NewWQASource(httpClient, cfg.BaseURL)
	return archive.NewFetcher(source,
		archive.WithPacing(cfg.RequestPacing),
		archive.WithLogger(slog.Default()),
	)
}

func runOnce(ctx context.Context, cfg *config.AppConfig) error {
	dbSinks, cleanup, err := databaseSinks(ctx, cfg)
	defer cleanup()
	if err != nil {
		return err
	}

	svc := archive.NewService(newFetcher(cfg), archive.NewJoiner(cfg.JoinKey...),
		archive.WithSinks(append([]archive.Sink{sinks.NewCSVSink(cfg.OutputPath)}, dbSinks...)...),
		archive.WithMaxFailureRate(cfg.MaxFailureRate),
	)

	report, _, err := svc.Run(ctx, cfg.Request(time.Now().UTC()))
	if err != nil {
		return err
	}

	total, failed := report.Windows()
	slog.Info("output written",
		"path", cfg.OutputPath,
		"rows", report.JoinedRows,
		"windows", total,
		"failedWindows", failed,
	)
	return nil
}

func runServer(ctx context.Context, cfg *config.AppConfig) error {
	dbSinks, cleanup, err := databaseSinks(ctx, cfg)
	defer cleanup()
	if err != nil {
		return err
	}

	// In-memory run store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	// Both services share one fetcher so pacing holds across API and scheduled runs.
	fetcher := newFetcher(cfg)
	joiner := archive.NewJoiner(cfg.JoinKey...)

	apiService := archive.NewService(fetcher, joiner,
		archive.WithRunContext(ctx),
		archive.WithSinks(dbSinks...),
		archive.WithStore(memStore),
		archive.WithMaxFailureRate(cfg.MaxFailureRate),
	)

	// Scheduled runs also refresh the configured CSV file.
	scheduledService := archive.NewService(fetcher, joiner,
		archive.WithSinks(append([]archive.Sink{sinks.NewCSVSink(cfg.OutputPath)}, dbSinks...)...),
		archive.WithStore(memStore),
		archive.WithMaxFailureRate(cfg.MaxFailureRate),
	)
	sched := scheduler.New(cfg.ScheduleInterval, scheduledService, cfg.Request, slog.Default())
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": appName,
		})
	})

	httpapi.RegisterRoutes(app, apiService, memStore)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "port", cfg.Port)
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return ctx.Err()
}
