package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/water-quality-archive/internal/archive"
)

var validate = validator.New()

type AppConfig struct {
	AppEnv   string `validate:"oneof=dev prod"`
	LogLevel slog.Level

	// BaseURL of the water-quality archive API.
	BaseURL string `validate:"required,url"`

	// Retrieval request. Either From/To or LookbackDays defines the range.
	Area         string
	Determinands []archive.Determinand `validate:"dive"`
	From         time.Time
	To           time.Time
	LookbackDays int `validate:"gte=0"`

	// Sinks. The CSV file is always written; the databases are optional.
	OutputPath  string `validate:"required"`
	SQLitePath  string
	DatabaseURL string

	// JoinKey declares the columns rows are matched on. JOIN_KEY=* leaves it
	// empty, which matches on every shared column.
	JoinKey []string

	RequestPacing  time.Duration
	HTTPTimeout    time.Duration `validate:"gt=0"`
	MaxFailureRate float64       `validate:"gte=0,lte=1"`

	// ScheduleInterval enables periodic runs in server mode (0 = disabled).
	ScheduleInterval time.Duration `validate:"gte=0"`

	// In-memory run store retention.
	StoreMaxHistory int           `validate:"gte=0"` // max number of runs kept (0 = unlimited)
	StoreMaxAge     time.Duration // max age of finished runs (0 = unlimited)

	Port string `validate:"required,numeric"`
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		AppEnv:     getenvDefault("APP_ENV", "dev"),
		BaseURL:    getenvDefault("WQA_BASE_URL", "https://environment.data.gov.uk/water-quality"),
		Area:       strings.TrimSpace(os.Getenv("WQA_AREA")),
		OutputPath: getenvDefault("OUTPUT_PATH", "data/water-quality.csv"),
		SQLitePath: strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		Port:       getenvDefault("PORT", "8080"),
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	level, err := ParseLogLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	dets, err := ParseDeterminands(os.Getenv("WQA_DETERMINANDS"))
	if err != nil {
		return nil, err
	}
	cfg.Determinands = dets

	if v := strings.TrimSpace(os.Getenv("WQA_FROM")); v != "" {
		if cfg.From, err = archive.ParseDate(v); err != nil {
			return nil, fmt.Errorf("invalid WQA_FROM: %w", err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("WQA_TO")); v != "" {
		if cfg.To, err = archive.ParseDate(v); err != nil {
			return nil, fmt.Errorf("invalid WQA_TO: %w", err)
		}
	}
	cfg.LookbackDays = getenvInt("WQA_LOOKBACK_DAYS", 0)
	cfg.JoinKey = ParseJoinKey(os.Getenv("JOIN_KEY"))

	if cfg.RequestPacing, err = getenvDuration("REQUEST_PACING", archive.DefaultPacing.String()); err != nil {
		return nil, err
	}
	if cfg.RequestPacing < archive.DefaultPacing {
		return nil, fmt.Errorf("invalid REQUEST_PACING: %s is below the minimum of %s", cfg.RequestPacing, archive.DefaultPacing)
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.ScheduleInterval, err = getenvDuration("SCHEDULE_INTERVAL", "0s"); err != nil {
		return nil, err
	}

	cfg.MaxFailureRate = 1
	if v := strings.TrimSpace(os.Getenv("MAX_FAILURE_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_FAILURE_RATE: %w", err)
		}
		cfg.MaxFailureRate = f
	}

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 50)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "168h"); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Request builds the retrieval request. With LookbackDays set the range ends
// today and starts LookbackDays earlier; otherwise From and To are used as is.
func (c *AppConfig) Request(now time.Time) archive.Request {
	req := archive.Request{
		Area:         c.Area,
		Determinands: c.Determinands,
		From:         c.From,
		To:           c.To,
	}
	if c.LookbackDays > 0 {
		req.To = archive.Date(now)
		req.From = req.To.AddDate(0, 0, -c.LookbackDays)
	}
	return req
}

// ParseDeterminands parses "notation:label" pairs separated by commas.
// A pair without a label uses the notation as its label.
func ParseDeterminands(s string) ([]archive.Determinand, error) {
	var out []archive.Determinand
	seen := make(map[string]bool)
	for _, item := range splitList(s) {
		notation, label, _ := strings.Cut(item, ":")
		notation = strings.TrimSpace(notation)
		label = strings.TrimSpace(label)
		if notation == "" {
			return nil, fmt.Errorf("invalid determinand %q: empty notation", item)
		}
		if label == "" {
			label = notation
		}
		if seen[label] {
			return nil, fmt.Errorf("invalid determinand %q: duplicate label %q", item, label)
		}
		seen[label] = true
		out = append(out, archive.Determinand{Notation: notation, Label: label})
	}
	return out, nil
}

// ParseJoinKey parses a comma-separated column list. An empty value yields
// archive.DefaultJoinKey and "*" yields no key (match on every shared column).
func ParseJoinKey(s string) []string {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return append([]string(nil), archive.DefaultJoinKey...)
	case "*":
		return nil
	}
	return splitList(s)
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
