package sinks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/water-quality-archive/internal/archive"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
  id           TEXT    PRIMARY KEY,
  area         TEXT    NOT NULL,
  date_from    TEXT    NOT NULL,
  date_to      TEXT    NOT NULL,
  started_at   TEXT    NOT NULL,
  joined_rows  INTEGER NOT NULL,
  columns      TEXT    NOT NULL,
  report       TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS joined_rows (
  run_id   TEXT    NOT NULL,
  row_num  INTEGER NOT NULL,
  data     TEXT    NOT NULL,
  PRIMARY KEY (run_id, row_num),
  FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`

const insertRunSQL = `INSERT INTO runs (id, area, date_from, date_to, started_at, joined_rows, columns, report)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE
SET joined_rows = excluded.joined_rows,
    columns = excluded.columns,
    report = excluded.report`

const insertRowSQL = `INSERT OR REPLACE INTO joined_rows (run_id, row_num, data) VALUES (?, ?, ?)`

// OpenSQLite opens (creating if needed) a file-backed database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func buildDSN(path string) (string, error) {
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// SQLiteSink stores each run's joined table: one runs row plus one JSON
// object per joined row, keyed by output column header.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates the schema on db if missing.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Name() string {
	return "sqlite"
}

func (s *SQLiteSink) Write(ctx context.Context, run archive.RunReport, table archive.JoinedTable) error {
	columns, err := json.Marshal(table.Header())
	if err != nil {
		return err
	}
	report, err := json.Marshal(run)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, insertRunSQL,
		run.ID,
		run.Request.Area,
		run.Request.From.Format(archive.DateLayout),
		run.Request.To.Format(archive.DateLayout),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		len(table.Rows),
		string(columns),
		string(report),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertRowSQL)
	if err != nil {
		return fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	header := table.Header()
	for i, rec := range table.Records() {
		data := make(map[string]*string, len(header))
		for j, col := range header {
			if j >= len(table.Columns) && rec[j] == "" {
				data[col] = nil
				continue
			}
			v := rec[j]
			data[col] = &v
		}
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, string(b)); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
