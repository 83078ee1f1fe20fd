package sinks

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/i474232898/water-quality-archive/internal/archive"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS water_quality_observations (
    run_id         TEXT        NOT NULL,
    row_num        INTEGER     NOT NULL,
    determinand    TEXT        NOT NULL,
    area           TEXT        NOT NULL,
    observed_at    TEXT,
    fields         JSONB       NOT NULL,
    value_raw      TEXT        NOT NULL,
    value_kind     TEXT        NOT NULL,
    value_numeric  NUMERIC,
    ingested_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (run_id, row_num, determinand)
)`

const insertObservationSQL = `INSERT INTO water_quality_observations
    (run_id, row_num, determinand, area, observed_at, fields, value_raw, value_kind, value_numeric)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (run_id, row_num, determinand) DO UPDATE
SET fields = EXCLUDED.fields,
    value_raw = EXCLUDED.value_raw,
    value_kind = EXCLUDED.value_kind,
    value_numeric = EXCLUDED.value_numeric,
    ingested_at = NOW()`

// observationRow is one (joined row, determinand) cell in long format.
type observationRow struct {
	RowNum      int
	Determinand string
	ObservedAt  *string
	Fields      map[string]string
	Value       archive.Value
}

// PostgresSink stores the joined table in long format, one row per present value.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to databaseURL and creates the table if missing.
func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Close releases the pool resources.
func (s *PostgresSink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresSink) Name() string {
	return "postgres"
}

func (s *PostgresSink) Write(ctx context.Context, run archive.RunReport, table archive.JoinedTable) error {
	rows := longRows(table)
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		var numeric *decimal.Decimal
		if r.Value.Kind != archive.KindUnparsed {
			n := r.Value.Number
			numeric = &n
		}
		batch.Queue(insertObservationSQL,
			run.ID, r.RowNum, r.Determinand, run.Request.Area, r.ObservedAt,
			r.Fields, r.Value.Raw, string(r.Value.Kind), numeric,
		)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for i := range rows {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("insert observation %d: %w", i, err)
		}
	}
	return nil
}

// longRows unpivots the joined table, skipping missing cells.
func longRows(table archive.JoinedTable) []observationRow {
	var out []observationRow
	for i, row := range table.Rows {
		var observedAt *string
		if ts, ok := row.Fields[archive.ColumnPhenomenonTime]; ok && ts != "" {
			observedAt = &ts
		}
		for j, v := range row.Values {
			if v == nil {
				continue
			}
			out = append(out, observationRow{
				RowNum:      i,
				Determinand: table.ValueColumns[j],
				ObservedAt:  observedAt,
				Fields:      row.Fields,
				Value:       *v,
			})
		}
	}
	return out
}
