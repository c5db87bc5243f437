package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/etl"
)

const schema = `
CREATE TABLE IF NOT EXISTS deid_runs (
	id          UUID PRIMARY KEY,
	sources     TEXT[] NOT NULL DEFAULT '{}',
	cities      TEXT[] NOT NULL DEFAULT '{}',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	processed   INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	row_count   BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deid_file_reports (
	id                BIGSERIAL PRIMARY KEY,
	run_id            UUID NOT NULL REFERENCES deid_runs(id) ON DELETE CASCADE,
	source            TEXT NOT NULL,
	city              TEXT NOT NULL,
	input             TEXT NOT NULL,
	output            TEXT NOT NULL,
	format            TEXT NOT NULL DEFAULT '',
	columns           TEXT[] NOT NULL DEFAULT '{}',
	missing_columns   TEXT[] NOT NULL DEFAULT '{}',
	row_count         BIGINT NOT NULL DEFAULT 0,
	values_redacted   BIGINT NOT NULL DEFAULT 0,
	values_normalized BIGINT NOT NULL DEFAULT 0,
	placeholders      JSONB NOT NULL DEFAULT '{}',
	skipped           BOOLEAN NOT NULL DEFAULT FALSE,
	skip_reason       TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	duration_ms       BIGINT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_deid_file_reports_run ON deid_file_reports(run_id);
`

// ErrRunNotFound is returned for an unknown run ID
var ErrRunNotFound = errors.New("run not found")

// Store records batch runs in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects, configures the pool and creates the ledger tables
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Run ledger initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// initialize pings the database and applies the schema
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger tables: %w", err)
	}
	return nil
}

// BeginRun inserts the run row
func (s *Store) BeginRun(ctx context.Context, run *etl.RunSummary) error {
	rec := newRunRecord(run)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO deid_runs (id, sources, cities, started_at)
		VALUES (:id, :sources, :cities, :started_at)
		ON CONFLICT (id) DO NOTHING`, rec)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	s.logger.Debug("Run recorded", zap.String("run_id", run.ID.String()))
	return nil
}

// RecordFile inserts one file report
func (s *Store) RecordFile(ctx context.Context, report *etl.FileReport) error {
	rec := newFileRecord(report)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO deid_file_reports (
			run_id, source, city, input, output, format, columns, missing_columns,
			row_count, values_redacted, values_normalized, placeholders,
			skipped, skip_reason, error, duration_ms)
		VALUES (
			:run_id, :source, :city, :input, :output, :format, :columns, :missing_columns,
			:row_count, :values_redacted, :values_normalized, :placeholders,
			:skipped, :skip_reason, :error, :duration_ms)`, rec)
	if err != nil {
		return fmt.Errorf("failed to insert file report for %s: %w", report.Input, err)
	}

	s.logger.Debug("File report recorded",
		zap.String("run_id", report.RunID.String()),
		zap.String("input", report.Input),
		zap.Int64("rows", report.Rows))
	return nil
}

// FinishRun stores the final counters of a run
func (s *Store) FinishRun(ctx context.Context, run *etl.RunSummary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deid_runs
		SET finished_at = $2, processed = $3, skipped = $4, failed = $5, row_count = $6
		WHERE id = $1`,
		run.ID, run.StartedAt.Add(run.Duration), run.Processed, run.Skipped, run.Failed, run.Rows)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	s.logger.Info("Run finished",
		zap.String("run_id", run.ID.String()),
		zap.Int("processed", run.Processed),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed),
		zap.Int64("rows", run.Rows))
	return nil
}

// RecentRuns returns the latest runs, newest first
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var runs []*RunRecord
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, sources, cities, started_at, finished_at, processed, skipped, failed, row_count
		FROM deid_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run, or ErrRunNotFound
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*RunRecord, error) {
	var run RunRecord
	err := s.db.GetContext(ctx, &run, `
		SELECT id, sources, cities, started_at, finished_at, processed, skipped, failed, row_count
		FROM deid_runs
		WHERE id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &run, nil
}

// FileReports returns the file reports of one run in insertion order
func (s *Store) FileReports(ctx context.Context, runID uuid.UUID) ([]*FileRecord, error) {
	var files []*FileRecord
	err := s.db.SelectContext(ctx, &files, `
		SELECT id, run_id, source, city, input, output, format, columns, missing_columns,
			row_count, values_redacted, values_normalized, placeholders,
			skipped, skip_reason, error, duration_ms, created_at
		FROM deid_file_reports
		WHERE run_id = $1
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file reports for run %s: %w", runID, err)
	}
	return files, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL hides the password of a connection URL for logging
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	// built by hand: url.String would escape the asterisks
	masked := u.Scheme + "://" + u.User.Username() + ":***@" + u.Host + u.EscapedPath()
	if u.RawQuery != "" {
		masked += "?" + u.RawQuery
	}
	return masked
}
