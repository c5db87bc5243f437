package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/etl"
)

// Config contains database configuration
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// RunRecord is one row of deid_runs
type RunRecord struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	Sources    pq.StringArray `db:"sources" json:"sources"`
	Cities     pq.StringArray `db:"cities" json:"cities"`
	StartedAt  time.Time      `db:"started_at" json:"started_at"`
	FinishedAt *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	Processed  int            `db:"processed" json:"processed"`
	Skipped    int            `db:"skipped" json:"skipped"`
	Failed     int            `db:"failed" json:"failed"`
	Rows       int64          `db:"row_count" json:"rows"`
}

// FileRecord is one row of deid_file_reports. It holds counts and paths,
// never cell text.
type FileRecord struct {
	ID               int64          `db:"id" json:"id"`
	RunID            uuid.UUID      `db:"run_id" json:"run_id"`
	Source           string         `db:"source" json:"source"`
	City             string         `db:"city" json:"city"`
	Input            string         `db:"input" json:"input"`
	Output           string         `db:"output" json:"output"`
	Format           string         `db:"format" json:"format"`
	Columns          pq.StringArray `db:"columns" json:"columns"`
	MissingColumns   pq.StringArray `db:"missing_columns" json:"missing_columns"`
	Rows             int64          `db:"row_count" json:"rows"`
	ValuesRedacted   int64          `db:"values_redacted" json:"values_redacted"`
	ValuesNormalized int64          `db:"values_normalized" json:"values_normalized"`
	Placeholders     Placeholders   `db:"placeholders" json:"placeholders"`
	Skipped          bool           `db:"skipped" json:"skipped"`
	SkipReason       string         `db:"skip_reason" json:"skip_reason"`
	Error            string         `db:"error" json:"error"`
	DurationMs       int64          `db:"duration_ms" json:"duration_ms"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// Placeholders is a placeholder → count map stored as jsonb
type Placeholders map[string]int

// Value implements driver.Valuer
func (p Placeholders) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner
func (p *Placeholders) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Placeholders{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Placeholders", src)
	}
	out := Placeholders{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("invalid placeholders json: %w", err)
	}
	*p = out
	return nil
}

func newRunRecord(run *etl.RunSummary) *RunRecord {
	return &RunRecord{
		ID:        run.ID,
		Sources:   pq.StringArray(nonNil(run.Sources)),
		Cities:    pq.StringArray(nonNil(run.Cities)),
		StartedAt: run.StartedAt,
		Processed: run.Processed,
		Skipped:   run.Skipped,
		Failed:    run.Failed,
		Rows:      run.Rows,
	}
}

func newFileRecord(report *etl.FileReport) *FileRecord {
	placeholders := make(Placeholders, len(report.Placeholders))
	for k, v := range report.Placeholders {
		placeholders[k] = v
	}
	return &FileRecord{
		RunID:            report.RunID,
		Source:           report.Source,
		City:             report.City,
		Input:            report.Input,
		Output:           report.Output,
		Format:           string(report.Format),
		Columns:          pq.StringArray(nonNil(report.Columns)),
		MissingColumns:   pq.StringArray(nonNil(report.MissingColumns)),
		Rows:             report.Rows,
		ValuesRedacted:   report.ValuesRedacted,
		ValuesNormalized: report.ValuesNormalized,
		Placeholders:     placeholders,
		Skipped:          report.Skipped,
		SkipReason:       report.SkipReason,
		Error:            report.Error,
		DurationMs:       report.Duration.Milliseconds(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
