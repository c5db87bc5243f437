package etl

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeidentifiedPrefix names the redacted copy of a column
const DeidentifiedPrefix = "Deidentified_"

// DeidentifiedColumn returns the output column name for col
func DeidentifiedColumn(col string) string {
	return DeidentifiedPrefix + col
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "jsonl"
)

var (
	// ErrUnsupportedFormat is returned for files whose extension is not recognized
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrNestedSchema is returned for Parquet files with nested or repeated columns
	ErrNestedSchema = errors.New("nested parquet schemas are not supported")
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	case ".jsonl", ".json", ".ndjson":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

// Config contains batch driver configuration
type Config struct {
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`           // 1000
	WorkerCount    int `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ProgressReport int `yaml:"progress_report" mapstructure:"progress_report"` // 10000
}

// DefaultConfig returns the batch defaults
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      1000,
		WorkerCount:    4,
		ProgressReport: 10000,
	}
}

// Job describes one file to de-identify
type Job struct {
	RunID   uuid.UUID `json:"run_id"`
	Source  string    `json:"source"`
	City    string    `json:"city"`
	Input   string    `json:"input"`
	Output  string    `json:"output"`
	Columns []string  `json:"columns"` // empty means every column
	Exclude []string  `json:"exclude,omitempty"`
}

// FileReport is the outcome of processing one file. Text content is never
// recorded here.
type FileReport struct {
	RunID            uuid.UUID      `json:"run_id"`
	Source           string         `json:"source"`
	City             string         `json:"city"`
	Input            string         `json:"input"`
	Output           string         `json:"output"`
	Format           FileFormat     `json:"format"`
	Columns          []string       `json:"columns"`
	MissingColumns   []string       `json:"missing_columns,omitempty"`
	Rows             int64          `json:"rows"`
	ValuesRedacted   int64          `json:"values_redacted"`
	ValuesNormalized int64          `json:"values_normalized"`
	Placeholders     map[string]int `json:"placeholders"`
	Skipped          bool           `json:"skipped"`
	SkipReason       string         `json:"skip_reason,omitempty"`
	Error            string         `json:"error,omitempty"`
	Duration         time.Duration  `json:"duration"`
}

// RunSummary aggregates one invocation of the runner
type RunSummary struct {
	ID        uuid.UUID     `json:"id"`
	Sources   []string      `json:"sources"`
	Cities    []string      `json:"cities"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Rows      int64         `json:"rows"`
	Files     []*FileReport `json:"files"`
}

func (s *RunSummary) add(report *FileReport) {
	s.Files = append(s.Files, report)
	switch {
	case report.Error != "":
		s.Failed++
	case report.Skipped:
		s.Skipped++
	default:
		s.Processed++
		s.Rows += report.Rows
	}
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	ValuesRedacted int64     `json:"values_redacted"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// RowCountMismatchError is returned when two sibling files that should be
// row-aligned are not
type RowCountMismatchError struct {
	Original string
	Sibling  string
	Want     int
	Got      int
}

func (e *RowCountMismatchError) Error() string {
	return fmt.Sprintf("row count mismatch between %s (%d) and %s (%d)", e.Original, e.Want, e.Sibling, e.Got)
}

// Observer receives progress events. Implementations must not block.
type Observer interface {
	RunStarted(run *RunSummary)
	FileStarted(job Job)
	BatchCompleted(job Job, rows int64)
	FileCompleted(report *FileReport)
	RunCompleted(run *RunSummary)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) RunStarted(*RunSummary) {}
func (NopObserver) FileStarted(Job) {}
func (NopObserver) BatchCompleted(Job, int64) {}
func (NopObserver) FileCompleted(*FileReport) {}
func (NopObserver) RunCompleted(*RunSummary) {}

// Observers fans events out in order
type Observers []Observer

func (o Observers) RunStarted(run *RunSummary) {
	for _, obs := range o {
		obs.RunStarted(run)
	}
}

func (o Observers) FileStarted(job Job) {
	for _, obs := range o {
		obs.FileStarted(job)
	}
}

func (o Observers) BatchCompleted(job Job, rows int64) {
	for _, obs := range o {
		obs.BatchCompleted(job, rows)
	}
}

func (o Observers) FileCompleted(report *FileReport) {
	for _, obs := range o {
		obs.FileCompleted(report)
	}
}

func (o Observers) RunCompleted(run *RunSummary) {
	for _, obs := range o {
		obs.RunCompleted(run)
	}
}
