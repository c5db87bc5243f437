package etl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CityPlaceholder is substituted with the city directory name in Source.Path
const CityPlaceholder = "{city}"

// Source describes one dataset family laid out per city under the data
// directory
type Source struct {
	Name    string   `yaml:"name" mapstructure:"name"`
	Path    string   `yaml:"path" mapstructure:"path"` // relative to the data dir, may contain {city}
	Columns []string `yaml:"columns" mapstructure:"columns"`
	Exclude []string `yaml:"exclude" mapstructure:"exclude"`
	// KeywordColumn is the text column scanned for keywords_matched; the
	// last entry of Columns when empty
	KeywordColumn string `yaml:"keyword_column" mapstructure:"keyword_column"`
}

// InputPath returns the source file for city
func (s Source) InputPath(dataDir, city string) string {
	return filepath.Join(dataDir, filepath.FromSlash(strings.ReplaceAll(s.Path, CityPlaceholder, city)))
}

// TextColumn returns the column used for keyword annotation
func (s Source) TextColumn() string {
	if s.KeywordColumn != "" {
		return s.KeywordColumn
	}
	if len(s.Columns) == 0 {
		return ""
	}
	return s.Columns[len(s.Columns)-1]
}

// DefaultSources returns the dataset layout of the collection scripts
func DefaultSources() []Source {
	return []Source{
		{
			Name:    "reddit",
			Path:    "{city}/reddit/filtered_comments.csv",
			Columns: []string{"Submission Title", "Comment"},
		},
		{
			Name:    "x",
			Path:    "{city}/x/posts_english_2015-2025.csv",
			Columns: []string{"text"},
		},
		{
			Name:    "news",
			Path:    "{city}/newspaper/{city}_filtered.csv",
			Columns: []string{"article_title", "paragraph_text"},
		},
		{
			Name:    "meeting_minutes",
			Path:    "{city}/meeting_minutes/meeting_minutes_lexicon_matches.csv",
			Columns: []string{"paragraph"},
		},
	}
}

// SelectSources filters sources by name. No names or "all" keeps every
// source.
func SelectSources(sources []Source, names []string) ([]Source, error) {
	if len(names) == 0 {
		return sources, nil
	}
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		byName[s.Name] = s
	}

	var out []Source
	seen := make(map[string]bool)
	for _, name := range names {
		if name == "all" {
			return sources, nil
		}
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown source type: %s", name)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// OutputPath inserts suffix before the extension of input
func OutputPath(input, suffix string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + suffix + ext
}

// DiscoverCities lists the city directories under dataDir in name order
func DiscoverCities(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}
	var cities []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			cities = append(cities, e.Name())
		}
	}
	return cities, nil
}

// RunnerConfig contains the dataset layout
type RunnerConfig struct {
	DataDir      string   `yaml:"data_dir" mapstructure:"data_dir"`
	Cities       []string `yaml:"cities" mapstructure:"cities"` // empty means discover
	Sources      []Source `yaml:"sources" mapstructure:"sources"`
	OutputSuffix string   `yaml:"output_suffix" mapstructure:"output_suffix"`
	SkipExisting bool     `yaml:"skip_existing" mapstructure:"skip_existing"`
}

// Runner walks every city and source and de-identifies what it finds
type Runner struct {
	pipeline *Pipeline
	config   RunnerConfig
	logger   *zap.Logger
}

// NewRunner creates a runner. Run events go to the pipeline's observer.
func NewRunner(pipeline *Pipeline, config RunnerConfig, logger *zap.Logger) *Runner {
	if config.OutputSuffix == "" {
		config.OutputSuffix = "_deidentified"
	}
	if len(config.Sources) == 0 {
		config.Sources = DefaultSources()
	}
	return &Runner{pipeline: pipeline, config: config, logger: logger}
}

// Cities returns the configured or discovered cities
func (r *Runner) Cities() ([]string, error) {
	if len(r.config.Cities) > 0 {
		return r.config.Cities, nil
	}
	return DiscoverCities(r.config.DataDir)
}

// Run processes the selected source types for every city. A failed file is
// recorded and the run continues; cancellation stops it.
func (r *Runner) Run(ctx context.Context, types []string, force bool) (*RunSummary, error) {
	sources, err := SelectSources(r.config.Sources, types)
	if err != nil {
		return nil, err
	}
	cities, err := r.Cities()
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		ID:        uuid.New(),
		Cities:    cities,
		StartedAt: time.Now(),
	}
	for _, s := range sources {
		summary.Sources = append(summary.Sources, s.Name)
	}

	r.logger.Info("Starting de-identification run",
		zap.String("run_id", summary.ID.String()),
		zap.Strings("cities", cities),
		zap.Strings("sources", summary.Sources))
	r.pipeline.observer.RunStarted(summary)

	var runErr error
loop:
	for _, city := range cities {
		for _, source := range sources {
			if err := ctx.Err(); err != nil {
				runErr = err
				break loop
			}

			job := Job{
				RunID:   summary.ID,
				Source:  source.Name,
				City:    city,
				Input:   source.InputPath(r.config.DataDir, city),
				Columns: source.Columns,
				Exclude: source.Exclude,
			}
			job.Output = OutputPath(job.Input, r.config.OutputSuffix)

			report := r.runJob(ctx, job, force)
			summary.add(report)
			if report.Error != "" && ctx.Err() != nil {
				runErr = ctx.Err()
				break loop
			}
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	r.pipeline.observer.RunCompleted(summary)
	r.logger.Info("De-identification run completed",
		zap.String("run_id", summary.ID.String()),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int64("rows", summary.Rows),
		zap.Duration("duration", summary.Duration))

	return summary, runErr
}

func (r *Runner) runJob(ctx context.Context, job Job, force bool) *FileReport {
	if _, err := os.Stat(job.Input); err != nil {
		reason := "input not found"
		if !errors.Is(err, os.ErrNotExist) {
			reason = err.Error()
		}
		r.logger.Debug("Skipping file", zap.String("file", job.Input), zap.String("reason", reason))
		return r.skipped(job, reason)
	}
	if r.config.SkipExisting && !force {
		if _, err := os.Stat(job.Output); err == nil {
			r.logger.Info("Skipping file, de-identified output already exists",
				zap.String("file", job.Input),
				zap.String("output", job.Output))
			return r.skipped(job, "output exists")
		}
	}

	report, err := r.pipeline.ProcessFile(ctx, job)
	if err != nil && report.Error == "" {
		report.Error = err.Error()
	}
	return report
}

func (r *Runner) skipped(job Job, reason string) *FileReport {
	report := &FileReport{
		RunID:      job.RunID,
		Source:     job.Source,
		City:       job.City,
		Input:      job.Input,
		Output:     job.Output,
		Skipped:    true,
		SkipReason: reason,
	}
	r.pipeline.observer.FileCompleted(report)
	return report
}
