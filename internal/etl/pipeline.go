package etl

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
)

// Pipeline de-identifies tabular files one at a time. Rows inside a batch
// are redacted in parallel; batches are written in input order.
type Pipeline struct {
	redactor privacy.Redactor
	config   *Config
	observer Observer
	logger   *zap.Logger
	stats    *ProcessingStats
	mu       sync.RWMutex
}

// NewPipeline creates a new batch pipeline
func NewPipeline(redactor privacy.Redactor, config *Config, observer Observer, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if observer == nil {
		observer = NopObserver{}
	}

	return &Pipeline{
		redactor: redactor,
		config:   &cfg,
		observer: observer,
		logger:   logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// columnPlan maps selected input columns to their de-identified outputs
type columnPlan struct {
	selected []int
	targets  []int
	output   []Column
	missing  []string
}

func (c columnPlan) selectedNames(columns []Column) []string {
	names := make([]string, len(c.selected))
	for i, idx := range c.selected {
		names[i] = columns[idx].Name
	}
	return names
}

// planColumns selects include (or every column) minus exclude minus
// columns that are already de-identified copies.
func planColumns(columns []Column, include, exclude []string) columnPlan {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c.Name]; !dup {
			index[c.Name] = i
		}
	}
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	candidates := include
	if len(candidates) == 0 {
		candidates = ColumnNames(columns)
	}

	plan := columnPlan{output: append([]Column(nil), columns...)}
	seen := make(map[string]bool)
	for _, name := range candidates {
		if seen[name] || excluded[name] || hasDeidentifiedPrefix(name) {
			continue
		}
		seen[name] = true

		idx, ok := index[name]
		if !ok {
			plan.missing = append(plan.missing, name)
			continue
		}

		target := DeidentifiedColumn(name)
		if j, exists := index[target]; exists {
			// overwrite in place; the column becomes text
			plan.output[j] = Column{Name: target}
			plan.targets = append(plan.targets, j)
		} else {
			plan.output = append(plan.output, Column{Name: target})
			plan.targets = append(plan.targets, len(plan.output)-1)
		}
		plan.selected = append(plan.selected, idx)
	}
	return plan
}

func hasDeidentifiedPrefix(name string) bool {
	return len(name) > len(DeidentifiedPrefix) && name[:len(DeidentifiedPrefix)] == DeidentifiedPrefix
}

// ProcessFile de-identifies job.Input into job.Output. The output appears
// only when every row was redacted; on error no partial file is left.
func (p *Pipeline) ProcessFile(ctx context.Context, job Job) (*FileReport, error) {
	start := time.Now()
	report := &FileReport{
		RunID:        job.RunID,
		Source:       job.Source,
		City:         job.City,
		Input:        job.Input,
		Output:       job.Output,
		Placeholders: make(map[string]int),
	}

	reader, format, err := OpenReader(job.Input)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	defer reader.Close()
	report.Format = format

	outFormat, err := DetectFileFormat(job.Output)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	if outFormat != format {
		err := fmt.Errorf("output format %s does not match input format %s", outFormat, format)
		report.Error = err.Error()
		return report, err
	}

	plan := planColumns(reader.Columns(), job.Columns, job.Exclude)
	report.Columns = plan.selectedNames(reader.Columns())
	report.MissingColumns = plan.missing
	if len(plan.missing) > 0 {
		p.logger.Warn("Columns not found, skipping them",
			zap.String("file", job.Input),
			zap.Strings("missing", plan.missing))
	}
	if len(plan.selected) == 0 {
		report.Skipped = true
		report.SkipReason = "no columns to de-identify"
		report.Duration = time.Since(start)
		p.logger.Warn("Nothing to de-identify", zap.String("file", job.Input))
		return report, nil
	}

	p.logger.Info("Starting de-identification",
		zap.String("file", job.Input),
		zap.String("format", string(format)),
		zap.Strings("columns", report.Columns),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	p.resetStats()
	p.observer.FileStarted(job)

	err = writeFileAtomic(job.Output, func(w io.Writer) error {
		writer, err := NewWriter(w, format, plan.output)
		if err != nil {
			return err
		}
		if err := p.processBatches(ctx, job, reader, writer, plan, report); err != nil {
			return err
		}
		return writer.Close()
	})
	report.Duration = time.Since(start)

	if err != nil {
		report.Error = err.Error()
		p.logger.Error("De-identification failed",
			zap.String("file", job.Input),
			zap.Int64("rows_done", report.Rows),
			zap.Error(err))
		p.observer.FileCompleted(report)
		return report, err
	}

	p.logger.Info("De-identification completed",
		zap.String("file", job.Input),
		zap.String("output", job.Output),
		zap.Int64("rows", report.Rows),
		zap.Int64("values_redacted", report.ValuesRedacted),
		zap.Int64("values_normalized", report.ValuesNormalized),
		zap.Duration("duration", report.Duration))
	p.observer.FileCompleted(report)
	return report, nil
}

// processBatches reads, redacts and writes until the reader is drained
func (p *Pipeline) processBatches(ctx context.Context, job Job, reader RowReader, writer RowWriter, plan columnPlan, report *FileReport) error {
	var batchNum int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := readBatch(reader, p.config.BatchSize)
		if err != nil {
			return fmt.Errorf("row %d: %w", report.Rows+int64(len(batch))+1, err)
		}
		if len(batch) == 0 {
			return nil
		}

		out, t, err := p.redactBatch(ctx, job, batch, report.Rows, plan)
		if err != nil {
			return fmt.Errorf("batch %d: %w", batchNum, err)
		}
		for _, row := range out {
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}

		prev := report.Rows
		report.Rows += int64(len(batch))
		report.ValuesRedacted += t.redacted
		report.ValuesNormalized += t.normalized
		for k, v := range t.placeholders {
			report.Placeholders[k] += v
		}
		batchNum++

		p.updateStats(report, batchNum)
		p.observer.BatchCompleted(job, report.Rows)
		if p.config.ProgressReport > 0 && report.Rows/int64(p.config.ProgressReport) > prev/int64(p.config.ProgressReport) {
			p.reportProgress(job, report)
		}
	}
}

// readBatch reads up to size rows; a short batch means the reader is drained
func readBatch(reader RowReader, size int) ([][]any, error) {
	batch := make([][]any, 0, size)
	for len(batch) < size {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return batch, err
		}
		batch = append(batch, row)
	}
	return batch, nil
}

type tally struct {
	redacted     int64
	normalized   int64
	placeholders map[string]int
}

func (t *tally) add(res *privacy.Result) {
	if res.Normalized {
		t.normalized++
	}
	if !res.Changed() {
		return
	}
	t.redacted++
	for ph, n := range res.Counts() {
		t.placeholders[string(ph)] += n
	}
}

// redactBatch splits batch into one contiguous slice per worker. Each
// worker writes only its own output slots. offset is the number of rows
// written before this batch.
func (p *Pipeline) redactBatch(ctx context.Context, job Job, batch [][]any, offset int64, plan columnPlan) ([][]any, tally, error) {
	out := make([][]any, len(batch))
	workers := min(p.config.WorkerCount, len(batch))
	tallies := make([]tally, workers)
	chunk := (len(batch) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, min((w+1)*chunk, len(batch))
		t := &tallies[w]
		t.placeholders = make(map[string]int)

		g.Go(func() error {
			for i := lo; i < hi; i++ {
				row := make([]any, len(plan.output))
				copy(row, batch[i])
				for k, src := range plan.selected {
					res, err := privacy.RedactValue(gctx, p.redactor, batch[i][src])
					if err != nil {
						return err
					}
					row[plan.targets[k]] = res.Text
					t.add(res)
					if res.Normalized {
						p.logger.Debug("Value normalized to empty output",
							zap.String("file", job.Input),
							zap.Int64("row", offset+int64(i)+1),
							zap.String("column", plan.output[src].Name),
							zap.String("type", fmt.Sprintf("%T", batch[i][src])))
					}
				}
				out[i] = row
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, tally{}, err
	}

	total := tally{placeholders: make(map[string]int)}
	for _, t := range tallies {
		total.redacted += t.redacted
		total.normalized += t.normalized
		for k, v := range t.placeholders {
			total.placeholders[k] += v
		}
	}
	return out, total, nil
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(job Job, report *FileReport) {
	stats := p.GetStats()
	p.logger.Info("Processing progress",
		zap.String("file", job.Input),
		zap.Int64("rows", report.Rows),
		zap.Int64("values_redacted", report.ValuesRedacted),
		zap.Float64("rate_per_sec", stats.ProcessingRate),
		zap.Duration("elapsed", time.Since(stats.StartTime)))
}

func (p *Pipeline) updateStats(report *FileReport, batch int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.RecordsRead = report.Rows
	p.stats.ValuesRedacted = report.ValuesRedacted
	p.stats.CurrentBatch = batch
	if elapsed := time.Since(p.stats.StartTime).Seconds(); elapsed > 0 {
		p.stats.ProcessingRate = float64(report.Rows) / elapsed
	}
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Create a copy
	stats := *p.stats
	return &stats
}
