package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/etl"
)

// Ledger is the write side of Store
type Ledger interface {
	BeginRun(ctx context.Context, run *etl.RunSummary) error
	RecordFile(ctx context.Context, report *etl.FileReport) error
	FinishRun(ctx context.Context, run *etl.RunSummary) error
}

// Recorder writes runner events to a Ledger. Ledger failures are logged
// and never stop a run.
type Recorder struct {
	etl.NopObserver
	ledger  Ledger
	timeout time.Duration
	logger  *zap.Logger
}

// NewRecorder creates an observer backed by ledger
func NewRecorder(ledger Ledger, logger *zap.Logger) *Recorder {
	return &Recorder{
		ledger:  ledger,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// RunStarted implements etl.Observer
func (r *Recorder) RunStarted(run *etl.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.ledger.BeginRun(ctx, run); err != nil {
		r.logger.Error("Failed to record run start", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

// FileCompleted implements etl.Observer
func (r *Recorder) FileCompleted(report *etl.FileReport) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.ledger.RecordFile(ctx, report); err != nil {
		r.logger.Error("Failed to record file report",
			zap.String("run_id", report.RunID.String()),
			zap.String("input", report.Input),
			zap.Error(err))
	}
}

// RunCompleted implements etl.Observer
func (r *Recorder) RunCompleted(run *etl.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.ledger.FinishRun(ctx, run); err != nil {
		r.logger.Error("Failed to record run completion", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}
