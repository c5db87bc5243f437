package websocket

import (
	"time"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/etl"
)

// Notifier forwards batch runner events to the hub
type Notifier struct {
	hub *Hub
}

// NewNotifier returns an etl.Observer that broadcasts on hub
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

func (n *Notifier) RunStarted(run *etl.RunSummary) {
	n.hub.BroadcastEvent(Event{Type: EventTypeRunStarted, Data: runEvent(run)})
}

func (n *Notifier) FileStarted(job etl.Job) {
	n.hub.BroadcastEvent(Event{Type: EventTypeFileStarted, Data: FileEvent{
		RunID:  job.RunID.String(),
		Source: job.Source,
		City:   job.City,
		Input:  job.Input,
		Output: job.Output,
	}})
}

func (n *Notifier) BatchCompleted(job etl.Job, rows int64) {
	n.hub.BroadcastEvent(Event{Type: EventTypeBatchProgress, Data: FileEvent{
		RunID:  job.RunID.String(),
		Source: job.Source,
		City:   job.City,
		Input:  job.Input,
		Rows:   rows,
	}})
}

func (n *Notifier) FileCompleted(report *etl.FileReport) {
	n.hub.BroadcastEvent(Event{Type: EventTypeFileCompleted, Data: FileEvent{
		RunID:          report.RunID.String(),
		Source:         report.Source,
		City:           report.City,
		Input:          report.Input,
		Output:         report.Output,
		Rows:           report.Rows,
		ValuesRedacted: report.ValuesRedacted,
		Placeholders:   report.Placeholders,
		Skipped:        report.Skipped,
		SkipReason:     report.SkipReason,
		Error:          report.Error,
	}})
}

func (n *Notifier) RunCompleted(run *etl.RunSummary) {
	n.hub.BroadcastEvent(Event{Type: EventTypeRunCompleted, Data: runEvent(run)})
}

func runEvent(run *etl.RunSummary) RunEvent {
	ev := RunEvent{
		RunID:     run.ID.String(),
		Sources:   run.Sources,
		Cities:    run.Cities,
		Processed: run.Processed,
		Skipped:   run.Skipped,
		Failed:    run.Failed,
		Rows:      run.Rows,
	}
	if run.Duration > 0 {
		ev.Duration = run.Duration.Round(time.Millisecond).String()
	}
	return ev
}
