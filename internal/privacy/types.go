package privacy

import (
	"context"
	"errors"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"
)

// Stage names a step of the redaction pipeline
type Stage string

const (
	StageGeneric    Stage = "generic"
	StageStructural Stage = "structural"
	StageEntity     Stage = "entity"
	StageContact    Stage = "contact"
	StageCleanup    Stage = "cleanup"
)

// EntityMode controls how recognized entities are substituted
type EntityMode string

const (
	// WholeString replaces every literal occurrence of an entity's text
	WholeString EntityMode = "whole_string"
	// SpanOnly replaces only the spans the recognizer reported
	SpanOnly EntityMode = "span_only"
)

// Options tunes the engine
type Options struct {
	Mode EntityMode
	// MaxPasses bounds how often the stage pipeline is repeated while the
	// text keeps changing.
	MaxPasses int
}

// DefaultOptions returns whole-string mode with three passes
func DefaultOptions() Options {
	return Options{Mode: WholeString, MaxPasses: 3}
}

// Finding records the replacements one rule made
type Finding struct {
	Stage       Stage             `json:"stage"`
	Rule        string            `json:"rule"`
	Placeholder rules.Placeholder `json:"placeholder"`
	Count       int               `json:"count"`
}

// Result is the outcome of redacting one value
type Result struct {
	Text       string    `json:"text"`
	Findings   []Finding `json:"findings"`
	Passes     int       `json:"passes,omitempty"`
	Normalized bool      `json:"normalized,omitempty"`
	Original   string    `json:"-"` // Never serialize original text
}

// Counts totals replacements per placeholder
func (r *Result) Counts() map[rules.Placeholder]int {
	counts := make(map[rules.Placeholder]int)
	for _, f := range r.Findings {
		counts[f.Placeholder] += f.Count
	}
	return counts
}

// Changed reports whether anything was redacted
func (r *Result) Changed() bool {
	return len(r.Findings) > 0
}

// Redactor turns free text into placeholder-redacted text
type Redactor interface {
	Redact(ctx context.Context, text string) (*Result, error)
}

// ErrRecognizerUnavailable means the engine cannot run entity redaction
var ErrRecognizerUnavailable = errors.New("entity recognizer unavailable")
