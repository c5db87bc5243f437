// Package scrub implements the generic first pass of de-identification:
// identifiers that need no linguistic context, such as credentials and
// social media handles.
package scrub

import "github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"

// Finding records how many replacements one scrubber rule made
type Finding struct {
	Scrubber    string            `json:"scrubber"`
	RuleID      string            `json:"rule_id"`
	Placeholder rules.Placeholder `json:"placeholder"`
	Count       int               `json:"count"`
}

// Result is the scrubbed text plus what was replaced
type Result struct {
	Text     string
	Findings []Finding
}

// Scrubber rewrites text, replacing what it recognizes with placeholder
// tokens. Implementations must be safe for concurrent use.
type Scrubber interface {
	Scrub(text string) Result
	Name() string
}

// Chain runs scrubbers in order, feeding each the previous output
type Chain []Scrubber

// Scrub applies every member
func (c Chain) Scrub(text string) Result {
	res := Result{Text: text}
	for _, s := range c {
		r := s.Scrub(res.Text)
		res.Text = r.Text
		res.Findings = append(res.Findings, r.Findings...)
	}
	return res
}

// Name identifies the chain
func (c Chain) Name() string {
	return "chain"
}

// Noop passes text through unchanged
type Noop struct{}

// Scrub returns text as is
func (Noop) Scrub(text string) Result {
	return Result{Text: text}
}

// Name identifies the scrubber
func (Noop) Name() string {
	return "noop"
}
