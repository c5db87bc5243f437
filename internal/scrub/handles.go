package scrub

import (
	"regexp"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"
)

type handleRule struct {
	id      string
	pattern *regexp.Regexp
}

var handleRules = []handleRule{
	// u/name and /u/name as written on Reddit
	{id: "reddit-user", pattern: regexp.MustCompile(`/?\bu/[A-Za-z0-9_-]{3,20}\b`)},
	// @name, but not the @ inside an e-mail address
	{id: "at-mention", pattern: regexp.MustCompile(`\B@[A-Za-z0-9_]{1,30}\b`)},
}

// HandleScrubber replaces social media handles with [PERSON]
type HandleScrubber struct{}

// NewHandleScrubber returns the handle scrubber
func NewHandleScrubber() *HandleScrubber {
	return &HandleScrubber{}
}

// Scrub replaces handles outside existing tokens
func (h *HandleScrubber) Scrub(text string) Result {
	res := Result{Text: text}
	for _, rule := range handleRules {
		count := 0
		res.Text = rules.ReplaceOutsideTokens(res.Text, func(segment string) string {
			count += len(rule.pattern.FindAllStringIndex(segment, -1))
			return rule.pattern.ReplaceAllLiteralString(segment, string(rules.Person))
		})
		if count > 0 {
			res.Findings = append(res.Findings, Finding{Scrubber: h.Name(), RuleID: rule.id, Placeholder: rules.Person, Count: count})
		}
	}
	return res
}

// Name identifies the scrubber
func (h *HandleScrubber) Name() string {
	return "handles"
}
