package ner

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

const (
	weekday   = `(?:Monday|Tuesday|Wednesday|Thursday|Friday|Saturday|Sunday)s?`
	monthName = `(?:January|February|March|April|May|June|July|August|September|October|November|December)`
	monthAny  = `(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan\.?|Feb\.?|Mar\.?|Apr\.?|Jun\.?|Jul\.?|Aug\.?|Sept?\.?|Oct\.?|Nov\.?|Dec\.?)`
	ordinal   = `\d{1,2}(?:st|nd|rd|th)?`
	relative  = `(?i:next|last|this|past|coming)`
)

// temporalPattern tags one shape of date or time expression. When the
// expression has an "e" group, only that group is the entity.
type temporalPattern struct {
	label Label
	re    *regexp.Regexp
}

// Order matters only for readability; overlaps are resolved by length.
var temporalPatterns = []temporalPattern{
	{Date, regexp.MustCompile(`\b` + monthAny + `\s+` + ordinal + `(?:,?\s+\d{4})?\b`)},
	{Date, regexp.MustCompile(`\b` + ordinal + `\s+(?:of\s+)?` + monthAny + `(?:,?\s+\d{4})?\b`)},
	{Date, regexp.MustCompile(`\b` + monthAny + `,?\s+\d{4}\b`)},
	{Date, regexp.MustCompile(`\b(?:` + relative + `\s+)?` + weekday + `\b`)},
	{Date, regexp.MustCompile(`\b` + relative + `\s+` + monthName + `\b`)},
	{Date, regexp.MustCompile(`\b(?i:in|on|since|during|until|by|early|late)\s+(?P<e>` + monthName + `)\b`)},
	{Date, regexp.MustCompile(`(?i)\b` + relative + `\s+(?:week|weekend|month|year|summer|winter|spring|fall)\b`)},
	{Date, regexp.MustCompile(`(?i)\b(?:yesterday|today|tomorrow)\b`)},
	{Date, regexp.MustCompile(`\b\d{1,2}/\d{1,2}/(?:\d{4}|\d{2})\b`)},
	{Date, regexp.MustCompile(`\b\d{4}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])\b`)},
	{Time, regexp.MustCompile(`\b(?:1[0-2]|0?[1-9])(?::[0-5]\d)?\s*(?i:a\.m\.|p\.m\.|am\b|pm\b)`)},
	{Time, regexp.MustCompile(`\b(?:[01]?\d|2[0-3]):[0-5]\d\b`)},
	{Time, regexp.MustCompile(`(?i)\b(?:noon|midnight|tonight|this\s+(?:morning|afternoon|evening))\b`)},
}

// TemporalRecognizer tags dates and clock times with regular expressions.
// It covers the DATE and TIME labels for backends whose models do not
// emit them.
type TemporalRecognizer struct{}

// NewTemporalRecognizer creates a date and time recognizer
func NewTemporalRecognizer() *TemporalRecognizer {
	return &TemporalRecognizer{}
}

// Recognize returns non-overlapping date and time spans in text order.
// Overlaps keep the longer span.
func (r *TemporalRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var found []Entity
	for _, p := range temporalPatterns {
		group := p.re.SubexpIndex("e")
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if group > 0 && m[2*group] >= 0 {
				start, end = m[2*group], m[2*group+1]
			}
			found = append(found, Entity{Text: text[start:end], Label: p.label, Start: start, End: end})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		li, lj := found[i].End-found[i].Start, found[j].End-found[j].Start
		if li != lj {
			return li > lj
		}
		return found[i].Start < found[j].Start
	})

	var kept []Entity
	for _, e := range found {
		overlaps := false
		for _, k := range kept {
			if e.Start < k.End && k.Start < e.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, e)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept, nil
}

// Name identifies the backend
func (r *TemporalRecognizer) Name() string {
	return "temporal"
}

// Close is a no-op
func (r *TemporalRecognizer) Close() error {
	return nil
}
