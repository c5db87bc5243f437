package privacy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/ner"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/scrub"
)

// Engine runs the five redaction stages: generic scrubbing, structural
// rules, entity substitution, contact rules and cleanup. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	rules      *rules.RuleSet
	scrubber   scrub.Scrubber
	recognizer ner.Recognizer
	opts       Options
	logger     *zap.Logger
}

// New creates an engine. A nil recognizer is ErrRecognizerUnavailable:
// entity redaction is never silently skipped.
func New(rs *rules.RuleSet, scrubber scrub.Scrubber, recognizer ner.Recognizer, opts Options, logger *zap.Logger) (*Engine, error) {
	if recognizer == nil {
		return nil, ErrRecognizerUnavailable
	}
	if rs == nil {
		return nil, fmt.Errorf("rule set is required")
	}
	if scrubber == nil {
		scrubber = scrub.Noop{}
	}

	if opts.Mode == "" {
		opts.Mode = WholeString
	}
	if opts.Mode != WholeString && opts.Mode != SpanOnly {
		return nil, fmt.Errorf("invalid entity mode: %s (must be whole_string or span_only)", opts.Mode)
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = DefaultOptions().MaxPasses
	}

	logger.Info("De-identification engine initialized",
		zap.String("rules_version", rs.Version()),
		zap.Int("rules", rs.Len()),
		zap.String("recognizer", recognizer.Name()),
		zap.String("scrubber", scrubber.Name()),
		zap.String("entity_mode", string(opts.Mode)),
		zap.Int("max_passes", opts.MaxPasses),
	)

	return &Engine{
		rules:      rs,
		scrubber:   scrubber,
		recognizer: recognizer,
		opts:       opts,
		logger:     logger,
	}, nil
}

// Redact runs the stage pipeline, repeating it while the text still
// changes, so that redacting the output again is a no-op.
func (e *Engine) Redact(ctx context.Context, text string) (*Result, error) {
	res := &Result{Text: text, Original: text}
	if text == "" {
		return res, nil
	}

	current := text
	converged := false
	for pass := 1; pass <= e.opts.MaxPasses; pass++ {
		next, findings, err := e.pass(ctx, current)
		if err != nil {
			return nil, err
		}
		res.Passes = pass
		if next == current {
			converged = true
			break
		}
		res.Findings = mergeFindings(res.Findings, findings)
		current = next
	}

	if !converged && e.opts.MaxPasses > 1 {
		e.logger.Warn("Redaction did not reach a fixed point",
			zap.Int("passes", res.Passes),
			zap.Int("length", len(text)))
	}

	res.Text = current
	if res.Changed() {
		e.logger.Debug("Text redacted",
			zap.Int("findings", len(res.Findings)),
			zap.Int("passes", res.Passes))
	}
	return res, nil
}

// RedactValue redacts a cell value; anything that is not text becomes ""
func (e *Engine) RedactValue(ctx context.Context, v any) (*Result, error) {
	return RedactValue(ctx, e, v)
}

// RedactValue normalizes v and redacts it with r
func RedactValue(ctx context.Context, r Redactor, v any) (*Result, error) {
	text, ok := Normalize(v)
	if !ok {
		return &Result{Normalized: true}, nil
	}
	return r.Redact(ctx, text)
}

// Normalize converts a cell value to text. ok is false for missing and
// non-string values (nil, NaN, numbers, booleans).
func Normalize(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case *string:
		if x == nil {
			return "", false
		}
		return *x, true
	case []byte:
		return string(x), true
	default:
		return "", false
	}
}

// Fingerprint identifies everything that determines the engine's output
func (e *Engine) Fingerprint() string {
	return fmt.Sprintf("%s/%s/%s/%s/%d",
		e.rules.Fingerprint(), e.scrubber.Name(), e.recognizer.Name(), e.opts.Mode, e.opts.MaxPasses)
}

// Rules returns the rule table
func (e *Engine) Rules() *rules.RuleSet {
	return e.rules
}

// Options returns the effective options
func (e *Engine) Options() Options {
	return e.opts
}

// RecognizerName names the entity backend in use
func (e *Engine) RecognizerName() string {
	return e.recognizer.Name()
}

// Close releases the recognizer
func (e *Engine) Close() error {
	return e.recognizer.Close()
}

// pass runs stages 1 through 5 once
func (e *Engine) pass(ctx context.Context, text string) (string, []Finding, error) {
	var findings []Finding

	// Stage 1: generic identifiers
	scrubbed := e.scrubber.Scrub(text)
	text = scrubbed.Text
	for _, f := range scrubbed.Findings {
		findings = append(findings, Finding{
			Stage:       StageGeneric,
			Rule:        f.Scrubber + "/" + f.RuleID,
			Placeholder: f.Placeholder,
			Count:       f.Count,
		})
	}

	// Stage 2: structural and institutional phrases
	text, hits := e.rules.Apply(rules.TierStructural, text)
	findings = appendHits(findings, StageStructural, hits)

	// Stage 3: named entities
	text, entityFindings, err := e.substituteEntities(ctx, text)
	if err != nil {
		return "", nil, err
	}
	findings = append(findings, entityFindings...)

	// Stage 4: contact and numeric identifiers
	text, hits = e.rules.Apply(rules.TierContact, text)
	findings = appendHits(findings, StageContact, hits)

	// Stage 5: cleanup
	text, hits = e.rules.Apply(rules.TierCleanup, text)
	findings = appendHits(findings, StageCleanup, hits)

	return text, findings, nil
}

// substituteEntities runs the recognizer over text and replaces what it found
func (e *Engine) substituteEntities(ctx context.Context, text string) (string, []Finding, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	entities, err := e.recognizer.Recognize(ctx, text)
	if err != nil {
		return "", nil, fmt.Errorf("entity recognition (%s): %w", e.recognizer.Name(), err)
	}
	if len(entities) == 0 {
		return text, nil, nil
	}

	counts := make(map[ner.Label]int)
	if e.opts.Mode == SpanOnly {
		text = replaceSpans(text, entities, counts)
	} else {
		text = replaceWhole(text, entities, counts)
	}

	var findings []Finding
	for _, label := range ner.Labels() {
		if counts[label] == 0 {
			continue
		}
		placeholder, _ := label.Placeholder()
		findings = append(findings, Finding{
			Stage:       StageEntity,
			Rule:        label.String(),
			Placeholder: placeholder,
			Count:       counts[label],
		})
	}
	return text, findings, nil
}

type target struct {
	text        string
	label       ner.Label
	placeholder rules.Placeholder
}

// replaceWhole replaces every occurrence of each entity string, longest
// string first. Ties keep recognizer order.
func replaceWhole(text string, entities []ner.Entity, counts map[ner.Label]int) string {
	seen := make(map[string]bool)
	var targets []target
	for _, ent := range entities {
		placeholder, ok := ent.Label.Placeholder()
		if !ok {
			continue
		}
		for _, fragment := range entityFragments(ent.Text) {
			if seen[fragment] {
				continue
			}
			seen[fragment] = true
			targets = append(targets, target{text: fragment, label: ent.Label, placeholder: placeholder})
		}
	}

	sort.SliceStable(targets, func(i, j int) bool {
		return len(targets[i].text) > len(targets[j].text)
	})

	for _, t := range targets {
		text = rules.ReplaceOutsideTokens(text, func(segment string) string {
			n := strings.Count(segment, t.text)
			if n == 0 {
				return segment
			}
			counts[t.label] += n
			return strings.ReplaceAll(segment, t.text, string(t.placeholder))
		})
	}
	return text
}

// entityFragments returns the literal strings to replace for one entity.
// Entity text that overlaps existing tokens is cut around them.
func entityFragments(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if !rules.ContainsToken(s) {
		return []string{s}
	}

	var out []string
	for _, seg := range rules.SplitOutsideTokens(s) {
		if fragment := strings.TrimFunc(seg.Text, notWordRune); fragment != "" {
			out = append(out, fragment)
		}
	}
	return out
}

type span struct {
	start, end  int
	label       ner.Label
	placeholder rules.Placeholder
}

// replaceSpans replaces only reported spans. Overlaps resolve to the
// longer span; spans are clipped to stay outside existing tokens.
func replaceSpans(text string, entities []ner.Entity, counts map[ner.Label]int) string {
	segments := rules.SplitOutsideTokens(text)

	var spans []span
	for _, ent := range entities {
		placeholder, ok := ent.Label.Placeholder()
		if !ok || ent.Text == "" {
			continue
		}

		start, end := ent.Start, ent.End
		if !ent.HasOffsets() || end > len(text) || text[start:end] != ent.Text {
			idx := strings.Index(text, ent.Text)
			if idx < 0 {
				continue
			}
			start, end = idx, idx+len(ent.Text)
		}

		for _, seg := range segments {
			s, e := max(start, seg.Start), min(end, seg.End())
			if s >= e {
				continue
			}
			if s != start || e != end {
				s, e = trimSpan(text, s, e)
				if s >= e {
					continue
				}
			}
			spans = append(spans, span{start: s, end: e, label: ent.Label, placeholder: placeholder})
		}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		li, lj := spans[i].end-spans[i].start, spans[j].end-spans[j].start
		if li != lj {
			return li > lj
		}
		return spans[i].start < spans[j].start
	})

	var chosen []span
	for _, sp := range spans {
		overlaps := false
		for _, c := range chosen {
			if sp.start < c.end && c.start < sp.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			chosen = append(chosen, sp)
		}
	}

	// right to left keeps earlier offsets valid
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].start > chosen[j].start })
	for _, c := range chosen {
		text = text[:c.start] + string(c.placeholder) + text[c.end:]
		counts[c.label]++
	}
	return text
}

// trimSpan narrows [s, e) to start and end on a letter or digit
func trimSpan(text string, s, e int) (int, int) {
	for s < e {
		r, size := utf8.DecodeRuneInString(text[s:e])
		if !notWordRune(r) {
			break
		}
		s += size
	}
	for e > s {
		r, size := utf8.DecodeLastRuneInString(text[s:e])
		if !notWordRune(r) {
			break
		}
		e -= size
	}
	return s, e
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func appendHits(findings []Finding, stage Stage, hits []rules.Hit) []Finding {
	for _, h := range hits {
		findings = append(findings, Finding{
			Stage:       stage,
			Rule:        h.Rule,
			Placeholder: h.Placeholder,
			Count:       h.Count,
		})
	}
	return findings
}

// mergeFindings folds findings from a later pass into earlier ones
func mergeFindings(into, more []Finding) []Finding {
	for _, f := range more {
		merged := false
		for i := range into {
			if into[i].Stage == f.Stage && into[i].Rule == f.Rule && into[i].Placeholder == f.Placeholder {
				into[i].Count += f.Count
				merged = true
				break
			}
		}
		if !merged {
			into = append(into, f)
		}
	}
	return into
}
