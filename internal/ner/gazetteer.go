package ner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultGazetteerTerms are the cities covered by the dataset
func DefaultGazetteerTerms() map[string][]string {
	return map[string][]string{
		"GPE": {
			"South Bend", "Rockford", "Kalamazoo", "Scranton", "Fayetteville",
			"San Francisco", "Portland", "Buffalo", "Baltimore", "El Paso",
		},
	}
}

// Gazetteer recognizes a fixed list of phrases on word boundaries.
// Longer phrases win over their prefixes.
type Gazetteer struct {
	pattern    *regexp.Regexp
	labels     map[string]Label
	ignoreCase bool
}

// NewGazetteer compiles the configured terms into a single matcher
func NewGazetteer(cfg GazetteerConfig) (*Gazetteer, error) {
	g := &Gazetteer{
		labels:     make(map[string]Label),
		ignoreCase: cfg.IgnoreCase,
	}

	var phrases []string
	for name, terms := range cfg.Terms {
		label := ParseLabel(name)
		if label == LabelUnknown {
			return nil, fmt.Errorf("gazetteer: unknown label %q", name)
		}
		for _, term := range terms {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			key := g.key(term)
			if _, dup := g.labels[key]; dup {
				continue
			}
			g.labels[key] = label
			phrases = append(phrases, term)
		}
	}
	if len(phrases) == 0 {
		return nil, fmt.Errorf("gazetteer: no terms configured")
	}

	// Alternation is leftmost-first, so longer phrases go first
	sort.SliceStable(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}
		return phrases[i] < phrases[j]
	})

	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	expr := `\b(?:` + strings.Join(quoted, "|") + `)\b`
	if cfg.IgnoreCase {
		expr = "(?i)" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("gazetteer: %w", err)
	}
	g.pattern = re
	return g, nil
}

func (g *Gazetteer) key(s string) string {
	if g.ignoreCase {
		return strings.ToLower(s)
	}
	return s
}

// Recognize returns every occurrence of a known phrase
func (g *Gazetteer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	locs := g.pattern.FindAllStringIndex(text, -1)
	entities := make([]Entity, 0, len(locs))
	for _, loc := range locs {
		match := text[loc[0]:loc[1]]
		entities = append(entities, Entity{
			Text:  match,
			Label: g.labels[g.key(match)],
			Start: loc[0],
			End:   loc[1],
		})
	}
	return entities, nil
}

// Name identifies the backend
func (g *Gazetteer) Name() string {
	return string(GazetteerBackend)
}

// Close is a no-op
func (g *Gazetteer) Close() error {
	return nil
}
