// Package keywords annotates text with the homelessness lexicon terms it
// mentions.
package keywords

import (
	"fmt"
	"regexp"
	"strings"
)

// Separator joins matched terms in the keywords_matched column
const Separator = ", "

// DefaultTerms is the lexicon used to collect the corpus
func DefaultTerms() []string {
	return []string{
		"homeless", "homelessness", "housing crisis",
		"affordable housing", "unhoused", "houseless",
		"housing insecurity", "beggar", "squatter", "panhandler", "soup kitchen",
	}
}

// Matcher finds lexicon terms in text, case-insensitively. In substring
// mode "homeless" also matches "homelessness"; whole-word mode requires
// word boundaries on both sides.
type Matcher struct {
	terms     []string
	lowered   []string
	patterns  []*regexp.Regexp
	wholeWord bool
}

// New builds a matcher. Empty terms are dropped; duplicates are kept once.
func New(terms []string, wholeWord bool) (*Matcher, error) {
	m := &Matcher{wholeWord: wholeWord}
	seen := make(map[string]bool)
	for _, term := range terms {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" || seen[key] {
			continue
		}
		seen[key] = true
		m.terms = append(m.terms, term)
		m.lowered = append(m.lowered, key)

		if wholeWord {
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("keyword %q: %w", term, err)
			}
			m.patterns = append(m.patterns, re)
		}
	}
	if len(m.terms) == 0 {
		return nil, fmt.Errorf("keyword list is empty")
	}
	return m, nil
}

// NewDefault returns a substring matcher over DefaultTerms
func NewDefault() *Matcher {
	m, _ := New(DefaultTerms(), false)
	return m
}

// Find returns the matched terms in lexicon order
func (m *Matcher) Find(text string) []string {
	if text == "" {
		return nil
	}

	var matched []string
	if m.wholeWord {
		for i, re := range m.patterns {
			if re.MatchString(text) {
				matched = append(matched, m.terms[i])
			}
		}
		return matched
	}

	lower := strings.ToLower(text)
	for i, term := range m.lowered {
		if strings.Contains(lower, term) {
			matched = append(matched, m.terms[i])
		}
	}
	return matched
}

// Annotate returns the keywords_matched cell value for text
func (m *Matcher) Annotate(text string) string {
	return Join(m.Find(text))
}

// Terms returns a copy of the lexicon
func (m *Matcher) Terms() []string {
	return append([]string(nil), m.terms...)
}

// WholeWord reports the matching mode
func (m *Matcher) WholeWord() bool {
	return m.wholeWord
}

// Join formats matched terms as a single cell
func Join(terms []string) string {
	return strings.Join(terms, Separator)
}
