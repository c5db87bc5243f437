package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholder is a bracketed token that replaces a redacted span
type Placeholder string

// Closed placeholder vocabulary
const (
	Person       Placeholder = "[PERSON]"
	Location     Placeholder = "[LOCATION]"
	Organization Placeholder = "[ORGANIZATION]"
	Date         Placeholder = "[DATE]"
	Time         Placeholder = "[TIME]"
	Institution  Placeholder = "[INSTITUTION]"
	Street       Placeholder = "[STREET]"
	Phone        Placeholder = "[PHONE]"
	URL          Placeholder = "[URL]"
	Email        Placeholder = "[EMAIL]"
	IP           Placeholder = "[IP]"
	ZIP          Placeholder = "[ZIP]"
)

// Redacted is written by the generic pass for credentials and tokens.
// It is protected like a placeholder but no rule targets it.
const Redacted Placeholder = "[REDACTED]"

var vocabulary = []Placeholder{
	Person, Location, Organization, Date, Time, Institution,
	Street, Phone, URL, Email, IP, ZIP,
}

var tokenPattern = buildTokenPattern()

func buildTokenPattern() *regexp.Regexp {
	alts := make([]string, 0, len(vocabulary)+1)
	for _, p := range append(Placeholders(), Redacted) {
		alts = append(alts, regexp.QuoteMeta(string(p)))
	}
	return regexp.MustCompile(strings.Join(alts, "|"))
}

// Placeholders returns the closed placeholder set in canonical order
func Placeholders() []Placeholder {
	out := make([]Placeholder, len(vocabulary))
	copy(out, vocabulary)
	return out
}

// ParsePlaceholder accepts either the bracketed token or its bare name
func ParsePlaceholder(s string) (Placeholder, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		s = "[" + strings.ToUpper(s) + "]"
	}
	for _, p := range vocabulary {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown placeholder: %q", s)
}

// Name returns the placeholder without brackets
func (p Placeholder) Name() string {
	return strings.Trim(string(p), "[]")
}

// Valid reports whether p belongs to the closed vocabulary
func (p Placeholder) Valid() bool {
	_, err := ParsePlaceholder(string(p))
	return err == nil
}

// TokenPattern matches any placeholder token, [REDACTED] included
func TokenPattern() *regexp.Regexp {
	return tokenPattern
}

// ContainsToken reports whether s holds at least one placeholder token
func ContainsToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// ReplaceOutsideTokens applies fn to every stretch of s lying between
// placeholder tokens. Tokens themselves are copied through untouched.
func ReplaceOutsideTokens(s string, fn func(string) string) string {
	locs := tokenPattern.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return fn(s)
	}

	var b strings.Builder
	b.Grow(len(s))
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			b.WriteString(fn(s[prev:loc[0]]))
		}
		b.WriteString(s[loc[0]:loc[1]])
		prev = loc[1]
	}
	if prev < len(s) {
		b.WriteString(fn(s[prev:]))
	}
	return b.String()
}

// SplitOutsideTokens returns the non-empty stretches of s between tokens
// together with their byte offsets in s.
func SplitOutsideTokens(s string) []Segment {
	locs := tokenPattern.FindAllStringIndex(s, -1)
	segments := make([]Segment, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			segments = append(segments, Segment{Text: s[prev:loc[0]], Start: prev})
		}
		prev = loc[1]
	}
	if prev < len(s) {
		segments = append(segments, Segment{Text: s[prev:], Start: prev})
	}
	return segments
}

// Segment is a token-free stretch of text
type Segment struct {
	Text  string
	Start int
}

// End returns the byte offset just past the segment
func (s Segment) End() int {
	return s.Start + len(s.Text)
}
