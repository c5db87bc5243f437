package rules

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default_rules.toml
var defaultRules []byte

// RuleSet is the ordered, immutable rule table. It is safe for concurrent use.
type RuleSet struct {
	version     string
	tiers       map[Tier][]*compiledRule
	fingerprint string
}

// Default returns the built-in rule table
func Default() (*RuleSet, error) {
	rs, err := Parse(defaultRules)
	if err != nil {
		return nil, fmt.Errorf("built-in rule table: %w", err)
	}
	return rs, nil
}

// Load reads a rule table from a TOML file
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return rs, nil
}

// Parse decodes and validates a TOML rule table
func Parse(data []byte) (*RuleSet, error) {
	var file ruleFile
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown rule keys: %v", undecoded)
	}

	rs := &RuleSet{
		version: file.Version,
		tiers:   make(map[Tier][]*compiledRule, 3),
	}

	seen := make(map[string]bool)
	for _, group := range []struct {
		tier  Tier
		rules []Rule
	}{
		{TierStructural, file.Structural},
		{TierContact, file.Contact},
		{TierCleanup, file.Cleanup},
	} {
		for _, rule := range group.rules {
			if seen[rule.ID] {
				return nil, fmt.Errorf("duplicate rule id: %s", rule.ID)
			}
			seen[rule.ID] = true

			compiled, err := compileRule(group.tier, rule)
			if err != nil {
				return nil, err
			}
			rs.tiers[group.tier] = append(rs.tiers[group.tier], compiled)
		}
	}

	sum := sha256.Sum256(data)
	rs.fingerprint = hex.EncodeToString(sum[:8])

	return rs, nil
}

// compileRule validates a rule and compiles its pattern
func compileRule(tier Tier, rule Rule) (*compiledRule, error) {
	if rule.ID == "" {
		return nil, fmt.Errorf("%s rule with pattern %q has no id", tier, rule.Pattern)
	}
	if rule.Pattern == "" {
		return nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
	}
	if (rule.Placeholder == "") == (rule.Template == "") {
		return nil, fmt.Errorf("rule %s: exactly one of placeholder or template must be set", rule.ID)
	}
	if rule.Placeholder != "" && !rule.Placeholder.Valid() {
		return nil, fmt.Errorf("rule %s: placeholder %q is not in the vocabulary", rule.ID, rule.Placeholder)
	}
	if rule.Tokens && tier != TierCleanup && tier != TierContact {
		return nil, fmt.Errorf("rule %s: only contact and cleanup rules may see placeholder tokens", rule.ID)
	}

	pattern := rule.Pattern
	if rule.IgnoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
	}

	return &compiledRule{Rule: rule, re: re}, nil
}

// Version returns the version string declared by the rule table
func (rs *RuleSet) Version() string {
	return rs.version
}

// Fingerprint identifies the exact rule table contents
func (rs *RuleSet) Fingerprint() string {
	return rs.fingerprint
}

// Tiers returns the tiers in execution order
func (rs *RuleSet) Tiers() []Tier {
	return []Tier{TierStructural, TierEntity, TierContact, TierCleanup}
}

// Rules returns a copy of the rules declared for a tier
func (rs *RuleSet) Rules(tier Tier) []Rule {
	compiled := rs.tiers[tier]
	out := make([]Rule, len(compiled))
	for i, c := range compiled {
		out[i] = c.Rule
	}
	return out
}

// Len returns the number of regex rules in the table
func (rs *RuleSet) Len() int {
	n := 0
	for _, c := range rs.tiers {
		n += len(c)
	}
	return n
}

// Apply runs every rule of a tier over text, in table order
func (rs *RuleSet) Apply(tier Tier, text string) (string, []Hit) {
	var hits []Hit
	for _, rule := range rs.tiers[tier] {
		var n int
		text, n = rule.apply(text)
		if n > 0 {
			hits = append(hits, Hit{Rule: rule.ID, Tier: tier, Placeholder: rule.Placeholder, Count: n})
		}
	}
	return text, hits
}

// Detect reports what Apply would change without rewriting anything
// beyond each rule's own view of the text.
func (rs *RuleSet) Detect(tier Tier, text string) []Hit {
	var hits []Hit
	for _, rule := range rs.tiers[tier] {
		if _, n := rule.apply(text); n > 0 {
			hits = append(hits, Hit{Rule: rule.ID, Tier: tier, Placeholder: rule.Placeholder, Count: n})
		}
	}
	return hits
}

// apply runs the rule, protecting tokens unless the rule opts in
func (r *compiledRule) apply(text string) (string, int) {
	if r.Tokens {
		return r.replaceAll(text)
	}

	total := 0
	out := ReplaceOutsideTokens(text, func(segment string) string {
		replaced, n := r.replaceAll(segment)
		total += n
		return replaced
	})
	return out, total
}

// replaceAll substitutes every leftmost non-overlapping match, honoring
// the NotAfter, NotBefore and SkipLeadingToken guards.
func (r *compiledRule) replaceAll(s string) (string, int) {
	matches := r.re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, 0
	}

	var b strings.Builder
	last, n := 0, 0
	for _, m := range matches {
		if m[0] > 0 && r.NotAfter != "" && strings.IndexByte(r.NotAfter, s[m[0]-1]) >= 0 {
			continue
		}
		if m[1] < len(s) && r.NotBefore != "" && strings.IndexByte(r.NotBefore, s[m[1]]) >= 0 {
			continue
		}
		if r.SkipLeadingToken {
			if loc := tokenPattern.FindStringIndex(s[m[0]:m[1]]); loc != nil && loc[0] == 0 {
				continue
			}
		}

		var replacement string
		if r.Template != "" {
			replacement = string(r.re.ExpandString(nil, r.Template, s, m))
		} else {
			replacement = string(r.Placeholder)
		}
		if replacement == s[m[0]:m[1]] {
			continue
		}

		if n == 0 {
			b.Grow(len(s))
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(replacement)
		last = m[1]
		n++
	}
	if n == 0 {
		return s, 0
	}
	b.WriteString(s[last:])
	return b.String(), n
}
