package rules

import (
	"fmt"
	"regexp"
)

// Tier groups rules that run together; tiers run in ascending order
type Tier int

const (
	TierStructural Tier = iota + 1
	TierEntity
	TierContact
	TierCleanup
)

var tierNames = map[Tier]string{
	TierStructural: "structural",
	TierEntity:     "entity",
	TierContact:    "contact",
	TierCleanup:    "cleanup",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Rule is one pattern → placeholder substitution as declared in the rule table
type Rule struct {
	ID          string      `toml:"id" json:"id"`
	Description string      `toml:"description" json:"description,omitempty"`
	Pattern     string      `toml:"pattern" json:"pattern"`
	Placeholder Placeholder `toml:"placeholder" json:"placeholder,omitempty"`
	Template    string      `toml:"template" json:"template,omitempty"`
	IgnoreCase  bool        `toml:"ignore_case" json:"ignore_case,omitempty"`

	// Tokens lets the rule see placeholder tokens. Only cleanup rules set it.
	Tokens bool `toml:"tokens" json:"tokens,omitempty"`

	// NotAfter lists bytes that must not directly precede a match.
	NotAfter string `toml:"not_after" json:"not_after,omitempty"`

	// NotBefore lists bytes that must not directly follow a match.
	NotBefore string `toml:"not_before" json:"not_before,omitempty"`

	// SkipLeadingToken leaves matches that begin with a placeholder token alone.
	SkipLeadingToken bool `toml:"skip_leading_token" json:"skip_leading_token,omitempty"`
}

// Hit counts the substitutions one rule made
type Hit struct {
	Rule        string      `json:"rule"`
	Tier        Tier        `json:"-"`
	Placeholder Placeholder `json:"placeholder,omitempty"`
	Count       int         `json:"count"`
}

// compiledRule pairs a rule with its compiled pattern
type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// ruleFile is the on-disk layout of a rule table
type ruleFile struct {
	Version    string `toml:"version"`
	Structural []Rule `toml:"structural"`
	Contact    []Rule `toml:"contact"`
	Cleanup    []Rule `toml:"cleanup"`
}
