package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDefault(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := Default()
	require.NoError(t, err)
	return rs
}

func ruleIDs(rules []Rule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func TestDefaultRuleOrder(t *testing.T) {
	rs := mustDefault(t)

	assert.Equal(t, []Tier{TierStructural, TierEntity, TierContact, TierCleanup}, rs.Tiers())
	assert.NotEmpty(t, rs.Version())

	structural := ruleIDs(rs.Rules(TierStructural))
	require.NotEmpty(t, structural)
	assert.Equal(t, "saint-place", structural[0])
	assert.Equal(t, "street-type", structural[len(structural)-1], "bare street rule must run last")
	assert.Less(t, indexOf(structural, "street-named"), indexOf(structural, "street-type"))
	assert.Less(t, indexOf(structural, "barrier-shelter"), indexOf(structural, "shelter"))

	contact := ruleIDs(rs.Rules(TierContact))
	assert.Equal(t, "phone-international", contact[0])
	assert.Less(t, indexOf(contact, "url-domain"), indexOf(contact, "email"))

	assert.Empty(t, rs.Rules(TierEntity), "entity tier is driven by the recognizer")
	assert.Equal(t, len(structural)+len(contact)+len(rs.Rules(TierCleanup)), rs.Len())
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestStructuralTier(t *testing.T) {
	rs := mustDefault(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"qualified street", "123 Main Street, Springfield", "123 [STREET], Springfield"},
		{"ordinal street", "shelter line on Fifth Avenue", "shelter line on [STREET]"},
		{"compass street", "camp near West Road", "camp near [STREET]"},
		{"saint county", "moved to St. Joseph County last year", "moved to [LOCATION] last year"},
		{"longest shelter phrase", "the Low Barrier Homeless Shelter opened", "the [INSTITUTION] opened"},
		{"case insensitive", "the homeless shelter and city hall", "the [INSTITUTION] and [INSTITUTION]"},
		{"existing token untouched", "[STREET] street", "[STREET] [STREET]"},
		{"no match", "people need housing", "people need housing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := rs.Apply(TierStructural, tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContactTier(t *testing.T) {
	rs := mustDefault(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"phones", "Call (574) 555-0123 or +1 574-555-0123", "Call [PHONE] or [PHONE]"},
		{"email", "email jane.doe@example.org today", "email [EMAIL] today"},
		{"email with tld-like local part", "write bob.info@shelter.org", "write [EMAIL]"},
		{"url with scheme", "visit https://example.org/path?q=1 now", "visit [URL] now"},
		{"bare domain", "see example.com for details", "see [URL] for details"},
		{"not a domain", "the community.center sign", "the community.center sign"},
		{"ip", "server 10.0.0.1 down", "server [IP] down"},
		{"zip", "zip 46601", "zip [ZIP]"},
		{"numeric date", "on 12/25/2020 we met", "on [DATE] we met"},
		{"month date", "since January 5, 2021", "since [DATE]"},
		{"url remnant", "[URL]/search?q=homeless", "[URL]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := rs.Apply(TierContact, tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanupTier(t *testing.T) {
	rs := mustDefault(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"location repeat", "South [LOCATION][LOCATION] today", "South [LOCATION] today"},
		{"url repeat", "[URL][URL][URL]", "[URL]"},
		{"url path", "[URL]/a/b c", "[URL] c"},
		{"url swallows inner tokens", "see [URL][PHONE] today", "see [URL] today"},
		{"url swallows token and path", "[URL][DATE]/news and [URL][ZIP][IP]", "[URL] and [URL]"},
		{"separate tokens kept", "[URL] [PHONE]", "[URL] [PHONE]"},
		{"location path", "[LOCATION]/foo bar", "[LOCATION] bar"},
		{"markdown link", "[read more](http) please", "read more please"},
		{"token label kept", "[PERSON](he) said", "[PERSON](he) said"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := rs.Apply(TierCleanup, tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyIsStable(t *testing.T) {
	rs := mustDefault(t)
	inputs := []string{
		"Meet me at 123 Main Street near the Bus Station",
		"Call 574-555-0123, email a@b.org, visit www.example.org/x",
		"[URL]/search?q=homeless and [LOCATION][LOCATION]",
		"St. Mary Parish police department at 10.1.1.1",
	}

	for _, tier := range rs.Tiers() {
		for _, in := range inputs {
			once, _ := rs.Apply(tier, in)
			twice, hits := rs.Apply(tier, once)
			assert.Equal(t, once, twice, "tier %s, input %q", tier, in)
			assert.Empty(t, hits)
		}
	}
}

func TestHits(t *testing.T) {
	rs := mustDefault(t)

	_, hits := rs.Apply(TierStructural, "Main Street and Oak Street")
	require.Len(t, hits, 2)
	assert.Equal(t, Hit{Rule: "street-named", Tier: TierStructural, Placeholder: Street, Count: 1}, hits[0])
	assert.Equal(t, Hit{Rule: "street-type", Tier: TierStructural, Placeholder: Street, Count: 1}, hits[1])

	_, hits = rs.Apply(TierContact, "555-123-4567 and 555-765-4321")
	require.Len(t, hits, 1)
	assert.Equal(t, "phone-grouped", hits[0].Rule)
	assert.Equal(t, 2, hits[0].Count)

	// Detect lets every rule see the untouched input
	detected := rs.Detect(TierContact, "555-123-4567")
	require.Len(t, detected, 2)
	assert.Equal(t, []string{"phone-grouped", "phone-plain"}, []string{detected[0].Rule, detected[1].Rule})

	_, hits = rs.Apply(TierContact, "[URL]")
	assert.Empty(t, hits, "a no-op replacement is not a hit")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"duplicate id", `
[[structural]]
id = "a"
pattern = 'x'
placeholder = "[STREET]"
[[contact]]
id = "a"
pattern = 'y'
placeholder = "[ZIP]"
`},
		{"unknown placeholder", `
[[contact]]
id = "a"
pattern = 'x'
placeholder = "[SSN]"
`},
		{"placeholder and template", `
[[cleanup]]
id = "a"
pattern = 'x'
placeholder = "[URL]"
template = "$1"
`},
		{"missing id", `
[[contact]]
pattern = 'x'
placeholder = "[URL]"
`},
		{"invalid regex", `
[[contact]]
id = "a"
pattern = '(x'
placeholder = "[URL]"
`},
		{"tokens on structural", `
[[structural]]
id = "a"
pattern = 'x'
placeholder = "[URL]"
tokens = true
`},
		{"unknown key", `
[[contact]]
id = "a"
pattern = 'x'
placeholder = "[URL]"
priority = 3
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadAndFingerprint(t *testing.T) {
	data := `
version = "test"

[[contact]]
id = "zip"
pattern = '\b\d{5}\b'
placeholder = "[ZIP]"
`
	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	rs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", rs.Version())

	again, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, rs.Fingerprint(), again.Fingerprint())
	assert.NotEqual(t, mustDefault(t).Fingerprint(), rs.Fingerprint())

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestPlaceholders(t *testing.T) {
	all := Placeholders()
	assert.Len(t, all, 12)
	assert.NotContains(t, all, Redacted)

	p, err := ParsePlaceholder("person")
	require.NoError(t, err)
	assert.Equal(t, Person, p)
	assert.Equal(t, "PERSON", p.Name())

	_, err = ParsePlaceholder("[SSN]")
	assert.Error(t, err)

	assert.True(t, ContainsToken("x [REDACTED] y"))
	assert.False(t, ContainsToken("[person]"))
}

func TestReplaceOutsideTokens(t *testing.T) {
	var seen []string
	out := ReplaceOutsideTokens("a [PERSON] b[ZIP]", func(s string) string {
		seen = append(seen, s)
		return "<" + s + ">"
	})
	assert.Equal(t, "<a >[PERSON]< b>[ZIP]", out)
	assert.Equal(t, []string{"a ", " b"}, seen)

	segments := SplitOutsideTokens("[URL] hi [DATE]!")
	require.Len(t, segments, 2)
	assert.Equal(t, Segment{Text: " hi ", Start: 5}, segments[0])
	assert.Equal(t, 9, segments[0].End())
	assert.Equal(t, "!", segments[1].Text)
}
