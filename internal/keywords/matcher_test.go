package keywords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherSubstring(t *testing.T) {
	m := NewDefault()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "the city council met on Tuesday", nil},
		{"prefix also counts", "Homelessness is rising", []string{"homeless", "homelessness"}},
		{"lexicon order", "a soup kitchen for unhoused neighbors", []string{"unhoused", "soup kitchen"}},
		{"case insensitive", "AFFORDABLE HOUSING now", []string{"affordable housing"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Find(tt.text))
		})
	}

	assert.Equal(t, "homeless, homelessness", m.Annotate("homelessness"))
	assert.Equal(t, "", m.Annotate("nothing"))
}

func TestMatcherWholeWord(t *testing.T) {
	m, err := New(DefaultTerms(), true)
	require.NoError(t, err)
	assert.True(t, m.WholeWord())

	assert.Equal(t, []string{"homelessness"}, m.Find("Homelessness is rising"))
	assert.Equal(t, []string{"homeless"}, m.Find("a homeless shelter"))
	assert.Empty(t, m.Find("beggars"))
}

func TestNew(t *testing.T) {
	_, err := New([]string{" ", ""}, false)
	assert.Error(t, err)

	m, err := New([]string{"Shelter", "shelter", " tent "}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Shelter", "tent"}, m.Terms())
	assert.Equal(t, "Shelter, tent", m.Annotate("tent by the shelter"))
}
