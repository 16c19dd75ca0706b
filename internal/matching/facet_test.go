package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFacetKind(t *testing.T) {
	for in, want := range map[string]FacetKind{
		"method":   FacetMethod,
		"Url":      FacetURL,
		"HEADER":   FacetHeader,
		" headers": FacetHeaders,
	} {
		got, err := ParseFacetKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFacetKind("body")
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Exact")
	require.NoError(t, err)
	assert.Equal(t, ModeExact, m)

	m, err = ParseMode("PATTERN")
	require.NoError(t, err)
	assert.Equal(t, ModePattern, m)

	_, err = ParseMode("glob")
	assert.Error(t, err)
}

func TestFacetSet(t *testing.T) {
	s := NewFacetSet(FacetMethod, FacetURL)
	assert.True(t, s.Has(FacetMethod))
	assert.True(t, s.Has(FacetURL))
	assert.False(t, s.Has(FacetHeader))
	assert.Equal(t, "method,url", s.String())

	s = s.With(FacetHeaders)
	assert.Equal(t, []FacetKind{FacetMethod, FacetURL, FacetHeaders}, s.Kinds())
	assert.Equal(t, AllFacets(), s.Union(NewFacetSet(FacetHeader)))
	assert.False(t, s.Has(FacetKind("body")))
}

func TestParseFacetSet(t *testing.T) {
	s, err := ParseFacetSet(nil)
	require.NoError(t, err)
	assert.Equal(t, AllFacets(), s)

	s, err = ParseFacetSet([]string{"url"})
	require.NoError(t, err)
	assert.Equal(t, NewFacetSet(FacetURL), s)

	_, err = ParseFacetSet([]string{"url", "cookie"})
	assert.Error(t, err)
}

func TestParseStrategySet(t *testing.T) {
	s, err := ParseStrategySet(nil)
	require.NoError(t, err)
	assert.Equal(t, AllStrategies(), s)

	s, err = ParseStrategySet([]string{"pattern"})
	require.NoError(t, err)
	assert.False(t, s.Allows(ModeExact))
	assert.True(t, s.Allows(ModePattern))
	assert.Equal(t, []string{"pattern"}, s.Names())

	_, err = ParseStrategySet([]string{"fuzzy"})
	assert.Error(t, err)
}
