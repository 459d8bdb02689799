package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	v, err := Parse("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v.String())
	assert.Equal(t, 3, v.Components())
}

func TestParsePartialComponents(t *testing.T) {
	v1, err := Parse("1")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Components())

	v2, err := Parse("1.2")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Components())
}

func TestParsePrerelease(t *testing.T) {
	v, err := Parse("1.2.3-rc.1")
	require.NoError(t, err)
	assert.True(t, v.IsPrerelease())
	assert.Equal(t, []string{"rc", "1"}, v.Pre)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
	_, err = Parse("a.b.c")
	assert.Error(t, err)
	_, err = Parse("1.2.3.4")
	assert.Error(t, err)
}

func TestCompareOrdering(t *testing.T) {
	cases := []struct{ a, b string }{
		{"1.0.0", "2.0.0"},
		{"1.0.0", "1.1.0"},
		{"1.0.0", "1.0.1"},
		{"1.0.0-alpha", "1.0.0"},
		{"1.0.0-alpha", "1.0.0-alpha.1"},
		{"1.0.0-alpha.1", "1.0.0-alpha.beta"},
		{"1.0.0-alpha.beta", "1.0.0-beta"},
		{"1.0.0-beta", "1.0.0-beta.2"},
		{"1.0.0-beta.2", "1.0.0-beta.11"},
		{"1.0.0-beta.11", "1.0.0-rc.1"},
		{"1.0.0-rc.1", "1.0.0"},
	}
	for _, c := range cases {
		a, err := Parse(c.a)
		require.NoError(t, err)
		b, err := Parse(c.b)
		require.NoError(t, err)
		assert.Equal(t, -1, a.Compare(b), "%s should be < %s", c.a, c.b)
		assert.Equal(t, 1, b.Compare(a), "%s should be > %s", c.b, c.a)
	}
}

func TestCompareEqual(t *testing.T) {
	a, _ := Parse("1.2.3")
	b, _ := Parse("1.2.3")
	assert.Equal(t, 0, a.Compare(b))
}

func TestBump(t *testing.T) {
	v1, _ := Parse("2")
	assert.Equal(t, "3.0.0", v1.Bump().String())

	v2, _ := Parse("2.5")
	assert.Equal(t, "2.6.0", v2.Bump().String())

	v3, _ := Parse("2.5.9")
	assert.Equal(t, "2.5.10", v3.Bump().String())
}

func TestTildeExpansionPatch(t *testing.T) {
	s, err := ParseSpec("~=1.2.3")
	require.NoError(t, err)

	match, _ := Parse("1.2.3")
	tooLow, _ := Parse("1.2.2")
	tooHigh, _ := Parse("1.2.4")
	assert.True(t, s.Matches(match))
	assert.False(t, s.Matches(tooLow))
	assert.False(t, s.Matches(tooHigh))
}

func TestTildeExpansionMinor(t *testing.T) {
	s, err := ParseSpec("~=1.2")
	require.NoError(t, err)

	inRange, _ := Parse("1.2.99")
	outOfRange, _ := Parse("1.3.0")
	assert.True(t, s.Matches(inRange))
	assert.False(t, s.Matches(outOfRange))
}

func TestTildeExpansionMajor(t *testing.T) {
	s, err := ParseSpec("~=1")
	require.NoError(t, err)

	inRange, _ := Parse("1.99.99")
	outOfRange, _ := Parse("2.0.0")
	assert.True(t, s.Matches(inRange))
	assert.False(t, s.Matches(outOfRange))
}

func TestConjunctionOfAtoms(t *testing.T) {
	s, err := ParseSpec(">=1.0.0,<2.0.0")
	require.NoError(t, err)

	assert.True(t, s.Matches(mustParse(t, "1.5.0")))
	assert.False(t, s.Matches(mustParse(t, "2.0.0")))
	assert.False(t, s.Matches(mustParse(t, "0.9.0")))
}

// TestSatisfactionTotality is the property-based invariant from the
// testable-properties section: matches(s AND t, v) iff matches(s,v) and
// matches(t,v), checked across a grid of specs and versions.
func TestSatisfactionTotality(t *testing.T) {
	specs := []string{">=1.0.0", "<2.0.0", "==1.5.0", "!=1.2.0", "~=1.1"}
	versions := []string{"0.9.0", "1.0.0", "1.2.0", "1.5.0", "1.9.9", "2.0.0", "2.1.0"}

	for _, sa := range specs {
		for _, sb := range specs {
			a, err := ParseSpec(sa)
			require.NoError(t, err)
			b, err := ParseSpec(sb)
			require.NoError(t, err)
			conj := a.And(b)

			for _, vs := range versions {
				v := mustParse(t, vs)
				got := conj.Matches(v)
				want := a.Matches(v) && b.Matches(v)
				assert.Equal(t, want, got, "spec %q AND %q at %s", sa, sb, vs)
			}
		}
	}
}

func TestPrereleaseExclusionByDefault(t *testing.T) {
	s, err := ParseSpec(">=1.0.0")
	require.NoError(t, err)
	assert.False(t, s.Matches(mustParse(t, "1.1.0-rc.1")))
	assert.True(t, s.Matches(mustParse(t, "1.1.0")))
}

func TestPrereleaseAllowedWhenNamedExplicitly(t *testing.T) {
	s, err := ParseSpec(">=1.1.0-rc.1,<1.1.0")
	require.NoError(t, err)
	assert.True(t, s.Matches(mustParse(t, "1.1.0-rc.1")))
	assert.True(t, s.Matches(mustParse(t, "1.1.0-rc.5")))
}

func TestIntersects(t *testing.T) {
	a, _ := ParseSpec("==1")
	b, _ := ParseSpec("==2")
	assert.False(t, a.Intersects(b))

	c, _ := ParseSpec(">=1.0.0")
	d, _ := ParseSpec("<2.0.0")
	assert.True(t, c.Intersects(d))
}

func mustParse(t *testing.T, s string) Version {
	t.Helper()
	v, err := Parse(s)
	require.NoError(t, err)
	return v
}
