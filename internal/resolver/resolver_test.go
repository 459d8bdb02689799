package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratapm/strata/internal/index"
	"github.com/stratapm/strata/internal/manifest"
	"github.com/stratapm/strata/internal/version"
)

// testSource is an in-memory Source for resolver tests, avoiding a
// dependency on a real signed index document.
type testSource map[string]map[string]index.Release

func (t testSource) HasPackage(name string) bool { _, ok := t[name]; return ok }

func (t testSource) Versions(name string) []string {
	var out []string
	for v := range t[name] {
		out = append(out, v)
	}
	return out
}

func (t testSource) Release(name, ver string) (index.Release, bool) {
	rel, ok := t[name][ver]
	return rel, ok
}

func dep(t *testing.T, raw string) manifest.Dependency {
	t.Helper()
	d, err := manifest.ParseDependency(raw)
	require.NoError(t, err)
	return d
}

func spec(t *testing.T, raw string) version.Spec {
	t.Helper()
	s, err := version.ParseSpec(raw)
	require.NoError(t, err)
	return s
}

func TestResolveFreshInstall(t *testing.T) {
	src := testSource{
		"app": {"1.0.0": index.Release{RuntimeDeps: []manifest.Dependency{dep(t, "lib>=1.0.0")}}},
		"lib": {
			"1.0.0": index.Release{},
			"1.1.0": index.Release{},
		},
	}

	plan, err := Resolve(src, []Request{{Name: "app", Spec: spec(t, ">=1.0.0")}}, false)
	require.NoError(t, err)
	require.Len(t, plan.Selections, 2)

	versions := map[string]string{}
	for _, s := range plan.Selections {
		versions[s.Name] = s.Version.String()
	}
	assert.Equal(t, "1.0.0", versions["app"])
	assert.Equal(t, "1.1.0", versions["lib"], "resolver must prefer the newest satisfying candidate")

	assert.Equal(t, []string{"lib", "app"}, plan.Order, "lib has no deps and must install before app")
}

func TestResolveDetectsConflict(t *testing.T) {
	src := testSource{
		"a": {"1.0.0": index.Release{RuntimeDeps: []manifest.Dependency{dep(t, "c==1.0.0")}}},
		"b": {"1.0.0": index.Release{RuntimeDeps: []manifest.Dependency{dep(t, "c==2.0.0")}}},
		"c": {
			"1.0.0": index.Release{},
			"2.0.0": index.Release{},
		},
	}

	_, err := Resolve(src, []Request{
		{Name: "a", Spec: spec(t, ">=1.0.0")},
		{Name: "b", Spec: spec(t, ">=1.0.0")},
	}, false)
	require.Error(t, err)
	var unsat *UnsatError
	require.ErrorAs(t, err, &unsat)
	assert.Contains(t, unsat.Explanation, "c")
}

func TestResolveNoSatisfyingVersion(t *testing.T) {
	src := testSource{
		"app": {"1.0.0": index.Release{}},
	}
	_, err := Resolve(src, []Request{{Name: "app", Spec: spec(t, ">=2.0.0")}}, false)
	require.Error(t, err)
	var unsat *UnsatError
	require.ErrorAs(t, err, &unsat)
}

func TestResolveUnknownPackage(t *testing.T) {
	src := testSource{}
	_, err := Resolve(src, []Request{{Name: "ghost", Spec: spec(t, ">=1.0.0")}}, false)
	require.Error(t, err)
}

func TestResolveSharedDependencyDeduplicates(t *testing.T) {
	src := testSource{
		"app1": {"1.0.0": index.Release{RuntimeDeps: []manifest.Dependency{dep(t, "shared>=1.0.0")}}},
		"app2": {"1.0.0": index.Release{RuntimeDeps: []manifest.Dependency{dep(t, "shared>=1.0.0")}}},
		"shared": {
			"1.0.0": index.Release{},
		},
	}

	plan, err := Resolve(src, []Request{
		{Name: "app1", Spec: spec(t, ">=1.0.0")},
		{Name: "app2", Spec: spec(t, ">=1.0.0")},
	}, false)
	require.NoError(t, err)

	count := 0
	for _, s := range plan.Selections {
		if s.Name == "shared" {
			count++
		}
	}
	assert.Equal(t, 1, count, "shared dependency must be selected exactly once regardless of how many parents request it")
}

func TestDetectCyclicBuildDeps(t *testing.T) {
	graph := dependencyGraph{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	cyc := detectCycle(graph)
	assert.NotNil(t, cyc)
}

func TestNoFalsePositiveCycleOnDAG(t *testing.T) {
	graph := dependencyGraph{
		"a": {"b", "c"},
		"b": {"c"},
		"c": nil,
	}
	assert.Nil(t, detectCycle(graph))
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	graph := dependencyGraph{
		"app": {"lib"},
		"lib": nil,
	}
	order := topoOrder(graph)
	libIdx, appIdx := -1, -1
	for i, n := range order {
		switch n {
		case "lib":
			libIdx = i
		case "app":
			appIdx = i
		}
	}
	assert.Less(t, libIdx, appIdx)
}
