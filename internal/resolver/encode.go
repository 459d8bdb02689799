package resolver

import (
	"sort"

	"github.com/stratapm/strata/internal/pmerrors"
	"github.com/stratapm/strata/internal/version"
)

// problem is the CNF encoding of a resolution request: every reachable
// candidate variable, the clauses built from it, and the provenance
// needed to explain a conflict in terms packages and specs rather than
// raw literals.
type problem struct {
	candidates []candidate        // index matches varID
	byName     map[string][]varID // name -> candidate vars, newest first
	order      []varID            // VSIDS tie-break order: name ascending, version descending

	topRequirements []requirement
	depOrigins      map[varID][]depOrigin // candidate var -> its dependency-clause provenance
}

// buildProblem discovers every package reachable from requests (via
// runtime dependencies, or the runtime-closure-of-build-deps when
// buildClosure is true) and encodes the CNF clauses from §4.5: at most
// one version per package, at least one version satisfying each top-level
// request, and each candidate's dependency implications.
func buildProblem(src Source, requests []Request, buildClosure bool) (*problem, [][]Lit, error) {
	p := &problem{
		byName:     make(map[string][]varID),
		depOrigins: make(map[varID][]depOrigin),
	}

	visited := make(map[string]bool)
	queue := make([]string, 0, len(requests))
	for _, r := range requests {
		if !visited[r.Name] {
			visited[r.Name] = true
			queue = append(queue, r.Name)
		}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if !src.HasPackage(name) {
			return nil, nil, pmerrors.New(pmerrors.DomainResolver, pmerrors.CodeUnknownPackage,
				"no package named "+name+" in index")
		}

		vers := src.Versions(name)
		parsed := make([]version.Version, 0, len(vers))
		for _, vs := range vers {
			v, err := version.Parse(vs)
			if err != nil {
				continue
			}
			parsed = append(parsed, v)
		}
		sort.Slice(parsed, func(i, j int) bool { return parsed[i].Compare(parsed[j]) > 0 })

		vars := make([]varID, 0, len(parsed))
		for _, v := range parsed {
			rel, ok := src.Release(name, v.String())
			if !ok {
				continue
			}
			id := varID(len(p.candidates))
			p.candidates = append(p.candidates, candidate{id: id, name: name, ver: v, release: rel})
			vars = append(vars, id)

			for _, dep := range depsFor(buildClosure, rel) {
				p.depOrigins[id] = append(p.depOrigins[id], depOrigin{
					fromName: name, fromVer: v, depName: dep.Name, spec: dep.Spec,
				})
				if !visited[dep.Name] {
					visited[dep.Name] = true
					queue = append(queue, dep.Name)
				}
			}
		}
		p.byName[name] = vars
		p.order = append(p.order, vars...)
	}
	// Discovery order is breadth-first; the tie-break order is by name.
	// The sort is stable, so each package keeps its newest-first run.
	sort.SliceStable(p.order, func(i, j int) bool {
		return p.candidates[p.order[i]].name < p.candidates[p.order[j]].name
	})

	names := make([]string, 0, len(p.byName))
	for n := range p.byName {
		names = append(names, n)
	}
	sort.Strings(names)

	var clauses [][]Lit

	// At-most-one per package.
	for _, n := range names {
		vars := p.byName[n]
		for i := 0; i < len(vars); i++ {
			for j := i + 1; j < len(vars); j++ {
				clauses = append(clauses, []Lit{
					newLit(vars[i], true),
					newLit(vars[j], true),
				})
			}
		}
	}

	// Top-level requirements.
	for _, r := range requests {
		var lits []Lit
		for _, v := range p.byName[r.Name] {
			cand := p.candidates[v]
			if r.Spec.Matches(cand.ver) {
				lits = append(lits, newLit(v, false))
			}
		}
		p.topRequirements = append(p.topRequirements, requirement{name: r.Name, spec: r.Spec})
		if len(lits) == 0 {
			return nil, nil, &noCandidatesError{name: r.Name, spec: r.Spec}
		}
		clauses = append(clauses, lits)
	}

	// Dependency implications.
	for _, cand := range p.candidates {
		for _, dep := range p.depOrigins[cand.id] {
			lits := []Lit{newLit(cand.id, true)}
			for _, v := range p.byName[dep.depName] {
				other := p.candidates[v]
				if dep.spec.Matches(other.ver) {
					lits = append(lits, newLit(v, false))
				}
			}
			clauses = append(clauses, lits)
		}
	}

	return p, clauses, nil
}
