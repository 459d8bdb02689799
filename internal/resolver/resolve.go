package resolver

import (
	"fmt"

	"github.com/stratapm/strata/internal/pmerrors"
)

// UnsatError is returned when a resolution request has no satisfying
// assignment. Explanation is the human-readable chain described in §4.5:
// "package X @v requires Y in R1; package Z @u requires Y in R2;
// R1 ∩ R2 = ∅".
type UnsatError struct {
	Explanation string
}

func (e *UnsatError) Error() string { return e.Explanation }

// Resolve selects at most one version per package reachable from requests
// such that every selected release's runtime dependencies (or, when
// buildClosure is true, the runtime closure of its build dependencies)
// are satisfied, preferring newer versions, and returns a topological
// install order for the result.
//
// Resolve is deterministic: identical src contents and identical requests
// always produce identical output, including the UNSAT explanation.
func Resolve(src Source, requests []Request, buildClosure bool) (*Plan, error) {
	p, clauses, err := buildProblem(src, requests, buildClosure)
	if nc, ok := err.(*noCandidatesError); ok {
		return nil, pmerrors.Wrap(pmerrors.DomainResolver, pmerrors.CodeUnsat,
			explainNoCandidates(nc), &UnsatError{Explanation: explainNoCandidates(nc)})
	}
	if err != nil {
		return nil, err
	}

	s := newSolver(int32(len(p.candidates)), p.order)
	for _, cl := range clauses {
		s.addClause(cl)
	}

	sat, _ := s.solve()
	if !sat {
		explanation := explainConflict(p)
		return nil, pmerrors.Wrap(pmerrors.DomainResolver, pmerrors.CodeUnsat, explanation,
			&UnsatError{Explanation: explanation})
	}

	var selections []Selection
	graph := make(dependencyGraph)
	selectedVer := make(map[string]candidate)

	for _, cand := range p.candidates {
		if s.value(newLit(cand.id, false)) == lTrue {
			selections = append(selections, Selection{Name: cand.name, Version: cand.ver, Release: cand.release})
			selectedVer[cand.name] = cand
			if _, ok := graph[cand.name]; !ok {
				graph[cand.name] = nil
			}
			for _, origin := range p.depOrigins[cand.id] {
				graph[cand.name] = append(graph[cand.name], origin.depName)
			}
		}
	}

	if cyc := detectCycle(graph); cyc != nil {
		return nil, pmerrors.New(pmerrors.DomainResolver, pmerrors.CodeCyclicBuildDeps,
			fmt.Sprintf("cyclic dependency detected: %v", cyc))
	}

	order := topoOrder(graph)
	sortSelectionsByName(selections)

	return &Plan{Selections: selections, Order: order}, nil
}

func sortSelectionsByName(sel []Selection) {
	for i := 1; i < len(sel); i++ {
		for j := i; j > 0 && sel[j-1].Name > sel[j].Name; j-- {
			sel[j-1], sel[j] = sel[j], sel[j-1]
		}
	}
}
