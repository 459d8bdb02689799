package resolver

import (
	"fmt"
	"sort"

	"github.com/stratapm/strata/internal/version"
)

// Conflict is one step of a human-readable UNSAT explanation chain: two
// requirements on the same package name whose specs do not intersect.
type Conflict struct {
	PackageName string
	FromA       string // e.g. "A@1" or "request"
	SpecA       string
	FromB       string
	SpecB       string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s requires %s %s; %s requires %s %s; %s ∩ %s = ∅",
		c.FromA, c.PackageName, c.SpecA, c.FromB, c.PackageName, c.SpecB, c.SpecA, c.SpecB)
}

// explainNoCandidates builds the explanation for an immediate UNSAT where
// a top-level request's own spec matched no published version.
func explainNoCandidates(err *noCandidatesError) string {
	return fmt.Sprintf("no published version of %s satisfies %s", err.name, err.spec.String())
}

// edge is one constraint on a package name: who demands it, and under
// which spec.
type edge struct {
	demander string
	spec     version.Spec
}

// explainConflict searches p's requirements and dependency origins for a
// minimal pairwise conflict on a shared package name — the direct-clash
// shape in §8's worked example ("A@1 requires C==1; B@1 requires C==2")
// — falling back to a generic summary if no single pairwise clash fully
// explains the UNSAT (e.g. a conflict only emerges from three or more
// constraints together, which a full resolution-trace explainer would
// need the solver's learned clauses to pin down precisely).
func explainConflict(p *problem) string {
	byName := make(map[string][]edge)
	for _, r := range p.topRequirements {
		byName[r.name] = append(byName[r.name], edge{demander: "request", spec: r.spec})
	}
	for _, cand := range p.candidates {
		for _, origin := range p.depOrigins[cand.id] {
			demander := fmt.Sprintf("%s@%s", origin.fromName, origin.fromVer.String())
			byName[origin.depName] = append(byName[origin.depName], edge{demander: demander, spec: origin.spec})
		}
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		edges := byName[name]
		for i := 0; i < len(edges); i++ {
			for j := i + 1; j < len(edges); j++ {
				if !edges[i].spec.Intersects(edges[j].spec) {
					c := Conflict{
						PackageName: name,
						FromA:       edges[i].demander,
						SpecA:       edges[i].spec.String(),
						FromB:       edges[j].demander,
						SpecB:       edges[j].spec.String(),
					}
					return c.String()
				}
			}
		}
	}

	return "resolution is unsatisfiable: no combination of candidate versions satisfies every requirement and dependency constraint"
}
