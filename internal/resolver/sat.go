// Package resolver implements the dependency resolver: a CDCL SAT solver
// over package-version boolean variables, encoding at-most-one-version,
// top-level requirement, and dependency clauses, plus the topological
// ordering and UNSAT explanation the install pipeline and CLI need.
package resolver

import "fmt"

// Lit is a CNF literal: a positive value names a variable asserted true,
// its negation asserted false. newLit offsets every varID by one, so no
// literal has the value 0 and the zero value of Lit is never confused
// with a real literal.
type Lit int32

func newLit(v varID, negated bool) Lit {
	l := Lit(v + 1)
	if negated {
		return -l
	}
	return l
}

func (l Lit) variable() varID { return varID(abs32(int32(l))) - 1 }
func (l Lit) negated() bool   { return l < 0 }
func (l Lit) negate() Lit     { return -l }

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func (l Lit) String() string {
	if l.negated() {
		return fmt.Sprintf("-x%d", l.variable())
	}
	return fmt.Sprintf("x%d", l.variable())
}

// varID indexes into the solver's per-variable slices (assign, level,
// reason, activity).
type varID int32

// lbool is a three-valued truth value: unassigned, true, false.
type lbool int8

const (
	lUndef lbool = 0
	lTrue  lbool = 1
	lFalse lbool = -1
)

func litValue(assign []lbool, l Lit) lbool {
	v := assign[l.variable()]
	if v == lUndef {
		return lUndef
	}
	if l.negated() {
		if v == lTrue {
			return lFalse
		}
		return lTrue
	}
	return v
}

// clause is a disjunction of literals. clauses built from the problem
// encoding are permanent; clauses produced by conflict analysis are
// learned and may later be dropped by a clause-database reduction policy
// (not implemented: the instances this solver targets — dependency graphs
// of a package manager — stay small enough that unbounded learned-clause
// retention is fine).
type clause struct {
	lits    []Lit
	learned bool
}

// reason records why a variable was forced true during propagation:
// either a decision (reason == nil) or the unit clause that implied it.
type reason struct {
	cl *clause
}
