// Package occurrence tracks per-variable polarity occurrence counts and
// builds the BranchSet the coordinator splits the search over.
package occurrence

import "sort"

// Mode selects how a clause occurrence contributes to a variable's count.
type Mode int

const (
	// MoreOccurrences ("more-occurrences" / -s o): each appearance
	// contributes 1, regardless of the clause it appears in.
	MoreOccurrences Mode = iota
	// BiggerClauses ("bigger-clauses" / -s b): each appearance
	// contributes the length of the containing clause.
	BiggerClauses
)

// Var is the per-variable tuple (var_id, positives, negatives). var_id is
// 0-based internally; the wire format adds one where literals are signed.
type Var struct {
	ID        int
	Positives int
	Negatives int
}

// Total is positives + negatives.
func (v Var) Total() int { return v.Positives + v.Negatives }

// PolarityMax is true when the positive polarity occurs at least as often
// as the negative one; ties favor positive.
func (v Var) PolarityMax() bool { return v.Positives >= v.Negatives }

// Table accumulates occurrence counts for every variable of a CNF problem.
type Table struct {
	mode Mode
	vars []Var
}

// NewTable allocates a table for nVars variables (1-based count, 0-based ids).
func NewTable(nVars int, mode Mode) *Table {
	vars := make([]Var, nVars)
	for i := range vars {
		vars[i] = Var{ID: i}
	}
	return &Table{mode: mode, vars: vars}
}

// Observe records one occurrence of the given 0-based variable with the
// given polarity, in a clause of length clauseLen literals.
func (t *Table) Observe(varID int, positive bool, clauseLen int) {
	weight := 1
	if t.mode == BiggerClauses {
		weight = clauseLen
	}
	if positive {
		t.vars[varID].Positives += weight
	} else {
		t.vars[varID].Negatives += weight
	}
}

// NumVars returns the number of variables tracked.
func (t *Table) NumVars() int { return len(t.vars) }

// Var returns the occurrence tuple for a 0-based variable id.
func (t *Table) Var(id int) Var { return t.vars[id] }

// BranchSet selects the top-n variables by Total, ascending, preserving
// sort order so index 0 is the least-used of the chosen set and index
// n-1 the most-used. Per §4.1, this is the only place BranchSet order is
// established; it is observable downstream via bit-position semantics in
// the assumption generator.
func (t *Table) BranchSet(n int) []Var {
	sorted := make([]Var, len(t.vars))
	copy(sorted, t.vars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Total() < sorted[j].Total() })
	if n > len(sorted) {
		n = len(sorted)
	}
	return append([]Var(nil), sorted[len(sorted)-n:]...)
}
