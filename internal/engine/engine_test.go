package engine

import "testing"

func TestLitPackingRoundTrip(t *testing.T) {
	for _, signed := range []int32{1, -1, 5, -5, 128, -128} {
		l := FromSigned(signed)
		if got := l.ToSigned(); got != signed {
			t.Fatalf("FromSigned(%d).ToSigned() = %d", signed, got)
		}
	}
}

func modelHas(model []int32, lit int32) bool {
	for _, l := range model {
		if l == lit {
			return true
		}
	}
	return false
}

// (x1 v x2) is satisfiable with no assumptions; the model must satisfy
// the clause and assign every variable.
func TestSolveSatisfiableNoAssumptions(t *testing.T) {
	s := NewSolver(2)
	if err := s.AddClause([]int32{1, 2}); err != nil {
		t.Fatal(err)
	}
	if !s.Solve(nil) {
		t.Fatal("expected SAT")
	}
	model := s.Model()
	if len(model) != 2 {
		t.Fatalf("expected a full model, got %v", model)
	}
	if !modelHas(model, 1) && !modelHas(model, 2) {
		t.Fatalf("model %v does not satisfy (x1 v x2)", model)
	}
}

// Requires backtracking: (x1 v x2) and (-x1 v x2) and (x1 v -x2) force
// x1=true, x2=true, which a pure first-decision-wins engine without
// flip-on-conflict would not necessarily reach.
func TestSolveRequiresBacktracking(t *testing.T) {
	s := NewSolver(2)
	clauses := [][]int32{{1, 2}, {-1, 2}, {1, -2}}
	for _, c := range clauses {
		if err := s.AddClause(c); err != nil {
			t.Fatal(err)
		}
	}
	if !s.Solve(nil) {
		t.Fatal("expected SAT")
	}
	model := s.Model()
	if !modelHas(model, 1) || !modelHas(model, 2) {
		t.Fatalf("expected x1=true, x2=true, got %v", model)
	}
}

// A formula with a unit clause on each polarity of the same variable is
// unconditionally UNSAT.
func TestSolveUnsatisfiable(t *testing.T) {
	s := NewSolver(1)
	if err := s.AddClause([]int32{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddClause([]int32{-1}); err != nil {
		t.Fatal(err)
	}
	if s.Solve(nil) {
		t.Fatal("expected UNSAT")
	}
}

// A contradictory assumption vector must report UNSAT with a conflict
// clause equal to the negation of the whole assumption vector.
func TestSolveAssumptionConflict(t *testing.T) {
	s := NewSolver(2)
	if err := s.AddClause([]int32{1, 2}); err != nil {
		t.Fatal(err)
	}
	assumptions := []int32{-1, -2}
	if s.Solve(assumptions) {
		t.Fatal("expected UNSAT under assumptions contradicting the only clause")
	}
	got := s.Conflict()
	want := []int32{1, 2}
	if len(got) != len(want) {
		t.Fatalf("conflict = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("conflict = %v, want %v", got, want)
		}
	}
}

// AddLearnts/GetLearnts/DellAllLearnts round trip, and an ingested
// learnt unit clause participates in propagation.
func TestLearntsRoundTripAndPropagation(t *testing.T) {
	s := NewSolver(3)
	if err := s.AddClause([]int32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	s.AddLearnts([]int32{-2, 0, -3, 0})
	out := s.GetLearnts(10, 10)
	if len(out) == 0 {
		t.Fatal("expected exported learnt clauses after AddLearnts")
	}

	// The learnt units -2 and -3 leave x1 as the only way to satisfy
	// (x1 v x2 v x3), so propagation alone must set x1 true.
	if !s.Solve(nil) {
		t.Fatal("expected SAT")
	}
	if model := s.Model(); !modelHas(model, 1) || !modelHas(model, -2) || !modelHas(model, -3) {
		t.Fatalf("expected learnt units to force x1=true, x2=false, x3=false, got %v", model)
	}

	s.DellAllLearnts()
	if out := s.GetLearnts(10, 10); len(out) != 0 {
		t.Fatalf("expected no learnt clauses after DellAllLearnts, got %v", out)
	}
}

// A solver's own UNSAT derivation is itself recorded as a learnt clause,
// making it available for LearntsExchange redistribution.
func TestUnsatDerivationIsLearnt(t *testing.T) {
	s := NewSolver(1)
	if err := s.AddClause([]int32{1}); err != nil {
		t.Fatal(err)
	}
	if s.Solve([]int32{-1}) {
		t.Fatal("expected UNSAT")
	}
	if len(s.GetLearnts(10, 10)) == 0 {
		t.Fatal("expected the UNSAT derivation to be recorded as a learnt clause")
	}
}

// Two contradictory unit clauses are a trivial, decision-free
// contradiction that Simplify must catch without any assumptions.
func TestSimplifyDetectsTrivialContradiction(t *testing.T) {
	s := NewSolver(1)
	if err := s.AddClause([]int32{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddClause([]int32{-1}); err != nil {
		t.Fatal(err)
	}
	if s.Simplify() {
		t.Fatal("expected Simplify to detect the trivial contradiction")
	}
}

// A formula with no unit clauses at all is not flagged by Simplify, even
// though it is not a satisfiability proof either.
func TestSimplifyPassesNonTrivialFormula(t *testing.T) {
	s := NewSolver(2)
	if err := s.AddClause([]int32{1, 2}); err != nil {
		t.Fatal(err)
	}
	if !s.Simplify() {
		t.Fatal("expected Simplify to find no trivial contradiction")
	}
}

func TestAddClauseRejectsZeroLiteralAndOutOfRangeVar(t *testing.T) {
	s := NewSolver(2)
	if err := s.AddClause([]int32{1, 0}); err == nil {
		t.Fatal("expected error for literal 0")
	}
	if err := s.AddClause([]int32{3}); err == nil {
		t.Fatal("expected error for undeclared variable")
	}
}
