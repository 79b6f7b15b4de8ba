package engine

import "fmt"

const (
	unassigned int8 = 0
	assignedTrue int8 = 1
	assignedFalse int8 = 2
)

// Solver is a small CDCL-flavoured SAT engine. It is not the subject of
// this system — spec.md treats it as an external collaborator with a
// narrow contract — so it favors a simple, obviously-correct propagation
// and chronological-backtracking loop over watched-literal performance
// tricks or first-UIP conflict analysis.
type Solver struct {
	nVars   int
	clauses [][]Lit
	learnts [][]Lit

	order *varOrder

	assign    []int8 // per-var: unassigned / assignedTrue / assignedFalse
	trail     []Lit
	decisions []decisionFrame

	lastConflict []int32 // negated-assumption conflict clause, signed form
	lastModel    []int32
}

// decisionFrame marks one branching point on the trail: either an
// assumption (fixed, never flipped) or a free decision (tried true then
// false before the search abandons it and backs up further).
type decisionFrame struct {
	trailLen int
	lit      Lit
	free     bool
	flipped  bool
}

// NewSolver allocates a solver for exactly nVars variables (0-based
// internally, matching the DIMACS header's variable count).
func NewSolver(nVars int) *Solver {
	return &Solver{
		nVars:  nVars,
		assign: make([]int8, nVars),
		order:  newVarOrder(nVars, 0.95),
	}
}

// NumVars returns the variable count the solver was built with.
func (s *Solver) NumVars() int { return s.nVars }

// AddClause appends an original (non-learnt) clause given as signed,
// 1-based DIMACS-style literals.
func (s *Solver) AddClause(signed []int32) error {
	lits, err := s.toLits(signed)
	if err != nil {
		return err
	}
	s.clauses = append(s.clauses, lits)
	return nil
}

func (s *Solver) toLits(signed []int32) ([]Lit, error) {
	lits := make([]Lit, len(signed))
	for i, x := range signed {
		if x == 0 {
			return nil, fmt.Errorf("engine: literal 0 is not a valid clause literal")
		}
		v := x
		if v < 0 {
			v = -v
		}
		if int(v) > s.nVars {
			return nil, fmt.Errorf("engine: literal %d references undeclared variable", x)
		}
		lits[i] = FromSigned(x)
	}
	return lits, nil
}

// Simplify runs unit propagation over the clause database (the original
// clauses plus any learnts already held), with no assumptions and no
// decisions — the same lightweight contradiction
// check the original solver's simplifyDB performs before committing to the
// parallel phase. It returns false if the clause database is trivially
// contradictory (e.g. both a unit clause and its negation are present),
// true otherwise. A true result is not a satisfiability proof, only the
// absence of an immediate, decision-free conflict.
func (s *Solver) Simplify() bool {
	for i := range s.assign {
		s.assign[i] = unassigned
	}
	s.trail = s.trail[:0]
	s.decisions = s.decisions[:0]
	s.lastConflict = nil
	s.lastModel = nil
	return !s.propagate()
}

// Solve searches for a satisfying assignment under the given assumptions
// (signed, 1-based literals). Assumptions are asserted as unit facts
// before free search begins; if they are already contradictory the
// solver reports UNSAT without making any free decision.
func (s *Solver) Solve(assumptions []int32) bool {
	for i := range s.assign {
		s.assign[i] = unassigned
	}
	s.trail = s.trail[:0]
	s.decisions = s.decisions[:0]
	s.lastConflict = nil
	s.lastModel = nil
	s.order.rebuild()

	assumeLits, err := s.toLits(assumptions)
	if err != nil {
		return s.unsat(assumptions, nil)
	}

	for _, l := range assumeLits {
		if !s.pushDecision(l, false) {
			return s.unsat(assumptions, assumeLits)
		}
	}

	for {
		if s.propagate() {
			if !s.backtrack() {
				return s.unsat(assumptions, assumeLits)
			}
			continue
		}
		if s.allAssigned() {
			s.recordModel()
			return true
		}
		v, ok := s.order.next(s.assign)
		if !ok {
			s.recordModel()
			return true
		}
		if !s.pushDecision(MkLit(Var(v), false), true) {
			// v came back from order.next as unassigned, so pushDecision
			// cannot fail; this branch only guards against a corrupted
			// order/assign pairing.
			if !s.backtrack() {
				return s.unsat(assumptions, assumeLits)
			}
		}
	}
}

// unsat records the conflict clause and, when the assumption vector is
// well-formed, learns it: an UNSAT verdict under assumptions always
// makes the negation of the whole assumption vector a valid (if
// non-minimal) conflict clause, whether or not the free search below it
// was exhaustive — see DESIGN.md. That learnt clause is real content
// the coordinator can redistribute through LearntsExchange, not just an
// error signal.
func (s *Solver) unsat(assumptions []int32, assumeLits []Lit) bool {
	s.lastConflict = negateAll(assumptions)
	if len(assumeLits) > 0 {
		learnt := make([]Lit, len(assumeLits))
		for i, l := range assumeLits {
			learnt[i] = l.Negate()
		}
		s.learnts = append(s.learnts, learnt)
	}
	return false
}

func negateAll(assumptions []int32) []int32 {
	out := make([]int32, len(assumptions))
	for i, a := range assumptions {
		out[i] = -a
	}
	return out
}

// pushDecision assigns lit as a new branch and records where on the
// trail it started, so backtrack can undo exactly its consequences.
func (s *Solver) pushDecision(lit Lit, free bool) bool {
	trailLen := len(s.trail)
	if !s.enqueue(lit) {
		return false
	}
	s.decisions = append(s.decisions, decisionFrame{trailLen: trailLen, lit: lit, free: free})
	return true
}

// backtrack unwinds decision frames on conflict. Free decisions not yet
// flipped are retried with the opposite polarity; already-flipped free
// decisions and assumption decisions are unwound further. It returns
// false once every frame is exhausted, meaning the formula is UNSAT
// under the current assumptions.
func (s *Solver) backtrack() bool {
	for len(s.decisions) > 0 {
		top := s.decisions[len(s.decisions)-1]
		s.decisions = s.decisions[:len(s.decisions)-1]
		for len(s.trail) > top.trailLen {
			last := s.trail[len(s.trail)-1]
			s.trail = s.trail[:len(s.trail)-1]
			s.assign[last.Var()] = unassigned
			s.order.restore(int(last.Var()))
		}
		if top.free && !top.flipped {
			flipped := top.lit.Negate()
			if s.enqueue(flipped) {
				s.decisions = append(s.decisions, decisionFrame{trailLen: top.trailLen, lit: flipped, free: true, flipped: true})
				s.order.decayActivity()
				return true
			}
		}
	}
	return false
}

// enqueue assigns l to true, failing if the variable is already assigned
// the opposite value.
func (s *Solver) enqueue(l Lit) bool {
	v := int(l.Var())
	want := assignedTrue
	if l.Negative() {
		want = assignedFalse
	}
	switch s.assign[v] {
	case unassigned:
		s.assign[v] = want
		s.trail = append(s.trail, l)
		return true
	case want:
		return true
	default:
		return false
	}
}

func (s *Solver) litValue(l Lit) int8 {
	v := s.assign[l.Var()]
	if v == unassigned {
		return unassigned
	}
	isTrue := (v == assignedTrue) != l.Negative()
	if isTrue {
		return assignedTrue
	}
	return assignedFalse
}

// propagate runs unit propagation to a fixpoint over both clause
// databases. It returns true if a conflict (an all-false clause) was
// found.
func (s *Solver) propagate() bool {
	changed := true
	for changed {
		changed = false
		for _, db := range [][][]Lit{s.clauses, s.learnts} {
			for _, c := range db {
				sat := false
				var unassignedLit Lit
				unassignedCount := 0
				for _, l := range c {
					switch s.litValue(l) {
					case assignedTrue:
						sat = true
					case unassigned:
						unassignedCount++
						unassignedLit = l
					}
				}
				if sat {
					continue
				}
				if unassignedCount == 0 {
					for _, l := range c {
						s.order.bump(int(l.Var()))
					}
					return true
				}
				if unassignedCount == 1 {
					if s.enqueue(unassignedLit) {
						changed = true
					}
				}
			}
		}
	}
	return false
}

func (s *Solver) allAssigned() bool {
	for _, a := range s.assign {
		if a == unassigned {
			return false
		}
	}
	return true
}

func (s *Solver) recordModel() {
	model := make([]int32, 0, s.nVars)
	for v := 0; v < s.nVars; v++ {
		switch s.assign[v] {
		case assignedTrue:
			model = append(model, int32(v+1))
		case assignedFalse:
			model = append(model, -int32(v+1))
		}
	}
	s.lastModel = model
}

// Conflict returns the conflict clause from the most recent UNSAT Solve
// call, in inverted polarity with respect to the assumptions: the
// negation of every assumption literal (not a minimised subset), so
// negating it again yields the assumption literals whose conjunction
// triggered the derivation. Undefined after a SAT result.
func (s *Solver) Conflict() []int32 { return s.lastConflict }

// Model returns the satisfying assignment from the most recent SAT Solve
// call as signed literals. Undefined after an UNSAT result.
func (s *Solver) Model() []int32 { return s.lastModel }

// AddLearnts ingests a flat, 0-separated buffer of learnt clauses (as
// received from a peer over the LEARNT channel) into the local learnt
// clause database.
func (s *Solver) AddLearnts(buf []int32) {
	var cur []int32
	for _, lit := range buf {
		if lit == 0 {
			if len(cur) > 0 {
				if lits, err := s.toLits(cur); err == nil {
					s.learnts = append(s.learnts, lits)
				}
			}
			cur = nil
			continue
		}
		cur = append(cur, lit)
	}
	if len(cur) > 0 {
		if lits, err := s.toLits(cur); err == nil {
			s.learnts = append(s.learnts, lits)
		}
	}
}

// GetLearnts exports up to maxCount learnt clauses, each bounded to
// maxSize literals, as a flat buffer with 0 separators — the layout
// AddLearnts expects on the receiving end.
func (s *Solver) GetLearnts(maxCount, maxSize int) []int32 {
	var out []int32
	emitted := 0
	for _, c := range s.learnts {
		if emitted >= maxCount {
			break
		}
		if len(c) > maxSize {
			continue
		}
		for _, l := range c {
			out = append(out, l.ToSigned())
		}
		out = append(out, 0)
		emitted++
	}
	return out
}

// DellAllLearnts clears the learnt clause database, mirroring the
// original solver's dellAllLearnts.
func (s *Solver) DellAllLearnts() {
	s.learnts = nil
}
