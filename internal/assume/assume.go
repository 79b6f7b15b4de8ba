// Package assume implements the lazy stream of assumption vectors the
// coordinator dispatches to workers, under one of four enumeration
// strategies, with support for conflict-driven pruning of the remaining
// stream.
//
// The four strategies of the original C++ class hierarchy
// (AssumptionsMaker -> Equal/Progressive -> Sequential/Random/FewFirst/
// MoreFirst) collapse here into a single Generator backed by a tagged
// Strategy and two encoding helpers, encodeEqual and encodeProgressive —
// an encoding-helper split, not a type hierarchy.
package assume

import (
	"container/list"
	"math/rand"
)

// Strategy selects one of the four enumeration orders.
type Strategy int

const (
	Sequential Strategy = iota
	Random
	FewFirst
	MoreFirst
)

// BranchVar is the minimal view of an occurrence.Var the generator needs:
// a 0-based variable id and its majority polarity.
type BranchVar struct {
	ID          int
	PolarityMax bool
}

// Vector is a fixed-capacity assumption vector. A zero entry at index k
// terminates it early (Progressive strategies only); all non-zero entries
// reference distinct variables of the branch set.
type Vector []int32

// Generator produces the lazy stream of AssumptionVectors for one run.
type Generator struct {
	n       int
	pending *list.List // elements are Vector
	limit   int
}

// New builds a Generator over the given branch set under the given
// strategy. rng is used only by Random; pass a seeded *rand.Rand to get a
// reproducible sequence (tests), or one seeded from wall-clock time in
// production, per the redesign note replacing the source's process-wide
// srand(time(NULL)).
func New(strategy Strategy, branch []BranchVar, rng *rand.Rand) *Generator {
	n := len(branch)
	g := &Generator{n: n, pending: list.New()}

	switch strategy {
	case Sequential:
		g.buildSequential(branch)
	case Random:
		g.buildRandom(branch, rng)
	case FewFirst:
		g.buildProgressive(branch, true)
	case MoreFirst:
		g.buildProgressive(branch, false)
	}

	g.limit = g.pending.Len()
	return g
}

// HasMore reports whether more vectors remain in the stream.
func (g *Generator) HasMore() bool { return g.pending.Len() > 0 }

// Next returns and removes the next vector. Undefined if !HasMore().
func (g *Generator) Next() Vector {
	front := g.pending.Front()
	g.pending.Remove(front)
	return front.Value.(Vector)
}

// GetLimit returns the initial total, decremented by pruning.
func (g *Generator) GetLimit() int { return g.limit }

// RemoveConflicts deletes every remaining vector V such that every literal
// in conflicts appears in V (comparison stops at the first sentinel 0 in
// V). It returns the number of vectors erased and decrements the limit by
// that amount. Operates only on the remaining (undispatched) stream.
func (g *Generator) RemoveConflicts(conflicts []int32) int {
	erased := 0
	for e := g.pending.Front(); e != nil; {
		next := e.Next()
		v := e.Value.(Vector)
		if containsAll(v, conflicts) {
			g.pending.Remove(e)
			erased++
		}
		e = next
	}
	g.limit -= erased
	return erased
}

// containsAll reports whether every literal of conflicts appears in v,
// where v's effective length stops at its first sentinel 0 entry.
func containsAll(v Vector, conflicts []int32) bool {
	if len(conflicts) == 0 {
		return false
	}
	effLen := len(v)
	for i, l := range v {
		if l == 0 {
			effLen = i
			break
		}
	}
	for _, c := range conflicts {
		found := false
		for i := 0; i < effLen; i++ {
			if v[i] == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// encodeEqual builds an n-literal vector from a bit pattern over the
// branch set: bit j of value selects the polarity of branch[j]. Bit 0
// binds to branch[0] (least-used among the chosen set), bit n-1 to
// branch[n-1] (most-used).
func encodeEqual(value int, branch []BranchVar) Vector {
	v := make(Vector, len(branch))
	for j, bv := range branch {
		lit := int32(bv.ID + 1)
		if (value>>uint(j))&1 == 0 {
			lit = -lit
		}
		v[j] = lit
	}
	return v
}

// encodeProgressive builds a vector for count k in [1, n]: positions
// 0..k-2 use the majority polarity of their branch entry, position k-1
// uses the minority polarity, and positions k..n-1 are the sentinel 0
// when k < n.
func encodeProgressive(k int, branch []BranchVar) Vector {
	n := len(branch)
	v := make(Vector, n)
	j := 0
	for ; j < k-1; j++ {
		v[j] = majorityLit(branch[j])
	}
	if j != n {
		v[j] = minorityLit(branch[j])
		j++
		if j < n {
			v[j] = 0
		}
	}
	return v
}

func majorityLit(bv BranchVar) int32 {
	lit := int32(bv.ID + 1)
	if !bv.PolarityMax {
		lit = -lit
	}
	return lit
}

func minorityLit(bv BranchVar) int32 {
	lit := int32(bv.ID + 1)
	if bv.PolarityMax {
		lit = -lit
	}
	return lit
}

// twin returns a copy of v with only position 0 negated.
func twin(v Vector) Vector {
	t := make(Vector, len(v))
	copy(t, v)
	t[0] = -t[0]
	return t
}

func (g *Generator) buildSequential(branch []BranchVar) {
	n := len(branch)
	limit := 1 << uint(n)

	startValue := 0
	for j, bv := range branch {
		if bv.PolarityMax {
			startValue += 1 << uint(j)
		}
	}

	i := startValue
	for {
		g.pending.PushBack(encodeEqual(i, branch))
		i = (i + 1) % limit
		if i == startValue {
			break
		}
	}
}

func (g *Generator) buildRandom(branch []BranchVar, rng *rand.Rand) {
	n := len(branch)
	limit := 1 << uint(n)

	order := make([]int, limit)
	for i := range order {
		order[i] = i
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	rng.Shuffle(limit, func(i, j int) { order[i], order[j] = order[j], order[i] })

	for _, value := range order {
		g.pending.PushBack(encodeEqual(value, branch))
	}
}

func (g *Generator) buildProgressive(branch []BranchVar, fewFirst bool) {
	n := len(branch)
	ks := make([]int, n)
	if fewFirst {
		for i := 0; i < n; i++ {
			ks[i] = i + 1
		}
	} else {
		for i := 0; i < n; i++ {
			ks[i] = n - i
		}
	}
	for _, k := range ks {
		v := encodeProgressive(k, branch)
		g.pending.PushBack(v)
		g.pending.PushBack(twin(v))
	}
}
