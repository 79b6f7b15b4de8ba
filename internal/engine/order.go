package engine

import "github.com/rhartert/yagh"

// varOrder maintains an activity-ordered heap of unassigned variables,
// grounded on rhartert/yass's VSIDS-style decision ordering
// (internal/sat/ordering.go): a binary heap keyed by negated activity so
// Pop always returns the currently most active variable.
type varOrder struct {
	order    *yagh.IntMap[float64]
	scores   []float64
	scoreInc float64
	decay    float64
}

func newVarOrder(nVars int, decay float64) *varOrder {
	vo := &varOrder{
		order:    yagh.New[float64](nVars),
		scores:   make([]float64, nVars),
		scoreInc: 1,
		decay:    decay,
	}
	for v := 0; v < nVars; v++ {
		vo.order.Put(v, 0)
	}
	return vo
}

// rebuild repopulates the heap with every variable, used at the start of
// each Solve call since Pop drains entries as decisions are made.
func (vo *varOrder) rebuild() {
	for v, s := range vo.scores {
		vo.order.Put(v, -s)
	}
}

// bump increases the activity of v, rescaling all activities if any of
// them grows too large to keep the magnitudes well-behaved.
func (vo *varOrder) bump(v int) {
	vo.scores[v] += vo.scoreInc
	if vo.order.Contains(v) {
		vo.order.Put(v, -vo.scores[v])
	}
	if vo.scores[v] > 1e100 {
		for i, s := range vo.scores {
			vo.scores[i] = s * 1e-100
			if vo.order.Contains(i) {
				vo.order.Put(i, -vo.scores[i])
			}
		}
		vo.scoreInc *= 1e-100
	}
}

func (vo *varOrder) decayActivity() {
	vo.scoreInc /= vo.decay
}

// restore reinserts v into the heap after backtracking unassigns it, so
// it is eligible to be picked again.
func (vo *varOrder) restore(v int) {
	vo.order.Put(v, -vo.scores[v])
}

// next pops the highest-activity variable that is still unassigned.
func (vo *varOrder) next(assign []int8) (int, bool) {
	for {
		item, ok := vo.order.Pop()
		if !ok {
			return 0, false
		}
		if assign[item.Elem] == 0 {
			return item.Elem, true
		}
	}
}
