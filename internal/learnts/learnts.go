// Package learnts implements the deduplicating store-and-forward exchange
// of worker-contributed learnt-clause buffers (spec §4.3).
package learnts

// Exchange holds, for each worker id, the latest buffer it contributed,
// its length, and the set of peers that have already consumed it. Index 0
// is reserved for the master and is never a producer or a round-robin
// candidate.
type Exchange struct {
	numWorkers int // highest valid worker id, inclusive; ids run 1..numWorkers

	buffers   map[int][]int32
	receivers map[int]map[int]struct{}

	currentPos int // round-robin cursor, in [1, numWorkers]
}

// New builds an exchange for workers numbered 1..numWorkers.
func New(numWorkers int) *Exchange {
	return &Exchange{
		numWorkers: numWorkers,
		buffers:    make(map[int][]int32),
		receivers:  make(map[int]map[int]struct{}),
		currentPos: 1,
	}
}

// Store records that worker `from` just published a fresh batch of
// literals, replacing whatever it had previously contributed and clearing
// the set of peers that had already received it — a fresh store makes the
// batch eligible for every peer again.
func (e *Exchange) Store(from int, lits []int32) {
	buf := make([]int32, len(lits))
	copy(buf, lits)
	e.buffers[from] = buf
	delete(e.receivers, from)
}

// FetchFor finds the next slot i != toWorker with a non-empty buffer that
// toWorker has not already received, starting the search at currentPos
// and advancing modulo numWorkers (skipping index 0, the master). On
// success it marks toWorker as a receiver of that slot, advances
// currentPos past it, and returns the buffer. On a full scan with no
// match it advances currentPos by one slot and returns (nil, false).
func (e *Exchange) FetchFor(toWorker int) ([]int32, bool) {
	if e.numWorkers <= 0 {
		return nil, false
	}
	start := e.currentPos
	i := start
	for {
		if i != toWorker && len(e.buffers[i]) > 0 && !e.hasReceived(i, toWorker) {
			e.markReceived(i, toWorker)
			e.currentPos = e.advance(i)
			return e.buffers[i], true
		}
		i = e.advance(i)
		if i == start {
			break
		}
	}
	e.currentPos = e.advance(start)
	return nil, false
}

func (e *Exchange) advance(i int) int {
	i++
	if i > e.numWorkers {
		i = 1
	}
	return i
}

func (e *Exchange) hasReceived(producer, receiver int) bool {
	set, ok := e.receivers[producer]
	if !ok {
		return false
	}
	_, ok = set[receiver]
	return ok
}

func (e *Exchange) markReceived(producer, receiver int) {
	set, ok := e.receivers[producer]
	if !ok {
		set = make(map[int]struct{})
		e.receivers[producer] = set
	}
	set[receiver] = struct{}{}
}
