// Package stats collects per-run and per-worker counters — dispatched,
// pruned, conflicts, CPU time — and renders them as an XML report,
// grounded on the original implementation's Statistics class.
package stats

import (
	"encoding/xml"
	"os"
	"sync"
	"time"
)

// WorkerStats mirrors the original workerStats record: how much work a
// single worker did and how much it cost.
type WorkerStats struct {
	WorkerID     int     `xml:"id,attr"`
	SolveCalls   int     `xml:"solveCalls"`
	SentLearnts  int     `xml:"sentLearnts"`
	RecvLearnts  int     `xml:"receivedLearnts"`
	CPUTime      float64 `xml:"cpuTime"`
	JobsAssigned int     `xml:"jobsAssigned"`
}

// Report is the document written by WriteXML.
type Report struct {
	XMLName xml.Name `xml:"distsatRun"`

	Workers          int           `xml:"workers,attr"`
	BranchCount      int           `xml:"branchCount,attr"`
	Strategy         string        `xml:"strategy,attr"`
	Dispatched       int           `xml:"dispatched"`
	ErasedAssumps    int           `xml:"erasedAssumptions"`
	Conflicts        int           `xml:"conflicts"`
	WallTimeSeconds  float64       `xml:"wallTimeSeconds"`
	Result           string        `xml:"result"`
	PerWorker        []WorkerStats `xml:"worker"`
}

// Collector accumulates counters over the lifetime of one run. All
// methods are safe for concurrent use, matching the coordinator's
// single goroutine plus any background probe handling.
type Collector struct {
	mu sync.Mutex

	branchCount int
	strategy    string

	dispatched    int
	erasedAssumps int
	conflicts     int
	result        string

	perWorker map[int]*WorkerStats

	wallStart time.Time
	wallEnd   time.Time
}

// New starts a Collector for a run with the given branch count and
// strategy name (for the report header only).
func New(branchCount int, strategy string) *Collector {
	return &Collector{
		branchCount: branchCount,
		strategy:    strategy,
		perWorker:   make(map[int]*WorkerStats),
		wallStart:   time.Now(),
	}
}

func (c *Collector) worker(id int) *WorkerStats {
	w, ok := c.perWorker[id]
	if !ok {
		w = &WorkerStats{WorkerID: id}
		c.perWorker[id] = w
	}
	return w
}

// Dispatched records that one assumption vector was sent to a worker.
func (c *Collector) Dispatched(worker int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatched++
	c.worker(worker).JobsAssigned++
}

// Erased records that n assumption vectors were pruned by removeConflicts.
func (c *Collector) Erased(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.erasedAssumps += n
}

// Conflict records one UNSAT result's conflict clause.
func (c *Collector) Conflict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts++
}

// SolveFinished records one worker's completed solve() call and its
// reported CPU time.
func (c *Collector) SolveFinished(worker int, cpuTime float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.worker(worker)
	w.SolveCalls++
	w.CPUTime += cpuTime
}

// LearntsSent/LearntsReceived track batch counts per worker, per the
// original sentDB/receivedDB counters.
func (c *Collector) LearntsSent(worker int)     { c.bump(worker, func(w *WorkerStats) { w.SentLearnts++ }) }
func (c *Collector) LearntsReceived(worker int) { c.bump(worker, func(w *WorkerStats) { w.RecvLearnts++ }) }

func (c *Collector) bump(worker int, f func(*WorkerStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c.worker(worker))
}

// Finish marks the end of the run's wall-clock measurement and records
// the overall result ("SAT" or "UNSAT").
func (c *Collector) Finish(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallEnd = time.Now()
	c.result = result
}

// Report snapshots the collected counters.
func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.wallEnd
	if end.IsZero() {
		end = time.Now()
	}

	r := Report{
		Workers:         len(c.perWorker),
		BranchCount:     c.branchCount,
		Strategy:        c.strategy,
		Dispatched:      c.dispatched,
		ErasedAssumps:   c.erasedAssumps,
		Conflicts:       c.conflicts,
		WallTimeSeconds: end.Sub(c.wallStart).Seconds(),
		Result:          c.result,
	}
	for _, w := range c.perWorker {
		r.PerWorker = append(r.PerWorker, *w)
	}
	return r
}

// WriteXML renders the current report to path as indented XML.
func (c *Collector) WriteXML(path string) error {
	r := c.Report()
	data, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), data...)
	return os.WriteFile(path, data, 0o644)
}
