// Package coordinator implements the master loop: prime workers with an
// initial job each, pump results until the generator's limit is
// reached or a worker reports SAT, draining learnts and applying
// conflict pruning along the way.
package coordinator

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/rawblock/distsat/internal/assume"
	"github.com/rawblock/distsat/internal/learnts"
	"github.com/rawblock/distsat/internal/stats"
	"github.com/rawblock/distsat/internal/transport"
	"github.com/rawblock/distsat/internal/wire"
)

var (
	dispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distsat_coordinator_jobs_dispatched_total",
		Help: "Assumption vectors dispatched to workers.",
	})
	prunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distsat_coordinator_assumptions_pruned_total",
		Help: "Assumption vectors removed by conflict pruning.",
	})
)

// Options configures one coordinator run, independent of config.Options
// so this package doesn't need to import the CLI/config layer.
type Options struct {
	NumWorkers      int
	ConflictPruning bool
	ShareLearnts    bool
	LearntsMaxSize  int
	LearntsMaxCount int
}

// Coordinator runs the master side of one solve against a fixed set of
// connected workers.
type Coordinator struct {
	hub   *transport.Hub
	gen   *assume.Generator
	ex    *learnts.Exchange
	stats *stats.Collector
	log   *logrus.Logger
	opts  Options
}

// New builds a Coordinator. gen and its branch set must already be
// constructed from the parsed formula's occurrence table.
func New(hub *transport.Hub, gen *assume.Generator, collector *stats.Collector, log *logrus.Logger, opts Options) *Coordinator {
	if log == nil {
		log = logrus.New()
	}
	return &Coordinator{
		hub:   hub,
		gen:   gen,
		ex:    learnts.New(opts.NumWorkers),
		stats: collector,
		log:   log,
		opts:  opts,
	}
}

// Result is what Run reports back to the caller: whether the formula is
// satisfiable and, if so, its model.
type Result struct {
	SAT   bool
	Model []int32
}

// Run drives the master loop to completion: prime, pump, terminate.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	outstanding := make(map[int]bool, c.opts.NumWorkers)
	for w := 1; w <= c.opts.NumWorkers && c.gen.HasMore(); w++ {
		if err := c.dispatch(w); err != nil {
			return Result{}, fmt.Errorf("coordinator: priming worker %d: %w", w, err)
		}
		outstanding[w] = true
	}

	received := 0
	for received < c.gen.GetLimit() {
		if len(outstanding) == 0 {
			// No job is in flight, so no result can arrive. Pruning only
			// removes undispatched vectors, so once every dispatched job
			// is answered received already equals the limit; this is
			// reached only when no worker was primed (NumWorkers == 0).
			break
		}

		from, conflict, record, err := c.receiveResult(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("coordinator: receiving result: %w", err)
		}

		if record.SATResult {
			model, err := c.receiveModel(ctx, from)
			if err != nil {
				return Result{}, fmt.Errorf("coordinator: receiving model from worker %d: %w", from, err)
			}
			c.abortOthers(from, outstanding)
			c.stats.Finish("SAT")
			return Result{SAT: true, Model: model}, nil
		}

		received++
		delete(outstanding, from)
		c.stats.SolveFinished(from, record.CPUTime)
		if len(conflict) > 0 {
			c.stats.Conflict()
		}

		c.drainLearnts()

		if c.opts.ConflictPruning && len(conflict) > 0 {
			erased := c.gen.RemoveConflicts(conflict)
			if erased > 0 {
				c.stats.Erased(erased)
				prunedTotal.Add(float64(erased))
				c.log.WithFields(logrus.Fields{"erased": erased, "from": from}).Debug("coordinator: pruned assumptions")
			}
		}

		if c.gen.HasMore() {
			if c.opts.ShareLearnts {
				if batch, ok := c.ex.FetchFor(from); ok {
					if err := c.hub.Send(from, wire.LearntTag, wire.EncodeLiterals(batch)); err != nil {
						c.log.WithError(err).WithField("worker", from).Warn("coordinator: failed to forward learnts")
					} else {
						c.stats.LearntsSent(from)
					}
				}
			}
			if err := c.dispatch(from); err != nil {
				return Result{}, fmt.Errorf("coordinator: dispatching to worker %d: %w", from, err)
			}
			outstanding[from] = true
		}
	}

	c.stats.Finish("UNSAT")
	return Result{SAT: false}, nil
}

func (c *Coordinator) dispatch(worker int) error {
	vec := c.gen.Next()
	if err := c.hub.Send(worker, wire.JobTag, wire.EncodeLiterals(vec)); err != nil {
		return err
	}
	dispatchedTotal.Inc()
	c.stats.Dispatched(worker)
	return nil
}

// receiveResult blocks for a worker's RESULT, reassembling conflict
// fragments across a moreMsgs streak per spec.md §4.4/§6.
func (c *Coordinator) receiveResult(ctx context.Context) (int, []int32, wire.Result, error) {
	from, payload, err := c.hub.ReceiveAny(ctx, wire.ResultTag)
	if err != nil {
		return 0, nil, wire.Result{}, err
	}
	var rec wire.Result
	if err := rec.UnmarshalBinary(payload); err != nil {
		return 0, nil, wire.Result{}, err
	}

	var conflict []int32
	conflict = append(conflict, rec.Conflict[:rec.ConflictSize]...)
	for rec.MoreMsgs {
		payload, err := c.hub.Receive(ctx, from, wire.ResultTag)
		if err != nil {
			return 0, nil, wire.Result{}, err
		}
		if err := rec.UnmarshalBinary(payload); err != nil {
			return 0, nil, wire.Result{}, err
		}
		conflict = append(conflict, rec.Conflict[:rec.ConflictSize]...)
	}
	return from, conflict, rec, nil
}

func (c *Coordinator) receiveModel(ctx context.Context, from int) ([]int32, error) {
	payload, err := c.hub.Receive(ctx, from, wire.ModelTag)
	if err != nil {
		return nil, err
	}
	return wire.DecodeLiterals(payload)
}

// drainLearnts performs the "non-blocking probe for pending LEARNTS
// messages from any worker" step, storing every pending batch before
// moving on.
func (c *Coordinator) drainLearnts() {
	for {
		from, payload, ok := c.hub.ProbeAny(wire.LearntTag)
		if !ok {
			return
		}
		lits, err := wire.DecodeLiterals(payload)
		if err != nil {
			c.log.WithError(err).WithField("worker", from).Warn("coordinator: malformed learnts batch")
			continue
		}
		c.ex.Store(from, lits)
		c.stats.LearntsReceived(from)
	}
}

func (c *Coordinator) abortOthers(winner int, outstanding map[int]bool) {
	for w := range outstanding {
		if w == winner {
			continue
		}
		if err := c.hub.Send(w, wire.AbortTag, nil); err != nil {
			c.log.WithError(err).WithField("worker", w).Warn("coordinator: failed to abort worker")
		}
	}
}
