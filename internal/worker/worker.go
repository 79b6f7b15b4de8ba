// Package worker implements the reactive worker driver of §4.5: block
// for a JOB, probe for pending learnts, solve, and report back — a
// worker never initiates contact with another worker, only with the
// coordinator.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rawblock/distsat/internal/engine"
	"github.com/rawblock/distsat/internal/transport"
	"github.com/rawblock/distsat/internal/wire"
)

// Options mirrors the subset of config.Options the driver needs,
// independent of the CLI layer so this package doesn't import it.
type Options struct {
	ShareLearnts    bool
	RemoveLearnts   bool
	ConflictSharing bool
	LearntsMaxSize  int
	LearntsMaxCount int
}

// Driver runs one worker's solve/respond loop against a single solver
// instance and its coordinator connection.
type Driver struct {
	peer   *transport.Peer
	solver *engine.Solver
	log    *logrus.Logger
	opts   Options
}

// New builds a Driver. solver is reused across every job the driver
// receives, matching the original worker process's single long-lived
// solver object.
func New(peer *transport.Peer, solver *engine.Solver, log *logrus.Logger, opts Options) *Driver {
	if log == nil {
		log = logrus.New()
	}
	return &Driver{peer: peer, solver: solver, log: log, opts: opts}
}

// ErrAborted is returned from Run when the coordinator broadcasts an
// abort (or the connection to it ends) while this worker is between jobs
// or waiting for one.
var ErrAborted = errors.New("worker: aborted by coordinator")

// Run drives the loop until the coordinator aborts or ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-d.peer.Aborted():
			return ErrAborted
		default:
		}

		job, err := d.peer.Receive(ctx, wire.JobTag)
		if err != nil {
			select {
			case <-d.peer.Aborted():
				return ErrAborted
			default:
			}
			return err
		}
		assumptions, err := wire.DecodeLiterals(job)
		if err != nil {
			d.log.WithError(err).Warn("worker: malformed job payload")
			continue
		}
		assumptions = truncateAtSentinel(assumptions)

		if buf, ok := d.peer.Probe(wire.LearntTag); ok {
			if lits, err := wire.DecodeLiterals(buf); err == nil {
				d.solver.AddLearnts(lits)
			} else {
				d.log.WithError(err).Warn("worker: malformed learnts batch")
			}
		}

		start := time.Now()
		sat := d.solver.Solve(assumptions)
		cpuTime := time.Since(start).Seconds()

		if sat {
			if err := d.sendSAT(cpuTime); err != nil {
				return err
			}
			continue
		}
		if err := d.handleUnsat(cpuTime); err != nil {
			return err
		}
	}
}

// truncateAtSentinel discards everything from the first 0 literal
// onward — Progressive strategies pad short vectors with a trailing
// sentinel rather than allocating a shorter buffer.
func truncateAtSentinel(lits []int32) []int32 {
	for i, l := range lits {
		if l == 0 {
			return lits[:i]
		}
	}
	return lits
}

func (d *Driver) sendSAT(cpuTime float64) error {
	rec := wire.Result{SATResult: true, CPUTime: cpuTime}
	buf, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	if err := d.peer.Send(wire.ResultTag, buf); err != nil {
		return err
	}
	return d.peer.Send(wire.ModelTag, wire.EncodeLiterals(d.solver.Model()))
}

func (d *Driver) handleUnsat(cpuTime float64) error {
	if d.opts.ShareLearnts {
		if out := d.solver.GetLearnts(d.opts.LearntsMaxCount, d.opts.LearntsMaxSize); len(out) > 0 {
			if err := d.peer.Send(wire.LearntTag, wire.EncodeLiterals(out)); err != nil {
				d.log.WithError(err).Warn("worker: failed to send learnts")
			}
		}
	}
	if d.opts.RemoveLearnts {
		d.solver.DellAllLearnts()
	}

	if !d.opts.ConflictSharing {
		rec := wire.Result{SATResult: false, CPUTime: cpuTime}
		buf, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		return d.peer.Send(wire.ResultTag, buf)
	}
	return d.sendConflict(d.solver.Conflict(), cpuTime)
}

// sendConflict chunks conflict into MaxConflicts-sized Result records,
// inverting polarity per spec.md §4.5 step 6 (the solver's conflict
// clause negates the assumption literals; the report negates it back, so
// it carries the assumption literals that must NOT all hold
// simultaneously).
func (d *Driver) sendConflict(conflict []int32, cpuTime float64) error {
	if len(conflict) == 0 {
		rec := wire.Result{SATResult: false, ConflictSize: 0, MoreMsgs: false, CPUTime: cpuTime}
		buf, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		return d.peer.Send(wire.ResultTag, buf)
	}

	inverted := make([]int32, len(conflict))
	for i, l := range conflict {
		inverted[i] = -l
	}

	for off := 0; off < len(inverted); off += wire.MaxConflicts {
		end := off + wire.MaxConflicts
		if end > len(inverted) {
			end = len(inverted)
		}
		chunk := inverted[off:end]
		more := end < len(inverted)

		var rec wire.Result
		rec.SATResult = false
		rec.ConflictSize = int32(len(chunk))
		copy(rec.Conflict[:], chunk)
		rec.MoreMsgs = more
		if !more {
			rec.CPUTime = cpuTime
		}
		buf, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		if err := d.peer.Send(wire.ResultTag, buf); err != nil {
			return err
		}
	}
	return nil
}
