package coordinator

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/distsat/internal/assume"
	"github.com/rawblock/distsat/internal/stats"
	"github.com/rawblock/distsat/internal/transport"
	"github.com/rawblock/distsat/internal/wire"
)

func newTestCoordinator(t *testing.T, gen *assume.Generator, numWorkers int, opts Options) (*Coordinator, *httptest.Server) {
	t.Helper()
	hub := transport.NewHub(nil)
	srv := httptest.NewServer(hub.Router("/link"))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { hub.Close() })

	opts.NumWorkers = numWorkers
	c := New(hub, gen, stats.New(gen.GetLimit(), "test"), nil, opts)
	return c, srv
}

func dialWorker(t *testing.T, srv *httptest.Server, id int) *transport.Peer {
	t.Helper()
	addr := "ws" + strings.TrimPrefix(srv.URL, "http") + "/link"
	p, err := transport.Dial(addr, id)
	if err != nil {
		t.Fatalf("dialing worker %d: %v", id, err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func sendUnsat(t *testing.T, p *transport.Peer) {
	t.Helper()
	rec := wire.Result{SATResult: false, CPUTime: 0.1}
	buf, err := rec.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Send(wire.ResultTag, buf); err != nil {
		t.Fatal(err)
	}
}

func waitForConnections(t *testing.T, hub interface{ Connected() int }, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Connected() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for worker connections")
}

// Two workers, Sequential n=1 (2 vectors), both report UNSAT -> overall UNSAT.
func TestRunAllUnsatTerminatesUNSAT(t *testing.T) {
	branch := []assume.BranchVar{{ID: 0, PolarityMax: true}}
	gen := assume.New(assume.Sequential, branch, nil)

	c, srv := newTestCoordinator(t, gen, 2, Options{})
	hub := c.hub
	p1 := dialWorker(t, srv, 1)
	p2 := dialWorker(t, srv, 2)
	waitForConnections(t, hub, 2)

	done := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := c.Run(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		done <- r
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p1.Receive(ctx, wire.JobTag); err != nil {
		t.Fatal(err)
	}
	if _, err := p2.Receive(ctx, wire.JobTag); err != nil {
		t.Fatal(err)
	}
	sendUnsat(t, p1)
	sendUnsat(t, p2)

	select {
	case r := <-done:
		if r.SAT {
			t.Fatal("expected UNSAT")
		}
	case err := <-errCh:
		t.Fatal(err)
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not terminate")
	}
}

// One worker reports SAT; the coordinator must read the model and abort
// the other outstanding worker.
func TestRunSATAbortsOthers(t *testing.T) {
	branch := []assume.BranchVar{{ID: 0, PolarityMax: true}, {ID: 1, PolarityMax: true}}
	gen := assume.New(assume.Sequential, branch, nil)

	c, srv := newTestCoordinator(t, gen, 2, Options{})
	hub := c.hub
	p1 := dialWorker(t, srv, 1)
	p2 := dialWorker(t, srv, 2)
	waitForConnections(t, hub, 2)

	done := make(chan Result, 1)
	go func() {
		r, _ := c.Run(context.Background())
		done <- r
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p1.Receive(ctx, wire.JobTag); err != nil {
		t.Fatal(err)
	}
	if _, err := p2.Receive(ctx, wire.JobTag); err != nil {
		t.Fatal(err)
	}

	rec := wire.Result{SATResult: true, CPUTime: 0.2}
	buf, _ := rec.MarshalBinary()
	if err := p1.Send(wire.ResultTag, buf); err != nil {
		t.Fatal(err)
	}
	if err := p1.Send(wire.ModelTag, wire.EncodeLiterals([]int32{1, -2})); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-done:
		if !r.SAT {
			t.Fatal("expected SAT")
		}
		if len(r.Model) != 2 || r.Model[0] != 1 || r.Model[1] != -2 {
			t.Fatalf("unexpected model %v", r.Model)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not terminate")
	}

	select {
	case <-p2.Aborted():
	case <-time.After(time.Second):
		t.Fatal("worker 2 was not aborted")
	}
}

// A fragmented conflict from one worker, interleaved on the wire with a
// plain result from another worker, must not lose the interleaved
// result: receiveResult's source-specific continuation read has to skip
// over (not discard) a frame belonging to a different worker.
func TestRunReassemblesFragmentsInterleavedWithAnotherWorker(t *testing.T) {
	branch := []assume.BranchVar{{ID: 0, PolarityMax: true}}
	gen := assume.New(assume.Sequential, branch, nil)

	c, srv := newTestCoordinator(t, gen, 2, Options{})
	hub := c.hub
	p1 := dialWorker(t, srv, 1)
	p2 := dialWorker(t, srv, 2)
	waitForConnections(t, hub, 2)

	done := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := c.Run(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		done <- r
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p1.Receive(ctx, wire.JobTag); err != nil {
		t.Fatal(err)
	}
	if _, err := p2.Receive(ctx, wire.JobTag); err != nil {
		t.Fatal(err)
	}

	// Worker 1's conflict spans two Result records (first chunk MoreMsgs).
	first := wire.Result{SATResult: false, MoreMsgs: true}
	first.ConflictSize = wire.MaxConflicts
	for i := int32(0); i < wire.MaxConflicts; i++ {
		first.Conflict[i] = i + 1
	}
	buf, err := first.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if err := p1.Send(wire.ResultTag, buf); err != nil {
		t.Fatal(err)
	}

	// Worker 2's unrelated, complete result lands on the wire before
	// worker 1's continuation.
	sendUnsat(t, p2)

	last := wire.Result{SATResult: false, MoreMsgs: false, CPUTime: 0.3}
	last.ConflictSize = 5
	for i := int32(0); i < 5; i++ {
		last.Conflict[i] = 100 + i
	}
	buf, err = last.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if err := p1.Send(wire.ResultTag, buf); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-done:
		if r.SAT {
			t.Fatal("expected UNSAT")
		}
	case err := <-errCh:
		t.Fatal(err)
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator hung: worker 2's interleaved result was likely dropped")
	}
}
