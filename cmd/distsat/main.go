package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rawblock/distsat/internal/assume"
	"github.com/rawblock/distsat/internal/cnf"
	"github.com/rawblock/distsat/internal/config"
	"github.com/rawblock/distsat/internal/coordinator"
	"github.com/rawblock/distsat/internal/engine"
	"github.com/rawblock/distsat/internal/runstore"
	"github.com/rawblock/distsat/internal/stats"
	"github.com/rawblock/distsat/internal/transport"
	"github.com/rawblock/distsat/internal/worker"
)

// exit codes per spec.md §6.
const (
	exitSAT       = 10
	exitUNSAT     = 20
	exitInterrupt = 1
	exitUsage     = 2
)

// netOptions carries the two ambient flags the network transport needs
// beyond spec.md's literal CLI surface: a bare local-process model has
// no address to offer, so distsat picks a coordinator role by default
// and a worker role when --join is given.
type netOptions struct {
	Listen   string
	Join     string
	WorkerID int
}

func main() {
	var net netOptions

	cmd := config.NewRootCommand(func(opts config.Options) error {
		return run(opts, net)
	})
	flags := cmd.Flags()
	flags.StringVar(&net.Listen, "listen", ":7469", "coordinator: address to accept worker connections on")
	flags.StringVar(&net.Join, "join", "", "worker: coordinator link URL to dial, e.g. ws://host:7469/distsat/v1/link (enables worker mode)")
	flags.IntVar(&net.WorkerID, "worker-id", 0, "worker: this process's peer id (required with --join)")

	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "distsat: interrupted")
			os.Exit(exitInterrupt)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
}

// startServer runs handler on addr in the background, returning the
// *http.Server so the caller can shut it down when the run completes.
func startServer(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.StandardLogger().WithError(err).Error("distsat: coordinator server stopped")
		}
	}()
	return srv
}

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

func run(opts config.Options, net netOptions) error {
	log := newLogger(opts.Verbose)

	ctx, cancel := signalContext()
	defer cancel()

	if net.Join != "" {
		err := runWorker(ctx, opts, net, log)
		if err != nil && (errors.Is(err, worker.ErrAborted) || ctx.Err() != nil) {
			return nil
		}
		return err
	}
	return runCoordinator(ctx, opts, net, log)
}

// signalContext returns a context cancelled on SIGINT/SIGHUP, matching
// spec.md §7's "runtime: SIGINT/SIGHUP -> broadcast abort, exit 1".
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP)
	return ctx, stop
}

func runWorker(ctx context.Context, opts config.Options, net netOptions, log *logrus.Logger) error {
	if net.WorkerID <= 0 {
		return fmt.Errorf("worker mode requires --worker-id > 0")
	}

	problem, _, err := cnf.Load(opts.InputPath, config.SelectionMode(opts))
	if err != nil {
		return err
	}
	solver := engine.NewSolver(problem.NumVars)
	for _, c := range problem.Clauses {
		if err := solver.AddClause(c); err != nil {
			return fmt.Errorf("distsat: loading clause database: %w", err)
		}
	}

	peer, err := transport.Dial(net.Join, net.WorkerID)
	if err != nil {
		return fmt.Errorf("distsat: joining coordinator at %q: %w", net.Join, err)
	}
	defer peer.Close()

	d := worker.New(peer, solver, log, worker.Options{
		ShareLearnts:    opts.ShareLearnts,
		RemoveLearnts:   opts.RemoveLearnts,
		ConflictSharing: opts.ConflictPruning,
		LearntsMaxSize:  opts.LearntsMaxSize,
		LearntsMaxCount: opts.LearntsMaxCount,
	})
	log.WithFields(logrus.Fields{"id": net.WorkerID, "coordinator": net.Join}).Info("distsat: worker connected, awaiting jobs")
	return d.Run(ctx)
}

func runCoordinator(ctx context.Context, opts config.Options, net netOptions, log *logrus.Logger) error {
	runID := uuid.New()
	log.WithField("run", runID.String()).Info("distsat: starting coordinator run")

	problem, table, err := cnf.Load(opts.InputPath, config.SelectionMode(opts))
	if err != nil {
		return err
	}

	local := engine.NewSolver(problem.NumVars)
	for _, c := range problem.Clauses {
		if err := local.AddClause(c); err != nil {
			return fmt.Errorf("distsat: loading clause database: %w", err)
		}
	}

	if !local.Simplify() {
		log.Info("distsat: trivially unsat at parse")
		return finish(opts, false, nil, exitUNSAT, nil)
	}

	cpus := opts.CPUs
	if cpus == 0 {
		cpus = runtime.NumCPU()
	}
	if switched, reason := config.ResolveDegenerate(&opts, cpus); switched {
		log.Warn("distsat: " + reason)
	}
	config.ResolveAutomatic(&opts, opts.CPUs)

	start := time.Now()

	if opts.Strategy == config.StrategyLocal {
		sat := local.Solve(nil)
		var model []int32
		if sat {
			model = local.Model()
		}
		report := stats.New(1, "local")
		report.Finish(resultName(sat))
		code := exitUNSAT
		if sat {
			code = exitSAT
		}
		persist(ctx, log, runID, opts, problem, report, 0, 0, time.Since(start))
		return finish(opts, sat, model, code, report)
	}

	branch := table.BranchSet(opts.BranchCount)
	branchVars := make([]assume.BranchVar, len(branch))
	for i, v := range branch {
		branchVars[i] = assume.BranchVar{ID: v.ID, PolarityMax: v.PolarityMax()}
	}
	gen := assume.New(config.AssumeStrategy(opts), branchVars, rand.New(rand.NewSource(time.Now().UnixNano())))

	numWorkers := opts.CPUs - 1
	if numWorkers < 1 {
		numWorkers = 1
	}

	hub := transport.NewHub(log)
	defer hub.Close()
	router := hub.Router("/distsat/v1/link")
	srv := startServer(net.Listen, router)
	defer srv.Close()

	if err := waitForWorkers(ctx, hub, numWorkers); err != nil {
		return err
	}

	report := stats.New(opts.BranchCount, opts.Strategy)
	coord := coordinator.New(hub, gen, report, log, coordinator.Options{
		NumWorkers:      numWorkers,
		ConflictPruning: opts.ConflictPruning,
		ShareLearnts:    opts.ShareLearnts,
		LearntsMaxSize:  opts.LearntsMaxSize,
		LearntsMaxCount: opts.LearntsMaxCount,
	})

	go func() {
		<-ctx.Done()
		_ = hub.BroadcastAbort()
	}()

	result, err := coord.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	code := exitUNSAT
	if result.SAT {
		code = exitSAT
	}
	persist(ctx, log, runID, opts, problem, report, numWorkers, report.Report().Dispatched, time.Since(start))
	return finish(opts, result.SAT, result.Model, code, report)
}

func resultName(sat bool) string {
	if sat {
		return "SAT"
	}
	return "UNSAT"
}

// waitForWorkers blocks until numWorkers have connected to the hub or
// ctx is cancelled.
func waitForWorkers(ctx context.Context, hub *transport.Hub, numWorkers int) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for hub.Connected() < numWorkers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func persist(ctx context.Context, log *logrus.Logger, runID uuid.UUID, opts config.Options, problem *cnf.Problem, report *stats.Collector, workers, dispatched int, wall time.Duration) {
	store, err := runstore.ConnectFromEnv(ctx)
	if err != nil {
		log.WithError(err).Warn("distsat: run persistence unavailable")
		return
	}
	if store == nil {
		return
	}
	defer store.Close()

	r := report.Report()
	_, err = store.Save(ctx, runstore.Summary{
		InputPath:   opts.InputPath,
		NumVars:     problem.NumVars,
		NumClauses:  len(problem.Clauses),
		Strategy:    opts.Strategy,
		BranchCount: opts.BranchCount,
		Result:      r.Result,
		Workers:     workers,
		Dispatched:  dispatched,
		Erased:      r.ErasedAssumps,
		WallSeconds: wall.Seconds(),
	})
	if err != nil {
		log.WithError(err).Warn("distsat: failed to persist run summary")
	}
}

// finish writes the model file and, when report is non-nil, the stats XML
// report, then returns an error wrapping the process's intended exit
// code for main to surface.
func finish(opts config.Options, sat bool, model []int32, code int, report *stats.Collector) error {
	if err := writeOutput(opts.OutputPath, sat, model); err != nil {
		return err
	}
	if report != nil {
		statsPath := strings.TrimSuffix(opts.OutputPath, ".txt") + ".stats.xml"
		if opts.OutputPath == "" {
			statsPath = "distsat.stats.xml"
		}
		if err := report.WriteXML(statsPath); err != nil {
			return err
		}
	}
	return &exitError{code: code}
}

// writeOutput renders the "SAT\n <literals> 0\n" / "UNSAT\n" output file
// per spec.md §6, to opts.OutputPath or stdout if it is empty.
func writeOutput(path string, sat bool, model []int32) error {
	var b strings.Builder
	if sat {
		b.WriteString("SAT\n")
		for _, l := range model {
			fmt.Fprintf(&b, " %d", l)
		}
		b.WriteString(" 0\n")
	} else {
		b.WriteString("UNSAT\n")
	}

	if path == "" {
		_, err := fmt.Print(b.String())
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// exitError lets run/runWorker/runCoordinator report the exact exit code
// spec.md §6 mandates through the normal error-return plumbing that
// cmd.Execute expects, instead of calling os.Exit deep in the call stack.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("distsat: exiting with code %d", e.code) }
