// Package config assembles the flat Options record that drives a run:
// CLI flags parsed with spf13/cobra and spf13/pflag, optionally merged
// over a KEY=VALUE config file, with the automatic n/strategy sizing
// and degenerate-configuration switches spec.md describes.
package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rawblock/distsat/internal/assume"
	"github.com/rawblock/distsat/internal/occurrence"
)

// Strategy letters accepted by -m, matching spec.md §6.
const (
	StrategyLocal      = "l"
	StrategyRandom     = "r"
	StrategySequential = "s"
	StrategyFewFirst   = "f"
	StrategyMoreFirst  = "m"
)

// Options is the flat configuration record threaded through the
// coordinator and worker: everything the CLI, config file and automatic
// sizing rules resolve before a run starts.
type Options struct {
	InputPath  string
	OutputPath string

	Verbose bool

	BranchCount int    // -n; 0 means "not user-supplied, derive it"
	Strategy    string // -m; "" means "not user-supplied, derive it"
	Selection   string // -s: "o" (occurrences) or "b" (bigger-clauses)

	ConflictPruning bool // -c
	ShareLearnts    bool // -l
	LearntsMaxSize  int  // -z
	LearntsMaxCount int  // -t
	RemoveLearnts   bool // -r

	AssumpsCPURatio int // -a, default 3

	ConfigPath      string // -f
	WriteConfigPath string // -g

	CPUs int // worker pool size, not a flag: derived from runtime.NumCPU
}

// Default values mirror the original implementation's Main.C constants.
const (
	defaultLearntsMaxSize  = 20
	defaultLearntsMaxCount = 50
	defaultAssumpsRatio    = 3
)

// Defaults returns an Options populated with the same constants the
// original solver's Main.C hard-codes, before CLI/config overrides.
func Defaults() Options {
	return Options{
		Selection:       "o",
		LearntsMaxSize:  defaultLearntsMaxSize,
		LearntsMaxCount: defaultLearntsMaxCount,
		AssumpsCPURatio: defaultAssumpsRatio,
	}
}

// NewRootCommand builds the cobra command that parses spec.md §6's CLI
// surface into opts, calling run once flags (and, if -f was given, the
// config file) are fully resolved. With -g it writes the default config
// file and returns without calling run.
func NewRootCommand(run func(Options) error) *cobra.Command {
	opts := Defaults()

	cmd := &cobra.Command{
		Use:          "distsat input-file [output-file]",
		Short:        "distributed portfolio SAT solver",
		SilenceUsage: true,
		Args:         cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.InputPath = args[0]
			if len(args) == 2 {
				opts.OutputPath = args[1]
			}

			if opts.WriteConfigPath != "" {
				return WriteDefault(opts.WriteConfigPath)
			}
			if opts.ConfigPath != "" {
				fileOpts, err := ReadFile(opts.ConfigPath)
				if err != nil {
					return fmt.Errorf("config: %w", err)
				}
				opts = Merge(fileOpts, opts, cmd.Flags())
			}
			if err := Validate(&opts); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return run(opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	flags.IntVarP(&opts.BranchCount, "branch-count", "n", 0, "branch-variable count (0: derive automatically)")
	flags.StringVarP(&opts.Strategy, "strategy", "m", "", "strategy: l=local r=random s=sequential f=few-first m=more-first")
	flags.StringVarP(&opts.Selection, "selection", "s", opts.Selection, "variable selection: o=occurrences b=bigger-clauses")
	flags.BoolVarP(&opts.ConflictPruning, "conflict-pruning", "c", false, "enable conflict pruning")
	flags.BoolVarP(&opts.ShareLearnts, "share-learnts", "l", false, "enable learnt-clause sharing")
	flags.IntVarP(&opts.LearntsMaxSize, "learnts-max-size", "z", opts.LearntsMaxSize, "max literals in a shared learnt clause")
	flags.IntVarP(&opts.LearntsMaxCount, "learnts-max-count", "t", opts.LearntsMaxCount, "max learnt clauses per shared batch")
	flags.BoolVarP(&opts.RemoveLearnts, "remove-learnts", "r", false, "discard all learnts after every solve")
	flags.IntVarP(&opts.AssumpsCPURatio, "assumps-ratio", "a", opts.AssumpsCPURatio, "assumptions-per-worker ratio")
	flags.StringVarP(&opts.ConfigPath, "config", "f", "", "read config file")
	flags.StringVarP(&opts.WriteConfigPath, "write-config", "g", "", "write default config file and exit")

	return cmd
}

// Validate checks usage-level constraints that should fail fast with
// exit code 2 rather than surface later as a protocol violation.
func Validate(o *Options) error {
	switch o.Strategy {
	case "", StrategyLocal, StrategyRandom, StrategySequential, StrategyFewFirst, StrategyMoreFirst:
	default:
		return fmt.Errorf("unknown strategy %q", o.Strategy)
	}
	switch o.Selection {
	case "o", "b":
	default:
		return fmt.Errorf("unknown selection mode %q", o.Selection)
	}
	if o.AssumpsCPURatio <= 0 {
		return fmt.Errorf("assumps-ratio must be positive, got %d", o.AssumpsCPURatio)
	}
	return nil
}

// SelectionMode translates the -s flag letter into an occurrence.Mode.
func SelectionMode(o Options) occurrence.Mode {
	if o.Selection == "b" {
		return occurrence.BiggerClauses
	}
	return occurrence.MoreOccurrences
}

// AssumeStrategy translates the -m flag letter into an assume.Strategy.
// It panics if o.Strategy is "local" or unresolved — callers must run
// ResolveAutomatic first.
func AssumeStrategy(o Options) assume.Strategy {
	switch o.Strategy {
	case StrategyRandom:
		return assume.Random
	case StrategySequential:
		return assume.Sequential
	case StrategyFewFirst:
		return assume.FewFirst
	case StrategyMoreFirst:
		return assume.MoreFirst
	default:
		panic(fmt.Sprintf("config: AssumeStrategy called with unresolved strategy %q", o.Strategy))
	}
}

// ResolveDegenerate applies spec.md §7's degenerate-configuration
// switches: single-CPU runs always go local; a local strategy chosen
// with more than one CPU is not allowed to waste the extra workers, so
// it is switched to random. Returns whether a switch happened and, if
// so, a human-readable reason to log.
func ResolveDegenerate(o *Options, cpus int) (switched bool, reason string) {
	o.CPUs = cpus
	if cpus == 1 && o.Strategy != StrategyLocal {
		o.Strategy = StrategyLocal
		return true, "single CPU available: forcing local strategy"
	}
	if cpus > 1 && o.Strategy == StrategyLocal {
		o.Strategy = StrategyRandom
		return true, "local strategy requested with multiple CPUs available: switching to random"
	}
	return false, ""
}

// ResolveAutomatic fills in BranchCount and Strategy when the user left
// either or both unset, per spec.md §4.1's sizing formulas. cpus must
// already reflect any degenerate-configuration switch.
func ResolveAutomatic(o *Options, cpus int) {
	if o.Strategy == StrategyLocal {
		// Local mode solves directly with no branch split; n is moot.
		return
	}
	workers := cpus - 1
	if workers < 1 {
		workers = 1
	}
	ratio := float64(o.AssumpsCPURatio * workers)

	equalN := func() int { return int(math.Ceil(math.Log2(ratio))) }
	progressiveN := func() int { return int(math.Ceil(ratio / 2)) }

	switch {
	case o.Strategy != "" && o.BranchCount != 0:
		// both user-supplied: nothing to derive
	case o.Strategy != "" && o.BranchCount == 0:
		if isProgressive(o.Strategy) {
			o.BranchCount = progressiveN()
		} else {
			o.BranchCount = equalN()
		}
	case o.Strategy == "" && o.BranchCount != 0:
		if (1 << uint(o.BranchCount)) <= int(ratio) {
			o.Strategy = StrategyRandom
		} else {
			o.Strategy = StrategyMoreFirst
		}
	default:
		o.Strategy = StrategyRandom
		o.BranchCount = equalN()
	}
	if o.BranchCount < 1 {
		o.BranchCount = 1
	}
}

func isProgressive(strategy string) bool {
	return strategy == StrategyFewFirst || strategy == StrategyMoreFirst
}

// ReadFile parses a KEY=VALUE config file, `#`-prefixed comments and
// blank lines ignored, into an Options. Unknown keys are reported as
// errors rather than silently ignored, matching the usage-error
// taxonomy in spec.md §7.
func ReadFile(path string) (Options, error) {
	o := Defaults()
	f, err := os.Open(path)
	if err != nil {
		return o, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return o, fmt.Errorf("malformed line %q", line)
		}
		if err := applyKey(&o, key, value); err != nil {
			return o, err
		}
	}
	if err := sc.Err(); err != nil {
		return o, err
	}
	return o, nil
}

func applyKey(o *Options, key, value string) error {
	switch key {
	case "LEARNTS_MAX_SIZE":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("LEARNTS_MAX_SIZE: %w", err)
		}
		o.LearntsMaxSize = n
	case "LEARNTS_MAX_AMOUNT":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("LEARNTS_MAX_AMOUNT: %w", err)
		}
		o.LearntsMaxCount = n
	case "SHARE_LEARNTS":
		o.ShareLearnts = value == "true"
	case "REMOVE_LEARNTS":
		o.RemoveLearnts = value == "true"
	case "CONFLICTS":
		o.ConflictPruning = value == "true"
	case "ASSUMPS_CPU_RATIO":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("ASSUMPS_CPU_RATIO: %w", err)
		}
		o.AssumpsCPURatio = n
	case "VARIABLE_SELECTION":
		switch value {
		case "more_occurrences":
			o.Selection = "o"
		case "bigger_clauses":
			o.Selection = "b"
		default:
			return fmt.Errorf("VARIABLE_SELECTION: unknown value %q", value)
		}
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// flagSet is the subset of *pflag.FlagSet that Merge needs — kept
// narrow so config doesn't import pflag just for this one method set.
type flagSet interface {
	Changed(name string) bool
}

// Merge layers cli over file: any flag the user actually passed on the
// command line wins; everything else falls back to the config file's
// value. file is assumed to already carry the built-in defaults for
// anything the file itself didn't set.
func Merge(file, cli Options, flags flagSet) Options {
	out := file
	if flags.Changed("verbose") {
		out.Verbose = cli.Verbose
	}
	if flags.Changed("branch-count") {
		out.BranchCount = cli.BranchCount
	}
	if flags.Changed("strategy") {
		out.Strategy = cli.Strategy
	}
	if flags.Changed("selection") {
		out.Selection = cli.Selection
	}
	if flags.Changed("conflict-pruning") {
		out.ConflictPruning = cli.ConflictPruning
	}
	if flags.Changed("share-learnts") {
		out.ShareLearnts = cli.ShareLearnts
	}
	if flags.Changed("learnts-max-size") {
		out.LearntsMaxSize = cli.LearntsMaxSize
	}
	if flags.Changed("learnts-max-count") {
		out.LearntsMaxCount = cli.LearntsMaxCount
	}
	if flags.Changed("remove-learnts") {
		out.RemoveLearnts = cli.RemoveLearnts
	}
	if flags.Changed("assumps-ratio") {
		out.AssumpsCPURatio = cli.AssumpsCPURatio
	}
	out.InputPath = cli.InputPath
	out.OutputPath = cli.OutputPath
	return out
}

// WriteDefault writes the built-in defaults to path in the KEY=VALUE
// format ReadFile understands, for `-g`.
func WriteDefault(path string) error {
	d := Defaults()
	var b strings.Builder
	fmt.Fprintf(&b, "# distsat default configuration\n")
	fmt.Fprintf(&b, "LEARNTS_MAX_SIZE=%d\n", d.LearntsMaxSize)
	fmt.Fprintf(&b, "LEARNTS_MAX_AMOUNT=%d\n", d.LearntsMaxCount)
	fmt.Fprintf(&b, "SHARE_LEARNTS=false\n")
	fmt.Fprintf(&b, "REMOVE_LEARNTS=false\n")
	fmt.Fprintf(&b, "CONFLICTS=false\n")
	fmt.Fprintf(&b, "ASSUMPS_CPU_RATIO=%d\n", d.AssumpsCPURatio)
	fmt.Fprintf(&b, "VARIABLE_SELECTION=more_occurrences\n")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
