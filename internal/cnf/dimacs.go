// Package cnf loads a CNF formula from either plain DIMACS (optionally
// gzip-compressed) or the BCNF binary variant into a Problem, alongside
// the per-variable occurrence counts used to build the branch set.
package cnf

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rhartert/dimacs"

	"github.com/rawblock/distsat/internal/occurrence"
)

// Problem is the parsed formula: the variable count and the clause
// literals, ready to be handed to engine.Solver.AddClause and to an
// occurrence.Table.
type Problem struct {
	NumVars int
	Clauses [][]int32
}

// Load reads filename, auto-detecting gzip by the ".gz" suffix and BCNF
// by its magic header, and returns both the problem and an occurrence
// table built in the given counting mode.
func Load(filename string, mode occurrence.Mode) (*Problem, *occurrence.Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("cnf: opening %q: %w", filename, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(filename, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("cnf: %q is not valid gzip: %w", filename, err)
		}
		defer gz.Close()
		r = gz
	}

	magic := make([]byte, 4)
	peeked := 0
	if !strings.HasSuffix(filename, ".gz") {
		n, _ := io.ReadFull(f, magic)
		peeked = n
		r = io.MultiReader(strings.NewReader(string(magic[:n])), f)
	}

	if peeked == 4 && string(magic) == bcnfMagic {
		return loadBCNF(r, mode)
	}
	return loadDIMACS(r, mode)
}

func loadDIMACS(r io.Reader, mode occurrence.Mode) (*Problem, *occurrence.Table, error) {
	b := &builder{}
	if err := dimacs.ReadBuilder(r, b); err != nil {
		return nil, nil, fmt.Errorf("cnf: parsing DIMACS: %w", err)
	}
	table := occurrence.NewTable(b.problem.NumVars, mode)
	observeAll(table, b.problem.Clauses)
	return b.problem, table, nil
}

// builder adapts a Problem into the github.com/rhartert/dimacs.Builder
// interface, the same pattern rhartert-yass's parsers.LoadDIMACS uses to
// wrap its own solver.
type builder struct {
	problem *Problem
}

func (b *builder) Problem(kind string, nVars, nClauses int) error {
	if kind != "cnf" {
		return fmt.Errorf("cnf: unsupported problem type %q", kind)
	}
	b.problem = &Problem{
		NumVars: nVars,
		Clauses: make([][]int32, 0, nClauses),
	}
	return nil
}

func (b *builder) Clause(lits []int) error {
	if b.problem == nil {
		return fmt.Errorf("cnf: clause line before problem line")
	}
	clause := make([]int32, len(lits))
	for i, l := range lits {
		clause[i] = int32(l)
	}
	b.problem.Clauses = append(b.problem.Clauses, clause)
	return nil
}

func (b *builder) Comment(string) error { return nil }

func observeAll(table *occurrence.Table, clauses [][]int32) {
	for _, c := range clauses {
		for _, lit := range c {
			v := lit
			positive := v > 0
			if v < 0 {
				v = -v
			}
			table.Observe(int(v-1), positive, len(c))
		}
	}
}
