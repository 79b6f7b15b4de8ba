package cnf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rawblock/distsat/internal/occurrence"
)

const (
	bcnfMagic       = "BCNF"
	bcnfByteOrder   = uint32(0x01020304)
	bcnfHeaderBytes = 16 // magic(4) + byte-order(4) + nVars(4) + nClauses(4)

	// chunkLimit bounds how many 32-bit records a single clause-length
	// chunk may contain before the file is rejected as malformed; a
	// chunk over the limit is a fatal load error.
	chunkLimit = 1 << 20
)

// loadBCNF parses the little-endian BCNF binary format: a 16-byte
// header (magic, byte-order marker, var count, clause count) followed
// by one chunk per clause — a record count, then that many signed
// int32 literals.
func loadBCNF(r io.Reader, mode occurrence.Mode) (*Problem, *occurrence.Table, error) {
	header := make([]byte, bcnfHeaderBytes)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, fmt.Errorf("cnf: BCNF header: %w", err)
	}
	if string(header[:4]) != bcnfMagic {
		return nil, nil, fmt.Errorf("cnf: not a BCNF file (bad magic)")
	}
	if order := binary.LittleEndian.Uint32(header[4:8]); order != bcnfByteOrder {
		return nil, nil, fmt.Errorf("cnf: BCNF byte-order marker mismatch: got %#x", order)
	}
	nVars := int(binary.LittleEndian.Uint32(header[8:12]))
	nClauses := int(binary.LittleEndian.Uint32(header[12:16]))

	problem := &Problem{NumVars: nVars, Clauses: make([][]int32, 0, nClauses)}
	table := occurrence.NewTable(nVars, mode)

	for i := 0; i < nClauses; i++ {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, nil, fmt.Errorf("cnf: BCNF clause %d length: %w", i, err)
		}
		if int(count) > chunkLimit {
			return nil, nil, fmt.Errorf("cnf: BCNF clause %d exceeds chunk limit (%d > %d)", i, count, chunkLimit)
		}
		clause := make([]int32, count)
		if err := binary.Read(r, binary.LittleEndian, &clause); err != nil {
			return nil, nil, fmt.Errorf("cnf: BCNF clause %d literals: %w", i, err)
		}
		problem.Clauses = append(problem.Clauses, clause)
		for _, lit := range clause {
			v := lit
			positive := v > 0
			if v < 0 {
				v = -v
			}
			table.Observe(int(v-1), positive, len(clause))
		}
	}

	return problem, table, nil
}

// EncodeBCNF writes p in the BCNF binary format, the inverse of
// loadBCNF — used by tests and by any offline tooling that converts a
// DIMACS file to the compact wire format once up front.
func EncodeBCNF(w io.Writer, p *Problem) error {
	header := make([]byte, bcnfHeaderBytes)
	copy(header[:4], bcnfMagic)
	binary.LittleEndian.PutUint32(header[4:8], bcnfByteOrder)
	binary.LittleEndian.PutUint32(header[8:12], uint32(p.NumVars))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(p.Clauses)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("cnf: writing BCNF header: %w", err)
	}
	for _, clause := range p.Clauses {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(clause))); err != nil {
			return fmt.Errorf("cnf: writing BCNF clause length: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, clause); err != nil {
			return fmt.Errorf("cnf: writing BCNF clause literals: %w", err)
		}
	}
	return nil
}
