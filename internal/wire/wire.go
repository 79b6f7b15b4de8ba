// Package wire defines the fixed-layout message schema exchanged between
// the coordinator and worker processes: the tagged channel set (JOB,
// RESULT, LEARNT, MODEL) and the binary codec for each payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Tag identifies which logical channel a frame belongs to. Messages
// between a specific (sender, receiver, tag) triple are delivered FIFO;
// no ordering is assumed across tags or sources.
type Tag uint8

const (
	// JobTag carries an assumption vector, master to worker.
	JobTag Tag = iota + 1
	// ResultTag carries a Result record (possibly fragmented), worker to master.
	ResultTag
	// LearntTag carries a variable-length learnt-clause buffer, either direction.
	LearntTag
	// ModelTag carries the satisfying assignment, worker to master, SAT only.
	ModelTag
	// AbortTag is an internal control message used to realize broadcast-abort
	// over a connection-oriented transport; it has no counterpart in the
	// abstract protocol of spec §6, which assumes an out-of-band abort.
	AbortTag
)

func (t Tag) String() string {
	switch t {
	case JobTag:
		return "JOB"
	case ResultTag:
		return "RESULT"
	case LearntTag:
		return "LEARNT"
	case ModelTag:
		return "MODEL"
	case AbortTag:
		return "ABORT"
	default:
		return fmt.Sprintf("TAG(%d)", uint8(t))
	}
}

// MaxConflicts bounds the number of literals carried in a single Result
// record's conflict array; longer conflict clauses are chunked across
// multiple records with MoreMsgs set on all but the last.
const MaxConflicts = 20

// Result is the fixed-layout record a worker sends back for a completed
// (or partially reported) job. Encoding is little-endian, matching the
// endianness already mandated for BCNF input.
type Result struct {
	SATResult    bool // true on SAT, false on UNSAT
	Conflict     [MaxConflicts]int32
	ConflictSize int32
	MoreMsgs     bool
	CPUTime      float64
}

// resultWireSize is the marshaled size in bytes: 1 (bool) + 20*4 (conflict)
// + 4 (size) + 1 (bool) + 2 reserved padding bytes + 8 (float64) = 96. The
// fields before the padding are packed (Conflict starts at offset 1); the
// padding places CPUTime at offset 88, an 8-byte boundary. The layout is
// spelled out explicitly rather than relying on compiler padding rules.
const resultWireSize = 1 + 4*MaxConflicts + 4 + 1 + 8 + 2 // 2 bytes reserved/padding

// MarshalBinary encodes the Result record per the documented fixed layout.
func (r Result) MarshalBinary() ([]byte, error) {
	buf := make([]byte, resultWireSize)
	if r.SATResult {
		buf[0] = 1
	}
	off := 1
	for i := 0; i < MaxConflicts; i++ {
		binary.LittleEndian.PutUint32(buf[off:], uint32(r.Conflict[i]))
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.ConflictSize))
	off += 4
	if r.MoreMsgs {
		buf[off] = 1
	}
	off++
	off += 2 // reserved padding
	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(r.CPUTime))
	return buf, nil
}

// UnmarshalBinary decodes a Result record previously produced by MarshalBinary.
func (r *Result) UnmarshalBinary(buf []byte) error {
	if len(buf) != resultWireSize {
		return fmt.Errorf("wire: malformed Result record: got %d bytes, want %d", len(buf), resultWireSize)
	}
	r.SATResult = buf[0] != 0
	off := 1
	for i := 0; i < MaxConflicts; i++ {
		r.Conflict[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	r.ConflictSize = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	r.MoreMsgs = buf[off] != 0
	off++
	off += 2
	r.CPUTime = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
	return nil
}

// EncodeLiterals packs a variable-length slice of signed int32 literals
// (used for JOB, LEARNT and MODEL payloads) into a flat byte buffer.
func EncodeLiterals(lits []int32) []byte {
	buf := make([]byte, 4*len(lits))
	for i, l := range lits {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(l))
	}
	return buf
}

// DecodeLiterals is the inverse of EncodeLiterals.
func DecodeLiterals(buf []byte) ([]int32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("wire: literal buffer length %d not a multiple of 4", len(buf))
	}
	n := len(buf) / 4
	out := make([]int32, n)
	r := bytes.NewReader(buf)
	for i := 0; i < n; i++ {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		out[i] = int32(v)
	}
	return out, nil
}
