package cnf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rawblock/distsat/internal/occurrence"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPlainDIMACS(t *testing.T) {
	path := writeTemp(t, "f.cnf", "c a comment\np cnf 3 2\n1 2 0\n-2 3 0\n")
	problem, table, err := Load(path, occurrence.MoreOccurrences)
	if err != nil {
		t.Fatal(err)
	}
	if problem.NumVars != 3 {
		t.Fatalf("NumVars = %d, want 3", problem.NumVars)
	}
	if len(problem.Clauses) != 2 {
		t.Fatalf("len(Clauses) = %d, want 2", len(problem.Clauses))
	}
	if table.NumVars() != 3 {
		t.Fatalf("table.NumVars() = %d, want 3", table.NumVars())
	}
	// var 2 (id 1) appears once positive (clause 1) and once negative
	// (clause 2), total 2.
	if got := table.Var(1).Total(); got != 2 {
		t.Fatalf("var 2 total = %d, want 2", got)
	}
}

func TestBCNFRoundTrip(t *testing.T) {
	problem := &Problem{
		NumVars: 3,
		Clauses: [][]int32{{1, 2, 3}, {-1, -2}},
	}
	var buf bytes.Buffer
	if err := EncodeBCNF(&buf, problem); err != nil {
		t.Fatal(err)
	}

	path := writeTemp(t, "f.bcnf", "")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	got, table, err := Load(path, occurrence.BiggerClauses)
	if err != nil {
		t.Fatal(err)
	}
	if got.NumVars != problem.NumVars || len(got.Clauses) != len(problem.Clauses) {
		t.Fatalf("got %+v, want %+v", got, problem)
	}
	for i := range problem.Clauses {
		if len(got.Clauses[i]) != len(problem.Clauses[i]) {
			t.Fatalf("clause %d: got %v, want %v", i, got.Clauses[i], problem.Clauses[i])
		}
		for j := range problem.Clauses[i] {
			if got.Clauses[i][j] != problem.Clauses[i][j] {
				t.Fatalf("clause %d: got %v, want %v", i, got.Clauses[i], problem.Clauses[i])
			}
		}
	}
	if table.NumVars() != 3 {
		t.Fatalf("table.NumVars() = %d, want 3", table.NumVars())
	}
}

func TestLoadBCNFRejectsChunkOverLimit(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(bcnfMagic)
	writeUint32(&buf, bcnfByteOrder)
	writeUint32(&buf, 1)
	writeUint32(&buf, 1)
	writeUint32(&buf, chunkLimit+1)

	path := writeTemp(t, "bad.bcnf", "")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path, occurrence.MoreOccurrences); err == nil {
		t.Fatal("expected an error for a chunk exceeding the limit")
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	b := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	buf.Write(b)
}
