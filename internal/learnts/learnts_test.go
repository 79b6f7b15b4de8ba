package learnts

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// S6 — Learnts round-robin: three workers W1..W3, batches stored in order
// W1,W2,W3. fetchFor(W1) returns W2's; fetchFor(W1) again returns W3's; a
// third call returns nil. After W2 re-stores, fetchFor(W1) returns W2's
// new batch.
func TestRoundRobinFetch(t *testing.T) {
	ex := New(3)
	ex.Store(1, []int32{1, 2, 0})
	ex.Store(2, []int32{3, 4, 0})
	ex.Store(3, []int32{5, 6, 0})

	buf, ok := ex.FetchFor(1)
	if !ok {
		t.Fatal("expected a batch for W1")
	}
	if diff := cmp.Diff([]int32{3, 4, 0}, buf); diff != "" {
		t.Fatalf("expected W2's batch first (-want +got):\n%s", diff)
	}

	buf, ok = ex.FetchFor(1)
	if !ok {
		t.Fatal("expected a second batch for W1")
	}
	if diff := cmp.Diff([]int32{5, 6, 0}, buf); diff != "" {
		t.Fatalf("expected W3's batch next (-want +got):\n%s", diff)
	}

	_, ok = ex.FetchFor(1)
	if ok {
		t.Fatal("expected no more batches for W1")
	}

	ex.Store(2, []int32{7, 8, 0})
	buf, ok = ex.FetchFor(1)
	if !ok {
		t.Fatal("expected W2's fresh batch after re-store")
	}
	if diff := cmp.Diff([]int32{7, 8, 0}, buf); diff != "" {
		t.Fatalf("expected W2's fresh batch after re-store (-want +got):\n%s", diff)
	}
}

// Invariant 4 — non-echo: FetchFor never returns a buffer whose producer
// is the requesting worker.
func TestNeverEchoesOwnBatch(t *testing.T) {
	ex := New(2)
	ex.Store(1, []int32{1})
	ex.Store(2, []int32{2})

	for i := 0; i < 10; i++ {
		buf, ok := ex.FetchFor(1)
		if ok && buf[0] == 1 {
			t.Fatal("worker 1 received its own batch")
		}
		if !ok {
			break
		}
	}
}

func TestNeverReceivesSameBatchTwice(t *testing.T) {
	ex := New(3)
	ex.Store(2, []int32{9})
	ex.Store(3, []int32{10})

	seen := map[int32]int{}
	for i := 0; i < 5; i++ {
		buf, ok := ex.FetchFor(1)
		if !ok {
			break
		}
		seen[buf[0]]++
	}
	for lit, count := range seen {
		if count > 1 {
			t.Fatalf("literal %d delivered %d times to the same worker", lit, count)
		}
	}
}

func TestFetchForEmptyExchangeReturnsFalse(t *testing.T) {
	ex := New(3)
	if _, ok := ex.FetchFor(1); ok {
		t.Fatal("expected no batch available")
	}
}
