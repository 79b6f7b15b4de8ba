package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/distsat/internal/wire"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(nil)
	srv := httptest.NewServer(h.Router("/link"))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { h.Close() })
	return h, srv
}

func dialTestPeer(t *testing.T, srv *httptest.Server, id int) *Peer {
	t.Helper()
	addr := "ws" + strings.TrimPrefix(srv.URL, "http") + "/link"
	p, err := Dial(addr, id)
	if err != nil {
		t.Fatalf("dialing test hub: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func waitConnected(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Connected() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connections, have %d", n, h.Connected())
}

func TestHubSendReachesPeer(t *testing.T) {
	h, srv := newTestHub(t)
	peer := dialTestPeer(t, srv, 1)
	waitConnected(t, h, 1)

	if err := h.Send(1, wire.JobTag, wire.EncodeLiterals([]int32{1, -2, 0})); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, err := peer.Receive(ctx, wire.JobTag)
	if err != nil {
		t.Fatal(err)
	}
	lits, err := wire.DecodeLiterals(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(lits) != 3 || lits[0] != 1 || lits[1] != -2 || lits[2] != 0 {
		t.Fatalf("got %v", lits)
	}
}

func TestHubReceiveAnyFromMultiplePeers(t *testing.T) {
	h, srv := newTestHub(t)
	p1 := dialTestPeer(t, srv, 1)
	p2 := dialTestPeer(t, srv, 2)
	waitConnected(t, h, 2)

	if err := p2.Send(wire.ResultTag, []byte("from-two")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	from, payload, err := h.ReceiveAny(ctx, wire.ResultTag)
	if err != nil {
		t.Fatal(err)
	}
	if from != 2 || string(payload) != "from-two" {
		t.Fatalf("got from=%d payload=%q", from, payload)
	}
	_ = p1
}

func TestHubBroadcastAbortSignalsPeer(t *testing.T) {
	h, srv := newTestHub(t)
	peer := dialTestPeer(t, srv, 1)
	waitConnected(t, h, 1)

	if err := h.BroadcastAbort(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-peer.Aborted():
	case <-time.After(time.Second):
		t.Fatal("peer did not observe the abort")
	}
}

func TestPeerProbeNonBlocking(t *testing.T) {
	_, srv := newTestHub(t)
	peer := dialTestPeer(t, srv, 1)

	if _, ok := peer.Probe(wire.LearntTag); ok {
		t.Fatal("expected no pending frame")
	}
}
