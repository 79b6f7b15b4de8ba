package transport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rawblock/distsat/internal/wire"
)

// coordinatorID is the fixed peer id the coordinator process always
// uses; every worker's only counterparty.
const coordinatorID = 0

// Peer is the worker-side endpoint: a single WebSocket connection to
// the coordinator, with the same tagged-inbox shape as Hub so the
// worker driver can use the same receive/probe vocabulary.
type Peer struct {
	id   int
	conn *websocket.Conn

	writeMu sync.Mutex

	inboxMu sync.Mutex
	inbox   map[wire.Tag]chan envelope

	aborted chan struct{}
	once    sync.Once
}

// Dial connects worker `id` to the coordinator at addr (e.g.
// "ws://coordinator:8080/distsat/v1/link"), appending the worker id as
// a query parameter the way the teacher's dashboard clients identify
// themselves to the Hub.
func Dial(addr string, id int) (*Peer, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bad coordinator address %q: %w", addr, err)
	}
	q := u.Query()
	q.Set("id", strconv.Itoa(id))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing coordinator: %w", err)
	}

	p := &Peer{
		id:      id,
		conn:    conn,
		inbox:   make(map[wire.Tag]chan envelope),
		aborted: make(chan struct{}),
	}
	go p.readPump()
	return p, nil
}

func (p *Peer) readPump() {
	defer p.signalAbort()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := decodeFrame(data)
		if err != nil {
			continue
		}
		framesReceived.WithLabelValues(env.Tag.String()).Inc()
		if env.Tag == wire.AbortTag {
			p.signalAbort()
			return
		}
		p.ensureInbox(env.Tag) <- env
	}
}

func (p *Peer) signalAbort() {
	p.once.Do(func() { close(p.aborted) })
}

func (p *Peer) ensureInbox(tag wire.Tag) chan envelope {
	p.inboxMu.Lock()
	defer p.inboxMu.Unlock()
	ch, ok := p.inbox[tag]
	if !ok {
		ch = make(chan envelope, 256)
		p.inbox[tag] = ch
	}
	return ch
}

// Send writes payload to the coordinator under the given tag.
func (p *Peer) Send(tag wire.Tag, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, encodeFrame(p.id, tag, payload)); err != nil {
		return fmt.Errorf("transport: send to coordinator: %w", err)
	}
	framesSent.WithLabelValues(tag.String()).Inc()
	return nil
}

// Receive blocks for a frame tagged `tag` from the coordinator, or
// until ctx is done, or until an abort arrives.
func (p *Peer) Receive(ctx context.Context, tag wire.Tag) ([]byte, error) {
	ch := p.ensureInbox(tag)
	select {
	case env := <-ch:
		return env.Payload, nil
	case <-p.aborted:
		return nil, fmt.Errorf("transport: aborted")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Probe performs a non-blocking check for a frame tagged `tag`.
func (p *Peer) Probe(tag wire.Tag) ([]byte, bool) {
	ch := p.ensureInbox(tag)
	select {
	case env := <-ch:
		return env.Payload, true
	default:
		return nil, false
	}
}

// Aborted returns a channel that is closed once the coordinator has
// broadcast an abort or the connection to it has ended.
func (p *Peer) Aborted() <-chan struct{} { return p.aborted }

// Close closes the connection to the coordinator.
func (p *Peer) Close() error { return p.conn.Close() }
