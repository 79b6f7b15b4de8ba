package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rawblock/distsat/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var (
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distsat_transport_frames_sent_total",
		Help: "Frames written to a peer connection, by tag.",
	}, []string{"tag"})
	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distsat_transport_frames_received_total",
		Help: "Frames read from a peer connection, by tag.",
	}, []string{"tag"})
)

// Hub is the coordinator-side endpoint of the substrate: one WebSocket
// connection per worker, a gin route to accept them, and a per-tag
// inbox that accumulates frames from every connected worker — adapted
// from the teacher's broadcast Hub (internal/api/websocket.go) into a
// point-to-point, tagged messaging hub instead of a single broadcast
// channel.
type Hub struct {
	log *logrus.Logger

	mu    sync.Mutex
	conns map[int]*websocket.Conn

	inboxMu sync.Mutex
	inbox   map[wire.Tag]*tagInbox
}

// NewHub allocates a Hub ready to accept worker connections.
func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.New()
	}
	return &Hub{
		log:   log,
		conns: make(map[int]*websocket.Conn),
		inbox: make(map[wire.Tag]*tagInbox),
	}
}

// tagInbox holds every frame received for one tag across all workers, in
// arrival order. Receive (source-specific) and ReceiveAny/ProbeAny
// (any-source) share the same queue: a frame that doesn't match a
// pending Receive's source simply stays queued for the next matching
// pop instead of being dropped, so a strictly-sourced wait can never
// swallow a frame another call is waiting for.
type tagInbox struct {
	mu     sync.Mutex
	queue  []envelope
	notify chan struct{}
}

func newTagInbox() *tagInbox {
	return &tagInbox{notify: make(chan struct{})}
}

func (b *tagInbox) push(env envelope) {
	b.mu.Lock()
	b.queue = append(b.queue, env)
	old := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// popFrom removes and returns the oldest queued frame from the given
// source, leaving frames from other sources in place.
func (b *tagInbox) popFrom(from int) (envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, env := range b.queue {
		if env.From == from {
			b.queue = append(b.queue[:i:i], b.queue[i+1:]...)
			return env, true
		}
	}
	return envelope{}, false
}

// popAny removes and returns the oldest queued frame regardless of source.
func (b *tagInbox) popAny() (envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return envelope{}, false
	}
	env := b.queue[0]
	b.queue = b.queue[1:]
	return env, true
}

// wait returns the channel that closes the next time a frame is pushed.
func (b *tagInbox) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notify
}

// Router builds the gin engine that serves the WebSocket upgrade
// endpoint and a Prometheus /metrics endpoint, mirroring the teacher's
// SetupRouter wiring style.
func (h *Hub) Router(path string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(path, h.handleUpgrade)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func (h *Hub) handleUpgrade(c *gin.Context) {
	id, err := strconv.Atoi(c.Query("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid worker id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("transport: websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
	h.log.WithField("worker", id).Info("transport: worker connected")

	go h.readPump(id, conn)
}

func (h *Hub) readPump(id int, conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, id)
		h.mu.Unlock()
		conn.Close()
		h.log.WithField("worker", id).Info("transport: worker disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).WithField("worker", id).Warn("transport: read error")
			}
			return
		}
		env, err := decodeFrame(data)
		if err != nil {
			h.log.WithError(err).WithField("worker", id).Warn("transport: malformed frame")
			continue
		}
		env.From = id
		framesReceived.WithLabelValues(env.Tag.String()).Inc()
		h.deliver(env)
	}
}

func (h *Hub) ensureInbox(tag wire.Tag) *tagInbox {
	h.inboxMu.Lock()
	defer h.inboxMu.Unlock()
	box, ok := h.inbox[tag]
	if !ok {
		box = newTagInbox()
		h.inbox[tag] = box
	}
	return box
}

func (h *Hub) deliver(env envelope) {
	h.ensureInbox(env.Tag).push(env)
}

// Send writes payload to worker `to` under the given tag.
func (h *Hub) Send(to int, tag wire.Tag, payload []byte) error {
	h.mu.Lock()
	conn, ok := h.conns[to]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no connection to worker %d", to)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(0, tag, payload)); err != nil {
		return fmt.Errorf("transport: send to worker %d: %w", to, err)
	}
	framesSent.WithLabelValues(tag.String()).Inc()
	return nil
}

// BroadcastAbort sends an AbortTag frame to every connected worker,
// realizing broadcast-abort over a connection-oriented transport (the
// abstract protocol in spec.md §6 assumes an out-of-band abort signal).
func (h *Hub) BroadcastAbort() error {
	h.mu.Lock()
	targets := make([]int, 0, len(h.conns))
	for id := range h.conns {
		targets = append(targets, id)
	}
	h.mu.Unlock()

	var firstErr error
	for _, id := range targets {
		if err := h.Send(id, wire.AbortTag, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Receive blocks until a frame tagged `tag` from worker `from` arrives,
// or ctx is done. Frames from other workers queued ahead of it are left
// in place for their own Receive/ReceiveAny/ProbeAny callers rather than
// discarded, so an interleaved result stream from several workers on
// the same tag can't lose a frame to the wrong wait.
func (h *Hub) Receive(ctx context.Context, from int, tag wire.Tag) ([]byte, error) {
	box := h.ensureInbox(tag)
	for {
		// Capture the wake-up channel before checking the queue: a push
		// that lands between the check and the wait must close the same
		// channel we're about to select on, or the wake-up is lost.
		ch := box.wait()
		if env, ok := box.popFrom(from); ok {
			return env.Payload, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ReceiveAny blocks until a frame tagged `tag` arrives from any worker.
func (h *Hub) ReceiveAny(ctx context.Context, tag wire.Tag) (int, []byte, error) {
	box := h.ensureInbox(tag)
	for {
		ch := box.wait()
		if env, ok := box.popAny(); ok {
			return env.From, env.Payload, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
}

// ProbeAny performs a non-blocking check for a frame tagged `tag` from
// any worker.
func (h *Hub) ProbeAny(tag wire.Tag) (int, []byte, bool) {
	box := h.ensureInbox(tag)
	env, ok := box.popAny()
	return env.From, env.Payload, ok
}

// Close shuts down every worker connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.Close()
		delete(h.conns, id)
	}
	return nil
}

// Connected reports how many workers currently hold an open connection.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
