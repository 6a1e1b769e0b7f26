// Package forwarder implements the bidirectional byte-forwarding engine
// and the live-session index it shares with the cleanup task. Each
// EndPoint is served by a pair of goroutines — a reader that drains its own
// fd into the peer's queue, and a writer that drains its own queue into its
// own fd. The Go runtime's netpoller already provides the non-blocking
// readiness multiplexing this needs, so there is no reason to hand-roll an
// epoll loop on top of it.
package forwarder

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/santazhang/vncproxy/internal/metrics"
	"github.com/santazhang/vncproxy/internal/ringbuf"
)

const (
	// defaultReadBufSize is the fixed chunk size read per Read call.
	defaultReadBufSize = 32 * 1024
	// defaultSoftCapBytes is the queue size above which a reader backs
	// off instead of piling more data onto a peer that isn't draining.
	defaultSoftCapBytes = 1 << 20
	// backpressurePoll is how often a throttled reader rechecks whether
	// the peer's queue has drained below the soft cap.
	backpressurePoll = 5 * time.Millisecond
)

// Options configures an Engine's buffering and backpressure behavior.
type Options struct {
	ReadBufSize  int
	SoftCapBytes int
	Logger       zerolog.Logger
}

// Engine drives every forwarding pair tied through it and owns the
// live-session index those pairs register with.
type Engine struct {
	index   *Index
	readBuf int
	softCap int
	logger  zerolog.Logger
}

// NewEngine builds an Engine backed by index, applying defaults for any zero
// fields in opts.
func NewEngine(index *Index, opts Options) *Engine {
	if opts.ReadBufSize <= 0 {
		opts.ReadBufSize = defaultReadBufSize
	}
	if opts.SoftCapBytes <= 0 {
		opts.SoftCapBytes = defaultSoftCapBytes
	}
	return &Engine{
		index:   index,
		readBuf: opts.ReadBufSize,
		softCap: opts.SoftCapBytes,
		logger:  opts.Logger,
	}
}

// Index returns the engine's live-session index, for the cleanup task.
func (e *Engine) Index() *Index { return e.index }

// Tie atomically creates a session pair from two already-authenticated,
// already-handshaked connections, inserts the leader into the live-session
// index under forwardKey, and starts forwarding. clientConn becomes the
// leader. The caller owns nothing further about the lifecycle; the pair
// tears itself down when either side closes, whether that happens on a
// normal socket error or via Shutdown from the cleanup sweep — either path
// runs pair.teardown exactly once, which is also where LiveSessions is
// decremented to balance the Inc below.
func (e *Engine) Tie(clientConn, upstreamConn net.Conn, forwardKey []byte) *EndPoint {
	p := &pair{index: e.index, onTorn: metrics.LiveSessions.Dec}

	leader := &EndPoint{
		conn:       clientConn,
		leader:     true,
		forwardKey: append([]byte(nil), forwardKey...),
		pair:       p,
		queue:      ringbuf.New(),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	follower := &EndPoint{
		conn:  upstreamConn,
		pair:  p,
		queue: ringbuf.New(),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	leader.peer = follower
	follower.peer = leader

	// follower.queue is fed by the leader's (client's) reader, so its
	// reallocations are client->upstream traffic; leader.queue is the
	// reverse.
	follower.queue.SetReallocObserver(func() {
		metrics.RingBufferReallocationsTotal.WithLabelValues("client_to_upstream").Inc()
	})
	leader.queue.SetReallocObserver(func() {
		metrics.RingBufferReallocationsTotal.WithLabelValues("upstream_to_client").Inc()
	})

	e.index.Insert(leader.forwardKey, leader)
	metrics.LiveSessions.Inc()

	go e.runReader(leader)
	go e.runWriter(leader)
	go e.runReader(follower)
	go e.runWriter(follower)

	return leader
}

// runReader reads from ep's own fd and appends everything it reads to
// ep.peer's queue, applying backpressure when that queue backs up.
func (e *Engine) runReader(ep *EndPoint) {
	buf := make([]byte, e.readBuf)
	for {
		select {
		case <-ep.done:
			return
		default:
		}

		n, err := ep.conn.Read(buf)
		if n > 0 {
			ep.peer.queue.Append(buf[:n])
			ep.peer.signalWritable()
			e.waitForRoom(ep)
		}
		if err != nil {
			ep.onIOError()
			return
		}
	}
}

// waitForRoom suspends ep's reader while its peer's outbound queue stays
// above the soft cap — the backpressure behavior needed when a
// writer can't keep up.
func (e *Engine) waitForRoom(ep *EndPoint) {
	if e.softCap <= 0 {
		return
	}
	for ep.peer.queue.Size() > e.softCap {
		select {
		case <-ep.done:
			return
		case <-ep.peer.done:
			return
		case <-time.After(backpressurePoll):
		}
	}
}

// runWriter drains ep's own queue into ep's own fd whenever woken.
func (e *Engine) runWriter(ep *EndPoint) {
	for {
		select {
		case <-ep.done:
			return
		case <-ep.wake:
		}

		for {
			n := ep.queue.Size()
			if n == 0 {
				break
			}
			chunk := n
			if chunk > e.readBuf {
				chunk = e.readBuf
			}
			data := ep.queue.Fetch(chunk)
			if len(data) == 0 {
				break
			}
			if _, err := ep.conn.Write(data); err != nil {
				ep.onIOError()
				return
			}
		}
	}
}
